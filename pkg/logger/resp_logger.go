// Package logger provides an http.ResponseWriter wrapper that records what the
// handler wrote, for request logging and metrics.
package logger

import "net/http"

type ResponseLogger struct {
	w       http.ResponseWriter
	status  int
	written int
	wrote   bool
}

func New(w http.ResponseWriter) *ResponseLogger {
	return &ResponseLogger{w: w, status: http.StatusOK}
}

// WriteHeader records the first status code sent. Later calls are passed
// through so net/http can report the superfluous call.
func (l *ResponseLogger) WriteHeader(code int) {
	if !l.wrote {
		l.status = code
		l.wrote = true
	}
	l.w.WriteHeader(code)
}

func (l *ResponseLogger) Write(b []byte) (int, error) {
	l.wrote = true
	n, err := l.w.Write(b)
	l.written += n
	return n, err
}

func (l *ResponseLogger) Header() http.Header {
	return l.w.Header()
}

// Status returns the status code sent to the client.
func (l *ResponseLogger) Status() int {
	return l.status
}

// Written returns the number of body bytes sent to the client.
func (l *ResponseLogger) Written() int {
	return l.written
}
