package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/models"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	exitCode := m.Run()
	os.Exit(exitCode)
}

// fakeES records the documents indexed through it.
type fakeES struct {
	mu      sync.Mutex
	docs    map[string][]byte
	fail    bool
	indexed chan string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if f.fail {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"boom"}`)
		return
	}

	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.docs[r.Method+" "+r.URL.Path] = b
	f.mu.Unlock()
	if f.indexed != nil {
		f.indexed <- r.URL.Path
	}

	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, `{"result":"created"}`)
}

func testES(t *testing.T, f *fakeES) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("failed to create elasticsearch client: %v", err)
	}
	return es
}

func testEntry() models.LogEntry {
	return models.LogEntry{
		Timestamp:  time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		IP:         "10.0.0.1",
		StatusCode: http.StatusCreated,
		RequestID:  "3f1c2a9e-5b7d-4e8f-a0b1-c2d3e4f5a6b7",
		Method:     http.MethodPost,
		Path:       "/posts",
		Duration:   0.012,
		Service:    "forum",
	}
}

func Test_documentID(t *testing.T) {
	entry := testEntry()
	if got, want := documentID(entry), "forum3f1c2a9e-5b7d-4e8f-a0b1-c2d3e4f5a6b7"; got != want {
		t.Errorf("want document id %q, got %q", want, got)
	}
}

func Test_indexEntry(t *testing.T) {
	f := &fakeES{docs: make(map[string][]byte)}
	es := testES(t, f)

	value, _ := json.Marshal(testEntry())
	entry, err := indexEntry(context.Background(), es, "forum-logs", value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.RequestID != testEntry().RequestID {
		t.Errorf("want request id %q, got %q", testEntry().RequestID, entry.RequestID)
	}

	doc, ok := f.docs["PUT /forum-logs/_doc/"+documentID(entry)]
	if !ok {
		t.Fatalf("want document indexed under its id, got %v", f.docs)
	}
	if string(doc) != string(value) {
		t.Errorf("want body %s, got %s", value, doc)
	}
}

func Test_indexEntryErrors(t *testing.T) {
	tests := []struct {
		name  string
		value string
		fail  bool
	}{
		{name: "malformed JSON", value: `{"request_id":`},
		{name: "missing request id", value: `{"service":"forum"}`},
		{name: "elasticsearch error", value: `{"service":"forum","request_id":"abc"}`, fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := testES(t, &fakeES{docs: make(map[string][]byte), fail: tt.fail})
			if _, err := indexEntry(context.Background(), es, "forum-logs", []byte(tt.value)); err == nil {
				t.Error("want error")
			}
		})
	}
}

func Test_logWorker(t *testing.T) {
	f := &fakeES{docs: make(map[string][]byte)}
	es := testES(t, f)

	jobs := make(chan kafka.Message, 3)
	for _, id := range []string{"req-1", "req-2"} {
		entry := testEntry()
		entry.RequestID = id
		value, _ := json.Marshal(entry)
		jobs <- kafka.Message{Value: value}
	}
	jobs <- kafka.Message{Value: []byte("garbage")}
	close(jobs)

	done := make(chan struct{})
	go func() {
		logWorker(context.Background(), es, jobs, "forum-logs", 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after jobs channel was closed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.docs) != 2 {
		t.Errorf("want 2 indexed documents, got %d", len(f.docs))
	}
}

// fakeReader hands out its messages in order, failing once first when err is set,
// and then blocks until the context is cancelled.
type fakeReader struct {
	mu   sync.Mutex
	err  error
	msgs []kafka.Message
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.err != nil {
		err := f.err
		f.err = nil
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.msgs) > 0 {
		msg := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func Test_consume(t *testing.T) {
	ids := []string{"req-1", "req-2", "req-3", "req-4"}
	f := &fakeES{docs: make(map[string][]byte), indexed: make(chan string, len(ids))}
	es := testES(t, f)

	r := &fakeReader{err: errors.New("broker unavailable")}
	for _, id := range ids {
		entry := testEntry()
		entry.RequestID = id
		value, _ := json.Marshal(entry)
		r.msgs = append(r.msgs, kafka.Message{Value: value})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		consume(ctx, r, es, "forum-logs", 2)
		close(done)
	}()

	for range ids {
		select {
		case <-f.indexed:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for log entries to be indexed")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		entry := testEntry()
		entry.RequestID = id
		if _, ok := f.docs["PUT /forum-logs/_doc/"+documentID(entry)]; !ok {
			t.Errorf("want entry %s indexed, got %v", id, f.docs)
		}
	}
}

func TestConfig(t *testing.T) {
	cfg, err := loadConfig("config.toml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("want shipped config valid, got %v", err)
	}
	if cfg.Level() != log.InfoLevel {
		t.Errorf("want info level, got %v", cfg.Level())
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "zero workers", modify: func(c *Config) { c.NumWorkers = 0 }},
		{name: "no brokers", modify: func(c *Config) { c.KafkaBrokers = nil }},
		{name: "no index", modify: func(c *Config) { c.ElasticSearchIndex = "" }},
		{name: "unknown log level", modify: func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			tt.modify(&c)
			if err := c.Validate(); err == nil {
				t.Error("want error")
			}
		})
	}

	if _, err := loadConfig("missing.toml"); err == nil {
		t.Error("want error for missing config file")
	}
}

func Test_shorten(t *testing.T) {
	if got := shorten("abcdefgh"); got != "abcdef..." {
		t.Errorf("want %q, got %q", "abcdef...", got)
	}
	if got := shorten("abc"); got != "abc" {
		t.Errorf("want %q, got %q", "abc", got)
	}
}
