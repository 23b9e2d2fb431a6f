// Package client talks to the forum HTTP API. Client implements
// thread.Collaborator so a thread.View can be driven over the network.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"addipath/pkg/models"
	"addipath/pkg/thread"
)

const (
	DefaultTimeout = 5 * time.Second

	headerRequestID = "X-Request-Id"
	headerUserID    = "X-User-Id"
	headerUserName  = "X-User-Name"

	maxErrorBody = 512
)

var _ thread.Collaborator = (*Client)(nil)

type Client struct {
	base *url.URL
	http *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid forum service URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid forum service URL %q: scheme and host required", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

type ctxKeyRequestID struct{}

// WithRequestID returns a context whose outgoing requests carry the given
// X-Request-Id.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, reqID)
}

// Post fetches a single post.
func (c *Client) Post(ctx context.Context, id uuid.UUID) (models.Post, error) {
	var post models.Post
	err := c.do(ctx, http.MethodGet, "post", c.path("posts", id.String()), "", nil, &post)
	return post, err
}

// Replies fetches the flat reply list of a post as seen by viewerID.
func (c *Client) Replies(ctx context.Context, postID uuid.UUID, viewerID string) ([]*models.Reply, error) {
	var replies []*models.Reply
	err := c.do(ctx, http.MethodGet, "post", c.path("posts", postID.String(), "replies"), viewerID, nil, &replies)
	return replies, err
}

type replyBody struct {
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Content  string     `json:"content"`
}

// CreateReply persists a reply. A 409 answer is reported as
// thread.ErrParentNotFound.
func (c *Client) CreateReply(ctx context.Context, nr models.NewReply) (*models.Reply, error) {
	body := replyBody{ParentID: nr.ParentID, Content: nr.Content}
	header := http.Header{}
	if nr.AuthorName != "" {
		header.Set(headerUserName, nr.AuthorName)
	}

	var reply models.Reply
	err := c.doWithHeader(ctx, http.MethodPost, "post", c.path("posts", nr.PostID.String(), "replies"), nr.AuthorID, header, body, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// ToggleLike flips the like of viewerID on a reply and returns the
// authoritative state.
func (c *Client) ToggleLike(ctx context.Context, replyID uuid.UUID, viewerID string) (models.LikeState, error) {
	var state models.LikeState
	err := c.do(ctx, http.MethodPost, "reply", c.path("replies", replyID.String(), "like"), viewerID, nil, &state)
	return state, err
}

// Thread fetches a post and its reply tree concurrently.
func (c *Client) Thread(ctx context.Context, postID uuid.UUID, viewerID string) (models.Post, []*models.Reply, error) {
	var (
		post    models.Post
		replies []*models.Reply
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		post, err = c.Post(gctx, postID)
		return err
	})
	g.Go(func() error {
		var err error
		replies, err = c.Replies(gctx, postID, viewerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Post{}, nil, err
	}

	return post, thread.BuildTree(replies), nil
}

func (c *Client) path(elem ...string) string {
	return c.base.JoinPath(elem...).String()
}

func (c *Client) do(ctx context.Context, method, resource, target, userID string, body, result any) error {
	return c.doWithHeader(ctx, method, resource, target, userID, nil, body, result)
}

func (c *Client) doWithHeader(ctx context.Context, method, resource, target, userID string, header http.Header, body, result any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return fmt.Errorf("error creating request to forum service: %w", err)
	}
	req.Header = cloneHeaderNoHop(header)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	if reqID, ok := ctx.Value(ctxKeyRequestID{}).(string); ok && reqID != "" {
		req.Header.Set(headerRequestID, reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error calling forum service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &ErrNotFound{Resource: resource, Path: req.URL.Path}
	case resp.StatusCode == http.StatusConflict:
		return thread.ErrParentNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ErrStatus{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("error decoding response from forum service: %w", err)
	}

	log.Debugf("[client] %s %s -> %d", method, req.URL.Path, resp.StatusCode)
	return nil
}

func cloneHeaderNoHop(header http.Header) http.Header {
	hopByHopHeaders := []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"TE",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade",
	}

	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, key := range hopByHopHeaders {
		h.Del(key)
	}
	return h
}
