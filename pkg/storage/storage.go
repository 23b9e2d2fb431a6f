package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"addipath/pkg/models"
)

var (
	ErrConnectDB       = fmt.Errorf("unable to establish DB connection")
	ErrDBNotResponding = fmt.Errorf("DB not responding")

	ErrTopicNotFound  = fmt.Errorf("topic not found")
	ErrPostNotFound   = fmt.Errorf("post not found")
	ErrReplyNotFound  = fmt.Errorf("reply not found")
	ErrParentNotFound = fmt.Errorf("parent reply not found")
	ErrInvalidReply   = fmt.Errorf("invalid reply")
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// PostFilter selects a page of posts, newest first. Zero TopicID and empty
// Contains match every post.
type PostFilter struct {
	TopicID  uuid.UUID
	Contains string
	Page     int
	Limit    int
}

// Normalize clamps page and limit to their defaults and bounds.
func (f PostFilter) Normalize() PostFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	f.Contains = strings.TrimSpace(f.Contains)
	return f
}

func (f PostFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// NumPages returns the number of pages needed for total items.
func NumPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

type Storage interface {
	Topics(ctx context.Context) ([]models.Topic, error)
	Topic(ctx context.Context, id uuid.UUID) (models.Topic, error)
	AddTopic(ctx context.Context, topic models.Topic) (models.Topic, error)
	UpdateTopic(ctx context.Context, topic models.Topic) error
	DeleteTopic(ctx context.Context, id uuid.UUID) error

	Posts(ctx context.Context, filter PostFilter) (posts []models.Post, numPages int, err error)
	Post(ctx context.Context, id uuid.UUID) (models.Post, error)
	AddPost(ctx context.Context, post models.Post) (models.Post, error)

	Replies(ctx context.Context, postID uuid.UUID, viewerID string) ([]*models.Reply, error)
	AddReply(ctx context.Context, reply models.NewReply) (*models.Reply, error)
	ToggleLike(ctx context.Context, replyID uuid.UUID, userID string) (models.LikeState, error)

	SetBanned(ctx context.Context, userID string, banned bool) error
	IsBanned(ctx context.Context, userID string) (bool, error)
}

// DefaultTopics are the topics a fresh forum starts with.
func DefaultTopics() []models.Topic {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	topics := []models.Topic{
		{Title: "General Discussion", Description: "General discussions about living with Addison's Disease"},
		{Title: "Medication Management", Description: "Discuss medication schedules, dosages, and experiences"},
		{Title: "Daily Living", Description: "Share tips and strategies for daily life with Addison's"},
		{Title: "Support Network", Description: "Connect with others in the Addison's community"},
	}
	for i := range topics {
		topics[i].ID = uuid.NewV5(uuid.NamespaceURL, "topic/"+topics[i].Title)
		topics[i].CreatedAt = created
	}
	return topics
}

// NewReplyRecord validates a create-reply request and turns it into a stored
// reply with a fresh ID and creation time. Parent existence is checked by the
// backend.
func NewReplyRecord(nr models.NewReply) (*models.Reply, error) {
	if nr.PostID == uuid.Nil {
		return nil, fmt.Errorf("%w: post id not provided", ErrInvalidReply)
	}
	content := strings.TrimSpace(nr.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidReply)
	}
	if nr.AuthorID == "" {
		return nil, fmt.Errorf("%w: author not provided", ErrInvalidReply)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	return &models.Reply{
		ID:         id,
		PostID:     nr.PostID,
		ParentID:   nr.ParentID,
		AuthorID:   nr.AuthorID,
		AuthorName: nr.AuthorName,
		Content:    content,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}, nil
}
