package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type Topic struct {
	ID          uuid.UUID `bson:"_id" json:"id"`
	Title       string    `bson:"title" json:"title" validate:"required,max=120"`
	Description string    `bson:"description" json:"description" validate:"max=500"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	PostsCount  int       `bson:"posts_count" json:"posts_count"`
}

type Post struct {
	ID           uuid.UUID `bson:"_id" json:"id"`
	TopicID      uuid.UUID `bson:"topic_id" json:"topic_id" validate:"required"`
	AuthorID     string    `bson:"author_id" json:"author_id"`
	AuthorName   string    `bson:"author_name" json:"author_name"`
	Title        string    `bson:"title" json:"title" validate:"required,max=200"`
	Content      string    `bson:"content" json:"content" validate:"required"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	RepliesCount int       `bson:"replies_count" json:"replies_count"`
}

// Reply is a single reply to a discussion post. Children is only populated by
// thread.BuildTree and is never persisted.
type Reply struct {
	ID                 uuid.UUID  `bson:"_id" json:"id"`
	PostID             uuid.UUID  `bson:"post_id" json:"post_id"`
	ParentID           *uuid.UUID `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	AuthorID           string     `bson:"author_id" json:"author_id"`
	AuthorName         string     `bson:"author_name" json:"author_name"`
	Content            string     `bson:"content" json:"content"`
	CreatedAt          time.Time  `bson:"created_at" json:"created_at"`
	LikeCount          int        `bson:"like_count" json:"like_count"`
	LikedByCurrentUser bool       `bson:"-" json:"liked_by_current_user"`
	Children           []*Reply   `bson:"-" json:"children,omitempty"`
}

// NewReply is the input of a create-reply call.
type NewReply struct {
	PostID     uuid.UUID  `json:"post_id"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	AuthorID   string     `json:"author_id" validate:"required"`
	AuthorName string     `json:"author_name"`
	Content    string     `json:"content" validate:"required,max=10000"`
}

// LikeState is the authoritative like state of a reply for one viewer.
type LikeState struct {
	ReplyID   uuid.UUID `json:"reply_id"`
	Liked     bool      `json:"liked"`
	LikeCount int       `json:"like_count"`
}

// LogEntry is a single HTTP request record shipped to Kafka.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration_sec"`
	Service    string    `json:"service"`
}
