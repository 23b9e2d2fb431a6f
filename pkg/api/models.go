package api

import (
	"github.com/gofrs/uuid"

	"addipath/pkg/models"
)

type Pagination struct {
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	Limit       int `json:"limit"`
}

type PostsResponse struct {
	Posts      []models.Post `json:"posts"`
	Pagination Pagination    `json:"pagination"`
}

// ReplyRequest is the body of a create-reply request. The post comes from the
// path and the author from the user headers.
type ReplyRequest struct {
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Content  string     `json:"content"`
}

type BanRequest struct {
	Banned *bool `json:"banned" validate:"required"`
}

type BanState struct {
	UserID string `json:"user_id"`
	Banned bool   `json:"banned"`
}
