package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/models"
)

var (
	ErrReplyNotApplied = fmt.Errorf("reply was not applied, please retry")
	ErrEmptyContent    = fmt.Errorf("reply content is empty")
)

// Collaborator is the source of truth for replies of a post.
type Collaborator interface {
	Replies(ctx context.Context, postID uuid.UUID, viewerID string) ([]*models.Reply, error)
	CreateReply(ctx context.Context, reply models.NewReply) (*models.Reply, error)
	ToggleLike(ctx context.Context, replyID uuid.UUID, viewerID string) (models.LikeState, error)
}

type Viewer struct {
	ID   string
	Name string
}

// View owns the reply tree of one post as seen by one viewer. Local mutations are
// optimistic; Load replaces the tree with the collaborator's state.
type View struct {
	PostID uuid.UUID
	Viewer Viewer

	c        Collaborator
	mu       sync.Mutex
	tree     []*models.Reply
	loadedAt time.Time
}

func NewView(c Collaborator, postID uuid.UUID, viewer Viewer) *View {
	return &View{PostID: postID, Viewer: viewer, c: c}
}

// Load fetches the flat reply list and rebuilds the tree. On failure the
// previous tree stays in place.
func (v *View) Load(ctx context.Context) error {
	flat, err := v.c.Replies(ctx, v.PostID, v.Viewer.ID)
	if err != nil {
		return fmt.Errorf("failed to load replies of post %v: %w", v.PostID, err)
	}

	for _, r := range flat {
		if r.PostID != v.PostID {
			log.Warnf("[view] reply %v belongs to post %v, not %v", r.ID, r.PostID, v.PostID)
		}
	}

	tree := BuildTree(flat)

	v.mu.Lock()
	v.tree = tree
	v.loadedAt = time.Now()
	v.mu.Unlock()

	log.Debugf("[view] post %v loaded with %d replies", v.PostID, len(flat))
	return nil
}

// Reply persists a new reply and inserts it into the local tree. A nil parentID
// creates a top-level reply. Errors wrapping ErrReplyNotApplied mean the user's
// submission is not shown and should be retried. The returned reply is a copy
// that does not alias the tree.
func (v *View) Reply(ctx context.Context, parentID *uuid.UUID, content string) (*models.Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	if parentID != nil {
		v.mu.Lock()
		parent := Find(v.tree, *parentID)
		v.mu.Unlock()
		if parent == nil {
			return nil, fmt.Errorf("%w: %w", ErrReplyNotApplied, ErrParentNotFound)
		}
	}

	reply, err := v.c.CreateReply(ctx, models.NewReply{
		PostID:     v.PostID,
		ParentID:   parentID,
		AuthorID:   v.Viewer.ID,
		AuthorName: v.Viewer.Name,
		Content:    content,
	})
	if err != nil {
		if errors.Is(err, ErrParentNotFound) {
			// The parent is gone on the collaborator side, the local tree is stale.
			if lerr := v.Load(ctx); lerr != nil {
				log.Warnf("[view] failed to reload post %v: %v", v.PostID, lerr)
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrReplyNotApplied, err)
	}

	out := *reply

	v.mu.Lock()
	v.tree, err = InsertReply(v.tree, reply, parentID)
	v.mu.Unlock()

	if errors.Is(err, ErrParentNotFound) {
		// The tree was replaced while the reply was being persisted.
		if lerr := v.Load(ctx); lerr != nil {
			return nil, fmt.Errorf("%w: %w", ErrReplyNotApplied, lerr)
		}
	}

	return &out, nil
}

// Like toggles the viewer's like on a reply. The local tree is updated first and
// then reconciled with the collaborator's answer, or rolled back if the call
// fails. A reply that is not in the tree is a no-op and reports false.
func (v *View) Like(ctx context.Context, replyID uuid.UUID) (models.LikeState, bool, error) {
	v.mu.Lock()
	r := Find(v.tree, replyID)
	if r == nil {
		v.mu.Unlock()
		return models.LikeState{}, false, nil
	}
	prev := models.LikeState{ReplyID: replyID, Liked: r.LikedByCurrentUser, LikeCount: r.LikeCount}
	v.tree, _ = ToggleLike(v.tree, replyID)
	v.mu.Unlock()

	state, err := v.c.ToggleLike(ctx, replyID, v.Viewer.ID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		SetLikeState(v.tree, prev)
		return prev, true, fmt.Errorf("failed to toggle like on reply %v: %w", replyID, err)
	}
	SetLikeState(v.tree, state)

	return state, true, nil
}

// Tree returns a deep copy of the current tree.
func (v *View) Tree() []*models.Reply {
	v.mu.Lock()
	defer v.mu.Unlock()

	return Clone(v.tree)
}

// LoadedAt reports when the tree was last rebuilt from the collaborator.
func (v *View) LoadedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.loadedAt
}
