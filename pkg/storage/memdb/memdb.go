package memdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"addipath/pkg/models"
	"addipath/pkg/storage"
)

type Store struct {
	mu      sync.Mutex
	topics  map[uuid.UUID]models.Topic
	posts   map[uuid.UUID]models.Post
	replies map[uuid.UUID][]*models.Reply // by post, in creation order
	index   map[uuid.UUID]*models.Reply   // by reply id
	likes   map[uuid.UUID]map[string]struct{}
	banned  map[string]struct{}
}

// New returns an empty store seeded with the default topics.
func New() *Store {
	db := Store{
		topics:  make(map[uuid.UUID]models.Topic),
		posts:   make(map[uuid.UUID]models.Post),
		replies: make(map[uuid.UUID][]*models.Reply),
		index:   make(map[uuid.UUID]*models.Reply),
		likes:   make(map[uuid.UUID]map[string]struct{}),
		banned:  make(map[string]struct{}),
	}
	for _, t := range storage.DefaultTopics() {
		db.topics[t.ID] = t
	}

	return &db
}

func (db *Store) Topics(ctx context.Context) ([]models.Topic, error) {
	db.mu.Lock()
	topics := make([]models.Topic, 0, len(db.topics))
	for _, t := range db.topics {
		topics = append(topics, t)
	}
	db.mu.Unlock()

	sort.Slice(topics, func(i, j int) bool {
		if topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].Title < topics[j].Title
		}
		return topics[i].CreatedAt.Before(topics[j].CreatedAt)
	})

	return topics, nil
}

func (db *Store) Topic(ctx context.Context, id uuid.UUID) (models.Topic, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.topics[id]
	if !ok {
		return models.Topic{}, storage.ErrTopicNotFound
	}
	return t, nil
}

func (db *Store) AddTopic(ctx context.Context, topic models.Topic) (models.Topic, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return models.Topic{}, err
	}
	topic.ID = id
	topic.CreatedAt = time.Now().UTC()
	topic.PostsCount = 0

	db.mu.Lock()
	db.topics[topic.ID] = topic
	db.mu.Unlock()

	return topic, nil
}

func (db *Store) UpdateTopic(ctx context.Context, topic models.Topic) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	old, ok := db.topics[topic.ID]
	if !ok {
		return storage.ErrTopicNotFound
	}
	old.Title = topic.Title
	old.Description = topic.Description
	db.topics[topic.ID] = old

	return nil
}

func (db *Store) DeleteTopic(ctx context.Context, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.topics[id]; !ok {
		return storage.ErrTopicNotFound
	}
	delete(db.topics, id)

	return nil
}

func (db *Store) Posts(ctx context.Context, filter storage.PostFilter) ([]models.Post, int, error) {
	filter = filter.Normalize()
	contains := strings.ToLower(filter.Contains)

	db.mu.Lock()
	var matched []models.Post
	for _, p := range db.posts {
		if filter.TopicID != uuid.Nil && p.TopicID != filter.TopicID {
			continue
		}
		if contains != "" &&
			!strings.Contains(strings.ToLower(p.Title), contains) &&
			!strings.Contains(strings.ToLower(p.Content), contains) {
			continue
		}
		matched = append(matched, p)
	}
	db.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	numPages := storage.NumPages(len(matched), filter.Limit)
	start := filter.Offset()
	if start >= len(matched) {
		return []models.Post{}, numPages, nil
	}
	end := min(start+filter.Limit, len(matched))

	return matched[start:end], numPages, nil
}

func (db *Store) Post(ctx context.Context, id uuid.UUID) (models.Post, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.posts[id]
	if !ok {
		return models.Post{}, storage.ErrPostNotFound
	}
	return p, nil
}

func (db *Store) AddPost(ctx context.Context, post models.Post) (models.Post, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return models.Post{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	topic, ok := db.topics[post.TopicID]
	if !ok {
		return models.Post{}, storage.ErrTopicNotFound
	}

	post.ID = id
	post.CreatedAt = time.Now().UTC()
	post.RepliesCount = 0
	db.posts[post.ID] = post

	topic.PostsCount++
	db.topics[topic.ID] = topic

	return post, nil
}

func (db *Store) Replies(ctx context.Context, postID uuid.UUID, viewerID string) ([]*models.Reply, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.posts[postID]; !ok {
		return nil, storage.ErrPostNotFound
	}

	stored := db.replies[postID]
	replies := make([]*models.Reply, 0, len(stored))
	for _, r := range stored {
		c := *r
		_, c.LikedByCurrentUser = db.likes[r.ID][viewerID]
		replies = append(replies, &c)
	}

	return replies, nil
}

func (db *Store) AddReply(ctx context.Context, nr models.NewReply) (*models.Reply, error) {
	reply, err := storage.NewReplyRecord(nr)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	post, ok := db.posts[reply.PostID]
	if !ok {
		return nil, storage.ErrPostNotFound
	}
	if reply.ParentID != nil {
		parent, ok := db.index[*reply.ParentID]
		if !ok || parent.PostID != reply.PostID {
			return nil, storage.ErrParentNotFound
		}
	}

	db.replies[reply.PostID] = append(db.replies[reply.PostID], reply)
	db.index[reply.ID] = reply
	post.RepliesCount++
	db.posts[post.ID] = post

	c := *reply
	return &c, nil
}

func (db *Store) ToggleLike(ctx context.Context, replyID uuid.UUID, userID string) (models.LikeState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.index[replyID]
	if !ok {
		return models.LikeState{}, storage.ErrReplyNotFound
	}

	likers := db.likes[replyID]
	if likers == nil {
		likers = make(map[string]struct{})
		db.likes[replyID] = likers
	}

	_, liked := likers[userID]
	if liked {
		delete(likers, userID)
		r.LikeCount = max(r.LikeCount-1, 0)
	} else {
		likers[userID] = struct{}{}
		r.LikeCount++
	}

	return models.LikeState{ReplyID: replyID, Liked: !liked, LikeCount: r.LikeCount}, nil
}

func (db *Store) SetBanned(ctx context.Context, userID string, banned bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if banned {
		db.banned[userID] = struct{}{}
	} else {
		delete(db.banned, userID)
	}
	return nil
}

func (db *Store) IsBanned(ctx context.Context, userID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.banned[userID]
	return ok, nil
}
