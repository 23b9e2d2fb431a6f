package postgres

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"addipath/pkg/models"
	"addipath/pkg/storage"
)

//go:embed schema.sql
var schema string

var _ storage.Storage = (*Store)(nil)

type Store struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, conStr string) (*Store, error) {
	db, err := pgxpool.Connect(ctx, conStr)
	if err != nil {
		return nil, err
	}
	s := Store{
		db: db,
	}

	return &s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

// Migrate creates the forum tables if they don't exist and seeds the default
// topics into an empty topics table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return err
	}

	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(id) FROM topics`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	batch := new(pgx.Batch)
	for _, t := range storage.DefaultTopics() {
		batch.Queue(`
			INSERT INTO topics (id, title, description, created_at, posts_count)
			VALUES ($1, $2, $3, $4, 0)
			ON CONFLICT (id) DO NOTHING
		`,
			t.ID,
			t.Title,
			t.Description,
			t.CreatedAt,
		)
	}

	return s.db.SendBatch(ctx, batch).Close()
}

func (s *Store) Topics(ctx context.Context) ([]models.Topic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, description, created_at, posts_count
		FROM topics
		ORDER BY created_at, title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make([]models.Topic, 0)
	for rows.Next() {
		var t models.Topic
		err := rows.Scan(
			&t.ID,
			&t.Title,
			&t.Description,
			&t.CreatedAt,
			&t.PostsCount,
		)
		if err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		topics = append(topics, t)
	}

	return topics, rows.Err()
}

func (s *Store) Topic(ctx context.Context, id uuid.UUID) (t models.Topic, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT id, title, description, created_at, posts_count
		FROM topics
		WHERE id = $1
	`,
		id,
	).Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.CreatedAt,
		&t.PostsCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = storage.ErrTopicNotFound
		}
		return models.Topic{}, err
	}

	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (s *Store) AddTopic(ctx context.Context, topic models.Topic) (models.Topic, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return models.Topic{}, err
	}
	topic.ID = id
	topic.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	topic.PostsCount = 0

	_, err = s.db.Exec(ctx, `
		INSERT INTO topics (id, title, description, created_at, posts_count)
		VALUES ($1, $2, $3, $4, 0)
	`,
		topic.ID,
		topic.Title,
		topic.Description,
		topic.CreatedAt,
	)
	if err != nil {
		return models.Topic{}, err
	}

	return topic, nil
}

func (s *Store) UpdateTopic(ctx context.Context, topic models.Topic) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE topics SET title = $2, description = $3 WHERE id = $1
	`,
		topic.ID,
		topic.Title,
		topic.Description,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTopicNotFound
	}

	return nil
}

func (s *Store) DeleteTopic(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTopicNotFound
	}

	return nil
}

// Posts returns a paginated list of posts ordered by creation time descending.
// Zero topic ID and empty substring match every post; the substring is matched
// case-insensitively against title and content. The method also returns the
// total number of pages for the filter.
func (s *Store) Posts(ctx context.Context, filter storage.PostFilter) ([]models.Post, int, error) {
	filter = filter.Normalize()
	topic := uuid.NullUUID{UUID: filter.TopicID, Valid: filter.TopicID != uuid.Nil}
	pattern := "%" + escapeLike(filter.Contains) + "%"

	rows, err := s.db.Query(ctx, `
		SELECT id, topic_id, author_id, author_name, title, content, created_at, replies_count
		FROM posts
		WHERE ($1::uuid IS NULL OR topic_id = $1)
		  AND ($2 = '' OR title ILIKE $3 OR content ILIKE $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5
	`,
		topic,
		filter.Contains,
		pattern,
		filter.Limit,
		filter.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]models.Post, 0)
	for rows.Next() {
		var p models.Post
		err := rows.Scan(
			&p.ID,
			&p.TopicID,
			&p.AuthorID,
			&p.AuthorName,
			&p.Title,
			&p.Content,
			&p.CreatedAt,
			&p.RepliesCount,
		)
		if err != nil {
			return nil, 0, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(id) FROM posts
		WHERE ($1::uuid IS NULL OR topic_id = $1)
		  AND ($2 = '' OR title ILIKE $3 OR content ILIKE $3)
	`,
		topic,
		filter.Contains,
		pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return posts, storage.NumPages(total, filter.Limit), nil
}

// Post retrieves a post by its ID. It returns the post and an error if any occurs.
func (s *Store) Post(ctx context.Context, id uuid.UUID) (p models.Post, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT id, topic_id, author_id, author_name, title, content, created_at, replies_count
		FROM posts
		WHERE id = $1
	`,
		id,
	).Scan(
		&p.ID,
		&p.TopicID,
		&p.AuthorID,
		&p.AuthorName,
		&p.Title,
		&p.Content,
		&p.CreatedAt,
		&p.RepliesCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = storage.ErrPostNotFound
		}
		return models.Post{}, err
	}

	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// AddPost inserts a post and bumps the posts counter of its topic in a single
// transaction.
func (s *Store) AddPost(ctx context.Context, post models.Post) (models.Post, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return models.Post{}, err
	}
	post.ID = id
	post.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	post.RepliesCount = 0

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.Post{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE topics SET posts_count = posts_count + 1 WHERE id = $1`, post.TopicID)
	if err != nil {
		return models.Post{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Post{}, storage.ErrTopicNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO posts (id, topic_id, author_id, author_name, title, content, created_at, replies_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	`,
		post.ID,
		post.TopicID,
		post.AuthorID,
		post.AuthorName,
		post.Title,
		post.Content,
		post.CreatedAt,
	)
	if err != nil {
		return models.Post{}, err
	}

	return post, tx.Commit(ctx)
}

// Replies returns the flat reply list of a post in creation order, with the like
// state of viewerID.
func (s *Store) Replies(ctx context.Context, postID uuid.UUID, viewerID string) ([]*models.Reply, error) {
	if _, err := s.Post(ctx, postID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.post_id, r.parent_id, r.author_id, r.author_name, r.content, r.created_at, r.like_count,
			EXISTS (SELECT 1 FROM reply_likes l WHERE l.reply_id = r.id AND l.user_id = $2)
		FROM replies r
		WHERE r.post_id = $1
		ORDER BY r.created_at, r.seq
	`,
		postID,
		viewerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	replies := make([]*models.Reply, 0)
	for rows.Next() {
		var (
			r      models.Reply
			parent uuid.NullUUID
		)
		err := rows.Scan(
			&r.ID,
			&r.PostID,
			&parent,
			&r.AuthorID,
			&r.AuthorName,
			&r.Content,
			&r.CreatedAt,
			&r.LikeCount,
			&r.LikedByCurrentUser,
		)
		if err != nil {
			return nil, err
		}
		if parent.Valid {
			r.ParentID = &parent.UUID
		}
		r.CreatedAt = r.CreatedAt.UTC()
		replies = append(replies, &r)
	}

	return replies, rows.Err()
}

// AddReply inserts a reply after checking that its parent, if any, belongs to
// the same post, and bumps the replies counter of the post.
func (s *Store) AddReply(ctx context.Context, nr models.NewReply) (*models.Reply, error) {
	reply, err := storage.NewReplyRecord(nr)
	if err != nil {
		return nil, err
	}
	reply.CreatedAt = reply.CreatedAt.Truncate(time.Microsecond)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE posts SET replies_count = replies_count + 1 WHERE id = $1`, reply.PostID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrPostNotFound
	}

	parent := uuid.NullUUID{}
	if reply.ParentID != nil {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM replies WHERE id = $1 AND post_id = $2)
		`,
			*reply.ParentID,
			reply.PostID,
		).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, storage.ErrParentNotFound
		}
		parent = uuid.NullUUID{UUID: *reply.ParentID, Valid: true}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO replies (id, post_id, parent_id, author_id, author_name, content, created_at, like_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	`,
		reply.ID,
		reply.PostID,
		parent,
		reply.AuthorID,
		reply.AuthorName,
		reply.Content,
		reply.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return reply, tx.Commit(ctx)
}

// ToggleLike flips the like of userID on a reply inside a transaction that locks
// the reply row, so the counter stays in step with reply_likes.
func (s *Store) ToggleLike(ctx context.Context, replyID uuid.UUID, userID string) (models.LikeState, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.LikeState{}, err
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx, `SELECT like_count FROM replies WHERE id = $1 FOR UPDATE`, replyID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = storage.ErrReplyNotFound
		}
		return models.LikeState{}, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM reply_likes WHERE reply_id = $1 AND user_id = $2`, replyID, userID)
	if err != nil {
		return models.LikeState{}, err
	}

	state := models.LikeState{ReplyID: replyID}
	if tag.RowsAffected() > 0 {
		err = tx.QueryRow(ctx, `
			UPDATE replies SET like_count = GREATEST(like_count - 1, 0) WHERE id = $1 RETURNING like_count
		`, replyID).Scan(&state.LikeCount)
	} else {
		state.Liked = true
		_, err = tx.Exec(ctx, `INSERT INTO reply_likes (reply_id, user_id) VALUES ($1, $2)`, replyID, userID)
		if err != nil {
			return models.LikeState{}, err
		}
		err = tx.QueryRow(ctx, `
			UPDATE replies SET like_count = like_count + 1 WHERE id = $1 RETURNING like_count
		`, replyID).Scan(&state.LikeCount)
	}
	if err != nil {
		return models.LikeState{}, err
	}

	return state, tx.Commit(ctx)
}

func (s *Store) SetBanned(ctx context.Context, userID string, banned bool) error {
	var err error
	if banned {
		_, err = s.db.Exec(ctx, `INSERT INTO forum_bans (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	} else {
		_, err = s.db.Exec(ctx, `DELETE FROM forum_bans WHERE user_id = $1`, userID)
	}
	return err
}

func (s *Store) IsBanned(ctx context.Context, userID string) (banned bool, err error) {
	err = s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM forum_bans WHERE user_id = $1)`, userID).Scan(&banned)
	return
}

// escapeLike escapes the ILIKE wildcards of a user supplied substring.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
