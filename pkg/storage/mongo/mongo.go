package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gofrs/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"addipath/pkg/models"
	"addipath/pkg/storage"
)

const (
	collTopics  = "topics"
	collPosts   = "posts"
	collReplies = "replies"
	collLikes   = "likes"
	collBans    = "bans"
)

type Storage struct {
	client *mongo.Client
	dbName string
}

type like struct {
	ReplyID   uuid.UUID `bson:"reply_id"`
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func New(ctx context.Context, conf *Config) (*Storage, error) {
	client, err := mongo.Connect(ctx, conf.Options())
	if err != nil {
		return nil, err
	}

	s := Storage{client: client, dbName: conf.DBName}
	for _, name := range []string{collTopics, collPosts, collReplies, collLikes, collBans} {
		if err := s.createCollection(ctx, name); err != nil {
			return nil, err
		}
	}
	if err := s.createIndexes(ctx); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Storage) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

func (s *Storage) coll(name string) *mongo.Collection {
	return s.client.Database(s.dbName).Collection(name)
}

// SeedTopics inserts the default topics when the topics collection is empty.
func (s *Storage) SeedTopics(ctx context.Context) error {
	cnt, err := s.coll(collTopics).CountDocuments(ctx, bson.M{})
	if err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}

	docs := make([]any, 0)
	for _, t := range storage.DefaultTopics() {
		docs = append(docs, t)
	}
	_, err = s.coll(collTopics).InsertMany(ctx, docs)
	return err
}

func (s *Storage) Topics(ctx context.Context) ([]models.Topic, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "title", Value: 1}})
	cur, err := s.coll(collTopics).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	topics := make([]models.Topic, 0)
	if err := cur.All(ctx, &topics); err != nil {
		return nil, err
	}
	for i := range topics {
		topics[i].CreatedAt = topics[i].CreatedAt.UTC()
	}

	return topics, nil
}

func (s *Storage) Topic(ctx context.Context, id uuid.UUID) (models.Topic, error) {
	var t models.Topic
	err := s.coll(collTopics).FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = storage.ErrTopicNotFound
		}
		return models.Topic{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()

	return t, nil
}

func (s *Storage) AddTopic(ctx context.Context, topic models.Topic) (models.Topic, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return models.Topic{}, err
	}
	topic.ID = id
	topic.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	topic.PostsCount = 0

	if _, err := s.coll(collTopics).InsertOne(ctx, topic); err != nil {
		return models.Topic{}, err
	}

	return topic, nil
}

func (s *Storage) UpdateTopic(ctx context.Context, topic models.Topic) error {
	res, err := s.coll(collTopics).UpdateOne(ctx,
		bson.M{"_id": topic.ID},
		bson.M{"$set": bson.M{"title": topic.Title, "description": topic.Description}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrTopicNotFound
	}

	return nil
}

func (s *Storage) DeleteTopic(ctx context.Context, id uuid.UUID) error {
	res, err := s.coll(collTopics).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrTopicNotFound
	}

	return nil
}

// Posts returns a page of posts ordered by creation time descending, filtered by
// topic and by a case-insensitive substring of the title or content.
func (s *Storage) Posts(ctx context.Context, filter storage.PostFilter) ([]models.Post, int, error) {
	filter = filter.Normalize()

	query := bson.M{}
	if filter.TopicID != uuid.Nil {
		query["topic_id"] = filter.TopicID
	}
	if filter.Contains != "" {
		re := primitiveRegex(filter.Contains)
		query["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"content": re},
		}
	}

	total, err := s.coll(collPosts).CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset())).
		SetLimit(int64(filter.Limit))
	cur, err := s.coll(collPosts).Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}

	posts := make([]models.Post, 0)
	if err := cur.All(ctx, &posts); err != nil {
		return nil, 0, err
	}
	for i := range posts {
		posts[i].CreatedAt = posts[i].CreatedAt.UTC()
	}

	return posts, storage.NumPages(int(total), filter.Limit), nil
}

func (s *Storage) Post(ctx context.Context, id uuid.UUID) (models.Post, error) {
	var p models.Post
	err := s.coll(collPosts).FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = storage.ErrPostNotFound
		}
		return models.Post{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()

	return p, nil
}

func (s *Storage) AddPost(ctx context.Context, post models.Post) (models.Post, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return models.Post{}, err
	}
	post.ID = id
	post.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	post.RepliesCount = 0

	res, err := s.coll(collTopics).UpdateOne(ctx,
		bson.M{"_id": post.TopicID},
		bson.M{"$inc": bson.M{"posts_count": 1}},
	)
	if err != nil {
		return models.Post{}, err
	}
	if res.MatchedCount == 0 {
		return models.Post{}, storage.ErrTopicNotFound
	}

	if _, err := s.coll(collPosts).InsertOne(ctx, post); err != nil {
		return models.Post{}, err
	}

	return post, nil
}

// Replies returns the flat reply list of a post sorted by creation time, with
// LikedByCurrentUser set for viewerID.
func (s *Storage) Replies(ctx context.Context, postID uuid.UUID, viewerID string) ([]*models.Reply, error) {
	cnt, err := s.coll(collPosts).CountDocuments(ctx, bson.M{"_id": postID})
	if err != nil {
		return nil, err
	}
	if cnt == 0 {
		return nil, storage.ErrPostNotFound
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.coll(collReplies).Find(ctx, bson.M{"post_id": postID}, opts)
	if err != nil {
		return nil, err
	}

	replies := make([]*models.Reply, 0)
	if err := cur.All(ctx, &replies); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(replies))
	for _, r := range replies {
		r.CreatedAt = r.CreatedAt.UTC()
		ids = append(ids, r.ID)
	}
	if len(replies) == 0 || viewerID == "" {
		return replies, nil
	}

	lcur, err := s.coll(collLikes).Find(ctx, bson.M{"user_id": viewerID, "reply_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var likes []like
	if err := lcur.All(ctx, &likes); err != nil {
		return nil, err
	}

	liked := make(map[uuid.UUID]bool, len(likes))
	for _, l := range likes {
		liked[l.ReplyID] = true
	}
	for _, r := range replies {
		r.LikedByCurrentUser = liked[r.ID]
	}

	return replies, nil
}

// AddReply inserts a new reply. If ParentID is set, the parent must exist in the
// same post.
func (s *Storage) AddReply(ctx context.Context, nr models.NewReply) (*models.Reply, error) {
	reply, err := storage.NewReplyRecord(nr)
	if err != nil {
		return nil, err
	}

	if reply.ParentID != nil {
		cnt, err := s.coll(collReplies).CountDocuments(ctx, bson.M{
			"_id":     *reply.ParentID,
			"post_id": reply.PostID,
		})
		if err != nil {
			return nil, err
		}
		if cnt == 0 {
			return nil, storage.ErrParentNotFound
		}
	}

	res, err := s.coll(collPosts).UpdateOne(ctx,
		bson.M{"_id": reply.PostID},
		bson.M{"$inc": bson.M{"replies_count": 1}},
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, storage.ErrPostNotFound
	}

	if _, err := s.coll(collReplies).InsertOne(ctx, reply); err != nil {
		return nil, err
	}

	return reply, nil
}

// ToggleLike flips the like of userID on a reply. The likes collection has a
// unique (reply_id, user_id) index, so concurrent toggles of the same user
// cannot count twice.
func (s *Storage) ToggleLike(ctx context.Context, replyID uuid.UUID, userID string) (models.LikeState, error) {
	cnt, err := s.coll(collReplies).CountDocuments(ctx, bson.M{"_id": replyID})
	if err != nil {
		return models.LikeState{}, err
	}
	if cnt == 0 {
		return models.LikeState{}, storage.ErrReplyNotFound
	}

	key := bson.M{"reply_id": replyID, "user_id": userID}
	del, err := s.coll(collLikes).DeleteOne(ctx, key)
	if err != nil {
		return models.LikeState{}, err
	}

	state := models.LikeState{ReplyID: replyID}
	filter := bson.M{"_id": replyID}
	var inc int
	if del.DeletedCount > 0 {
		filter["like_count"] = bson.M{"$gt": 0}
		inc = -1
	} else {
		_, err := s.coll(collLikes).InsertOne(ctx, like{ReplyID: replyID, UserID: userID, CreatedAt: time.Now().UTC()})
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return models.LikeState{}, err
		}
		state.Liked = true
		if err == nil {
			inc = 1
		}
	}

	var r models.Reply
	if inc != 0 {
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err = s.coll(collReplies).FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"like_count": inc}}, opts).Decode(&r)
	}
	// Nothing to change, or the counter was already at zero.
	if inc == 0 || errors.Is(err, mongo.ErrNoDocuments) {
		err = s.coll(collReplies).FindOne(ctx, bson.M{"_id": replyID}).Decode(&r)
	}
	if err != nil {
		return models.LikeState{}, err
	}
	state.LikeCount = max(r.LikeCount, 0)

	return state, nil
}

func (s *Storage) SetBanned(ctx context.Context, userID string, banned bool) error {
	if !banned {
		_, err := s.coll(collBans).DeleteOne(ctx, bson.M{"_id": userID})
		return err
	}

	_, err := s.coll(collBans).UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": bson.M{"banned_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Storage) IsBanned(ctx context.Context, userID string) (bool, error) {
	cnt, err := s.coll(collBans).CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (s *Storage) createIndexes(ctx context.Context) error {
	_, err := s.coll(collLikes).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reply_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create likes index: %w", err)
	}

	_, err = s.coll(collReplies).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create replies index: %w", err)
	}

	return nil
}

// createCollection creates a collection with the given name in the database if it doesn't already exist.
func (s *Storage) createCollection(ctx context.Context, collName string) error {
	collExists, err := collectionExists(ctx, s.client.Database(s.dbName), collName)
	if err != nil {
		return err
	}

	if !collExists {
		err := s.client.Database(s.dbName).CreateCollection(ctx, collName)
		if err != nil {
			return err
		}
	}

	return nil
}

// collectionExists checks if a collection with the given name exists in the database.
func collectionExists(ctx context.Context, db *mongo.Database, collName string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("failed to list collection names: %w", err)
	}

	for _, name := range names {
		if name == collName {
			return true, nil
		}
	}

	return false, nil
}

func primitiveRegex(substr string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(substr), "$options": "i"}
}
