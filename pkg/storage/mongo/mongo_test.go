package mongo

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/models"
	"addipath/pkg/storage"
	"addipath/pkg/thread"
)

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	exitCode := m.Run()
	os.Exit(exitCode)
}

func testStorage(t *testing.T) *Storage {
	t.Helper()
	db, err := storageConnect(context.Background())
	if err != nil {
		t.Skipf("mongo test instance not available: %v", err)
	}

	t.Cleanup(func() {
		err := restoreDB(db)
		if err != nil {
			t.Logf("WARNING: unable to restore DB state after the test: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Close(ctx)
	})

	if err := db.SeedTopics(context.Background()); err != nil {
		t.Fatalf("failed to seed topics: %v", err)
	}
	return db
}

func addTestPost(t *testing.T, db *Storage) models.Post {
	t.Helper()
	topics, err := db.Topics(context.Background())
	if err != nil || len(topics) == 0 {
		t.Fatalf("failed to retrieve topics: %v", err)
	}
	post, err := db.AddPost(context.Background(), models.Post{
		TopicID:    topics[0].ID,
		AuthorID:   "u1",
		AuthorName: "Test User",
		Title:      "Hydrocortisone Timing Question",
		Content:    "Currently taking my doses at 8am, 12pm, and 4pm",
	})
	if err != nil {
		t.Fatalf("unexpected error adding post: %v", err)
	}
	return post
}

func TestStorage_Topics(t *testing.T) {
	db := testStorage(t)
	ctx := context.Background()

	topics, err := db.Topics(ctx)
	if err != nil {
		t.Fatalf("unexpected error retrieving topics: %v", err)
	}
	if !reflect.DeepEqual(storage.DefaultTopics(), sortByTitle(topics)) {
		t.Errorf("want default topics\n%+v\n\ngot topics\n%+v\n", storage.DefaultTopics(), topics)
	}

	added, err := db.AddTopic(ctx, models.Topic{Title: "Travel"})
	if err != nil {
		t.Fatalf("unexpected error adding topic: %v", err)
	}
	got, err := db.Topic(ctx, added.ID)
	if err != nil {
		t.Fatalf("unexpected error retrieving topic: %v", err)
	}
	if !reflect.DeepEqual(added, got) {
		t.Errorf("want topic\n%+v\n\ngot topic\n%+v\n", added, got)
	}

	if err := db.DeleteTopic(ctx, added.ID); err != nil {
		t.Fatalf("unexpected error deleting topic: %v", err)
	}
	if err := db.DeleteTopic(ctx, added.ID); !errors.Is(err, storage.ErrTopicNotFound) {
		t.Errorf("want error %v, got %v", storage.ErrTopicNotFound, err)
	}
}

// sortByTitle orders topics the way DefaultTopics lists them.
func sortByTitle(topics []models.Topic) []models.Topic {
	order := map[string]int{}
	for i, t := range storage.DefaultTopics() {
		order[t.Title] = i
	}
	out := make([]models.Topic, len(topics))
	for _, t := range topics {
		if i, ok := order[t.Title]; ok && i < len(out) {
			out[i] = t
		}
	}
	return out
}

func TestStorage_Posts(t *testing.T) {
	db := testStorage(t)
	ctx := context.Background()
	post := addTestPost(t, db)

	got, err := db.Post(ctx, post.ID)
	if err != nil {
		t.Fatalf("unexpected error retrieving post: %v", err)
	}
	if !reflect.DeepEqual(post, got) {
		t.Errorf("want post\n%+v\n\ngot post\n%+v\n", post, got)
	}

	posts, numPages, err := db.Posts(ctx, storage.PostFilter{Contains: "HYDROCORTISONE"})
	if err != nil {
		t.Fatalf("unexpected error filtering posts: %v", err)
	}
	if len(posts) != 1 || numPages != 1 {
		t.Errorf("want 1 post on 1 page, got %d posts on %d pages", len(posts), numPages)
	}

	posts, _, _ = db.Posts(ctx, storage.PostFilter{Contains: "exercise"})
	if len(posts) != 0 {
		t.Errorf("want no posts, got %d", len(posts))
	}
}

func TestStorage_Replies(t *testing.T) {
	db := testStorage(t)
	ctx := context.Background()
	post := addTestPost(t, db)

	// Replies structure:
	// comment
	// ├─ reply1
	// │  └─ reply1_a
	// └─ reply2

	comment, err := db.AddReply(ctx, models.NewReply{PostID: post.ID, AuthorID: "alice", Content: "Top-level reply"})
	if err != nil {
		t.Fatalf("unexpected error adding reply: %v", err)
	}
	reply1, err := db.AddReply(ctx, models.NewReply{PostID: post.ID, ParentID: &comment.ID, AuthorID: "bob", Content: "Reply to top-level"})
	if err != nil {
		t.Fatalf("unexpected error adding reply: %v", err)
	}
	_, err = db.AddReply(ctx, models.NewReply{PostID: post.ID, ParentID: &reply1.ID, AuthorID: "carol", Content: "Nested reply"})
	if err != nil {
		t.Fatalf("unexpected error adding reply: %v", err)
	}
	_, err = db.AddReply(ctx, models.NewReply{PostID: post.ID, ParentID: &comment.ID, AuthorID: "dave", Content: "Another reply"})
	if err != nil {
		t.Fatalf("unexpected error adding reply: %v", err)
	}

	missing := uuid.Must(uuid.NewV4())
	_, err = db.AddReply(ctx, models.NewReply{PostID: post.ID, ParentID: &missing, AuthorID: "eve", Content: "Lost"})
	if !errors.Is(err, storage.ErrParentNotFound) {
		t.Errorf("want error %v, got %v", storage.ErrParentNotFound, err)
	}

	flat, err := db.Replies(ctx, post.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error retrieving replies: %v", err)
	}
	tree := thread.BuildTree(flat)
	if len(tree) != 1 || len(tree[0].Children) != 2 || len(tree[0].Children[0].Children) != 1 {
		t.Errorf("unexpected tree shape: %+v", tree)
	}

	got, _ := db.Post(ctx, post.ID)
	if got.RepliesCount != 4 {
		t.Errorf("want replies count 4, got %d", got.RepliesCount)
	}
}

func TestStorage_ToggleLike(t *testing.T) {
	db := testStorage(t)
	ctx := context.Background()
	post := addTestPost(t, db)
	reply, err := db.AddReply(ctx, models.NewReply{PostID: post.ID, AuthorID: "alice", Content: "Same here"})
	if err != nil {
		t.Fatalf("unexpected error adding reply: %v", err)
	}

	state, err := db.ToggleLike(ctx, reply.ID, "bob")
	if err != nil {
		t.Fatalf("unexpected error toggling like: %v", err)
	}
	if !state.Liked || state.LikeCount != 1 {
		t.Errorf("want liked with count 1, got %+v", state)
	}

	flat, _ := db.Replies(ctx, post.ID, "bob")
	if !flat[0].LikedByCurrentUser {
		t.Error("want reply liked by bob")
	}

	state, _ = db.ToggleLike(ctx, reply.ID, "bob")
	if state.Liked || state.LikeCount != 0 {
		t.Errorf("want unliked with count 0, got %+v", state)
	}

	if _, err := db.ToggleLike(ctx, missingID(), "bob"); !errors.Is(err, storage.ErrReplyNotFound) {
		t.Errorf("want error %v, got %v", storage.ErrReplyNotFound, err)
	}
}

func TestStorage_Bans(t *testing.T) {
	db := testStorage(t)
	ctx := context.Background()

	if err := db.SetBanned(ctx, "troll", true); err != nil {
		t.Fatalf("unexpected error banning user: %v", err)
	}
	if banned, _ := db.IsBanned(ctx, "troll"); !banned {
		t.Error("want user banned")
	}
	if err := db.SetBanned(ctx, "troll", false); err != nil {
		t.Fatalf("unexpected error unbanning user: %v", err)
	}
	if banned, _ := db.IsBanned(ctx, "troll"); banned {
		t.Error("want user unbanned")
	}
}

func missingID() uuid.UUID {
	return uuid.NewV5(uuid.NamespaceURL, "missing")
}
