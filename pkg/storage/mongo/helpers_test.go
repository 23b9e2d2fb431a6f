package mongo

import (
	"context"
	"os"
	"time"
)

var mongoTestConf = &Config{
	Host:   "localhost",
	Port:   "27018",
	DBName: "forum_test",
}

// storageConnect is a helper function that establishes a connection to the predefined test Mongo instance.
// It returns a connected Storage object or an error if connection fails.
func storageConnect(ctx context.Context) (*Storage, error) {
	conf := *mongoTestConf
	if port := os.Getenv("MONGO_PORT"); port != "" {
		conf.Port = port
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	db, err := New(ctx, &conf)
	if err != nil {
		return nil, err
	}

	err = db.Ping(ctx)
	if err != nil {
		db.Close(context.Background())
		return nil, err
	}

	return db, nil
}

// restoreDB drops every forum collection to reset the database state.
// WARNING: Use only in tests to avoid data loss.
func restoreDB(db *Storage) error {
	for _, name := range []string{collTopics, collPosts, collReplies, collLikes, collBans} {
		if err := db.coll(name).Drop(context.Background()); err != nil {
			return err
		}
	}
	return nil
}
