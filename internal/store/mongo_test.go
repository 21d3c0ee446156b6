package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database(fmt.Sprintf("chatrelay_test_%d", time.Now().UnixNano()))
	defer func() { _ = db.Drop(context.Background()) }()

	s, err := Open(ctx, BackendMongo, Connections{Mongo: db})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	runStoreSuite(t, s, "")
}
