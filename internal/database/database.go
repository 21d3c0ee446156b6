package database

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

// DefaultDatabase is used when neither MONGO_DATABASE nor the URI path names one.
const DefaultDatabase = "whatsapp"

var Client *mongo.Client
var DB *mongo.Database

// Connect dials MongoDB, pings it and selects the database. dbName wins over
// the name embedded in the URI path.
func Connect(mongoURI, dbName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	logger.Global().Info("connecting to MongoDB")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()

	if err = client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	if dbName == "" {
		dbName = DatabaseFromURI(mongoURI)
	}

	Client = client
	DB = client.Database(dbName)

	logger.Global().Info("connected to MongoDB", zap.String("database", dbName))
	return nil
}

// DatabaseFromURI extracts the database segment of a mongodb:// URI.
// Format: mongodb://host/database_name?options
func DatabaseFromURI(mongoURI string) string {
	rest := mongoURI
	if i := strings.Index(rest, "://"); i != -1 {
		rest = rest[i+3:]
	}
	i := strings.Index(rest, "/")
	if i == -1 {
		return DefaultDatabase
	}
	name := strings.Split(rest[i+1:], "?")[0]
	if name == "" {
		return DefaultDatabase
	}
	return name
}

func Disconnect() error {
	if Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Client.Disconnect(ctx)
}
