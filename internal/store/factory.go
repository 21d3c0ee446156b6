package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrUnknownBackend is returned for a STORE_BACKEND value with no implementation.
var ErrUnknownBackend = errors.New("unknown store backend")

// Connections carries the already-open handles a backend may need.
type Connections struct {
	Mongo    *mongo.Database
	Postgres *sql.DB
}

// Open builds the MessageStore named by backend and prepares its schema.
func Open(ctx context.Context, backend string, conns Connections) (MessageStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMongo, "mongodb":
		if conns.Mongo == nil {
			return nil, fmt.Errorf("mongo store: no database handle")
		}
		s := NewMongoStore(conns.Mongo.Collection(MessagesCollection))
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres, "postgresql":
		if conns.Postgres == nil {
			return nil, fmt.Errorf("postgres store: no connection pool")
		}
		if _, err := MigratePostgres(conns.Postgres); err != nil {
			return nil, err
		}
		return NewPostgresStore(conns.Postgres), nil
	case BackendMemory, "mem", "inmem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
