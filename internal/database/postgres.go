package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/AnshRaj112/chatrelay-backend/pkg/logger"
)

var PostgresDB *sql.DB

// ConnectPostgres opens the pool and pings it. Schema is managed by
// store.MigratePostgres.
func ConnectPostgres(postgresURI string) error {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return err
	}

	PostgresDB = db
	logger.Global().Info("connected to PostgreSQL")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
