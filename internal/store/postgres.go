package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/AnshRaj112/chatrelay-backend/internal/models"
	"github.com/AnshRaj112/chatrelay-backend/internal/store/migrations"
)

const messageColumns = `msg_id, wa_id, name, text, "timestamp", status, created_at, updated_at`

// PostgresStore implements MessageStore on the processed_messages table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a PostgresStore on an open connection pool.
// Run MigratePostgres first.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// MigratePostgres runs all pending schema migrations.
func MigratePostgres(db *sql.DB) (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var status string
	if err := row.Scan(&m.MsgID, &m.WaID, &m.Name, &m.Text, &m.Timestamp, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = models.MessageStatus(status)
	m.Timestamp = m.Timestamp.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UpsertMessage inserts with ON CONFLICT DO NOTHING and reads the surviving row back,
// so a replay never touches the first writer's content.
func (s *PostgresStore) UpsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	status := msg.Status
	if status == "" {
		status = models.MessageStatusSent
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (msg_id) DO NOTHING`,
		msg.MsgID, msg.WaID, msg.Name, msg.Text, msg.Timestamp.UTC(), string(status), now)
	if err != nil {
		return nil, fmt.Errorf("upsert message %s: %w", msg.MsgID, err)
	}

	stored, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM processed_messages WHERE msg_id = $1`, msg.MsgID))
	if err != nil {
		return nil, fmt.Errorf("read back message %s: %w", msg.MsgID, err)
	}
	return stored, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, msgID string, status models.MessageStatus) (*models.Message, error) {
	updated, err := scanMessage(s.db.QueryRowContext(ctx, `
		UPDATE processed_messages SET status = $2, updated_at = NOW()
		WHERE msg_id = $1
		RETURNING `+messageColumns, msgID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update status %s: %w", msgID, err)
	}
	return updated, nil
}

func (s *PostgresStore) ListByCounterparty(ctx context.Context, waID string, order SortOrder) ([]models.Message, error) {
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	msgs, err := s.query(ctx, `SELECT `+messageColumns+` FROM processed_messages
		WHERE wa_id = $1 ORDER BY "timestamp" `+dir, waID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", waID, err)
	}
	return msgs, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.Message, error) {
	msgs, err := s.query(ctx, `SELECT `+messageColumns+` FROM processed_messages ORDER BY "timestamp" ASC`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, waID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_messages WHERE wa_id = $1 AND status <> 'read'`, waID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", waID, err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, waID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processed_messages SET status = 'read', updated_at = NOW()
		WHERE wa_id = $1 AND status <> 'read'`, waID)
	if err != nil {
		return 0, fmt.Errorf("mark read for %s: %w", waID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read for %s: %w", waID, err)
	}
	return n, nil
}

func (s *PostgresStore) Page(ctx context.Context, waID string, page, size int) ([]models.Message, int64, error) {
	msgs, err := s.query(ctx, `SELECT `+messageColumns+` FROM processed_messages
		WHERE wa_id = $1 ORDER BY "timestamp" DESC LIMIT $2 OFFSET $3`,
		waID, size, PageSkip(page, size))
	if err != nil {
		return nil, 0, fmt.Errorf("page messages for %s: %w", waID, err)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_messages WHERE wa_id = $1`, waID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages for %s: %w", waID, err)
	}

	reverse(msgs)
	return msgs, total, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
