package watermark

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"whatsapp-inbox/pkg/models"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps a database already opened with the inbox schema
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Read(ctx context.Context, customerID string) (models.Watermark, error) {
	wm := models.Watermark{CustomerID: customerID}

	var lastSeen, updated sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_incoming_at, updated_at FROM watermarks WHERE customer_id = ?`,
		customerID,
	).Scan(&lastSeen, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return wm, nil
		}
		return models.Watermark{}, fmt.Errorf("read watermark: %w", err)
	}

	if wm.LastSeenIncomingAt, err = parseTime(lastSeen.String); err != nil {
		return models.Watermark{}, err
	}
	wm.UpdatedAt, _ = parseTime(updated.String)
	return wm, nil
}

// Write upserts only the watermark columns; any other column keeps its value
func (s *SQLiteStore) Write(ctx context.Context, customerID string, lastSeenIncomingAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (customer_id, last_seen_incoming_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			last_seen_incoming_at = excluded.last_seen_incoming_at,
			updated_at = excluded.updated_at
	`, customerID, formatTime(lastSeenIncomingAt), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return nil
}
