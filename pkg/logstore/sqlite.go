package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/models"
)

// SQLiteStore keeps every record as one row of event_records; the
// per-customer and per-day logs are index scans over the same rows.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger

	insertRecord *sql.Stmt
	tailCustomer *sql.Stmt
	tailDay      *sql.Stmt
}

// NewSQLiteStore wraps a database already opened with the inbox schema
func NewSQLiteStore(db *sql.DB, logger *logrus.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertRecord, err = s.db.Prepare(`
		INSERT INTO event_records (record_id, customer_id, day, direction, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	// Newest rows first; the caller reverses back to append order
	s.tailCustomer, err = s.db.Prepare(`
		SELECT payload FROM event_records
		WHERE customer_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`)
	if err != nil {
		return err
	}

	s.tailDay, err = s.db.Prepare(`
		SELECT payload FROM event_records
		WHERE day = ?
		ORDER BY seq DESC
		LIMIT ?
	`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, rec models.EventRecord) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	data, err := encode(rec)
	if err != nil {
		return err
	}

	_, err = s.insertRecord.ExecContext(ctx,
		rec.ID, rec.CustomerID, constants.DayOf(rec.OccurredAt), string(rec.Direction),
		rec.OccurredAt.Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert event record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadTail(ctx context.Context, customerID string, n int) ([]models.EventRecord, error) {
	if n <= 0 || customerID == "" {
		return []models.EventRecord{}, nil
	}
	return s.readTail(ctx, s.tailCustomer, customerID, n, logrus.Fields{"customer_id": customerID})
}

func (s *SQLiteStore) ReadDay(ctx context.Context, day time.Time, n int) ([]models.EventRecord, error) {
	if n <= 0 {
		return []models.EventRecord{}, nil
	}
	name := constants.DayOf(day)
	return s.readTail(ctx, s.tailDay, name, n, logrus.Fields{"day": name})
}

func (s *SQLiteStore) Customers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id FROM event_records
		GROUP BY customer_id
		ORDER BY MAX(seq) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases prepared statements; the database handle belongs to the caller
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertRecord, s.tailCustomer, s.tailDay} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

func (s *SQLiteStore) readTail(ctx context.Context, stmt *sql.Stmt, key string, n int, fields logrus.Fields) ([]models.EventRecord, error) {
	rows, err := stmt.QueryContext(ctx, key, n)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}

	t := newTail(n)
	for i := len(payloads) - 1; i >= 0; i-- {
		t.add([]byte(payloads[i]))
	}
	return t.result(s.logger, fields), nil
}
