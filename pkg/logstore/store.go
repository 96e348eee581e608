package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/models"
)

// ErrMissingCustomer is returned when a record has no customer id to shard on
var ErrMissingCustomer = errors.New("record has no customer id")

// Store is an append-only log of event records, sharded per customer with a
// parallel per-day log kept for audit scans. Implementations must tolerate
// malformed stored entries on read by skipping them.
type Store interface {
	// Append adds rec to the end of its customer's log and to the log of the
	// UTC day it occurred on.
	Append(ctx context.Context, rec models.EventRecord) error

	// ReadTail returns up to the last n records of a customer's log in append
	// order. A customer without a log yields an empty slice.
	ReadTail(ctx context.Context, customerID string, n int) ([]models.EventRecord, error)

	// ReadDay returns up to the last n records of a day's log in append order.
	ReadDay(ctx context.Context, day time.Time, n int) ([]models.EventRecord, error)

	// Customers lists every customer that has a log.
	Customers(ctx context.Context) ([]string, error)

	Close() error
}

// prepare validates rec and assigns the fields every backend persists
func prepare(rec models.EventRecord) (models.EventRecord, error) {
	if rec.CustomerID == "" {
		return rec, ErrMissingCustomer
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	rec.OccurredAt = rec.OccurredAt.UTC()
	if rec.Kind == "" {
		rec.Kind = models.KindUnknown
	}
	return rec, nil
}

func encode(rec models.EventRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event record: %w", err)
	}
	return data, nil
}

// decode parses one stored entry. Entries that are not JSON or that lack a
// customer id or direction are reported as malformed.
func decode(data []byte) (models.EventRecord, error) {
	var rec models.EventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	if rec.CustomerID == "" || rec.Direction == "" {
		return rec, fmt.Errorf("incomplete event record")
	}
	return rec, nil
}

// tail keeps the last n decoded records of a stream of raw entries
type tail struct {
	n       int
	records []models.EventRecord
	skipped int
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(data []byte) {
	rec, err := decode(data)
	if err != nil {
		t.skipped++
		return
	}
	t.records = append(t.records, rec)
	if len(t.records) > t.n {
		// Reslice and compact occasionally so memory stays O(n)
		t.records = t.records[1:]
		if cap(t.records) > 4*t.n+16 {
			t.records = append([]models.EventRecord(nil), t.records...)
		}
	}
}

func (t *tail) result(logger *logrus.Logger, fields logrus.Fields) []models.EventRecord {
	if t.skipped > 0 && logger != nil {
		logger.WithFields(fields).WithField("skipped", t.skipped).Warn("Skipped malformed event records")
	}
	if t.records == nil {
		return []models.EventRecord{}
	}
	return t.records
}

func lastN(records []models.EventRecord, n int) []models.EventRecord {
	if n <= 0 {
		return []models.EventRecord{}
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	out := make([]models.EventRecord, len(records))
	copy(out, records)
	return out
}
