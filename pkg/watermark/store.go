package watermark

import (
	"context"
	"fmt"
	"time"

	"whatsapp-inbox/pkg/models"
)

// Store persists one watermark per customer.
//
// Write is a blind upsert: it merges the given timestamp into whatever is
// stored for the customer and does not compare it with the current value.
// Callers that must never move a watermark backwards read first and only
// write a strictly greater timestamp.
type Store interface {
	// Read returns the customer's watermark, or a zero watermark when none
	// has been written. Absence is not an error.
	Read(ctx context.Context, customerID string) (models.Watermark, error)

	Write(ctx context.Context, customerID string, lastSeenIncomingAt time.Time) error

	Close() error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark timestamp %q: %w", s, err)
	}
	return t, nil
}
