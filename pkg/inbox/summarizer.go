package inbox

import (
	"context"
	"time"

	"whatsapp-inbox/pkg/models"
)

// Summarize folds the last window records of a customer's log into a
// summary. It returns nil when the customer has no readable records.
//
// Only the window is consulted, so tag counts and unread counts ignore
// anything older; a long conversation with unread messages beyond the
// window reports fewer than it has.
func (ib *Inbox) Summarize(ctx context.Context, customerID string, window int) (*models.CustomerSummary, error) {
	start := time.Now()
	defer func() {
		ib.metrics.SummarizeDuration.Observe(time.Since(start).Seconds())
	}()

	records, err := ib.readTail(ctx, customerID, ib.opts.ClampWindow(window))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	return Fold(customerID, records, ib.watermarkOrZero(ctx, customerID)), nil
}

// Fold computes a summary from records in append order and the customer's
// watermark. A zero watermark counts every incoming record as unread.
func Fold(customerID string, records []models.EventRecord, wm models.Watermark) *models.CustomerSummary {
	if len(records) == 0 {
		return nil
	}

	summary := &models.CustomerSummary{
		CustomerID: customerID,
		TagCounts:  make(map[string]int),
	}

	for i := range records {
		rec := records[i]

		for _, tag := range rec.Tags {
			summary.TagCounts[tag]++
		}

		if rec.DisplayName != "" {
			summary.DisplayName = rec.DisplayName
		}

		if !rec.IsIncoming() {
			continue
		}
		if !wm.Seen(rec.OccurredAt) {
			summary.UnreadCount++
		}
		if rec.OccurredAt.After(summary.LastIncomingAt) {
			summary.LastIncomingAt = rec.OccurredAt
		}
	}

	// Append order is the store's guarantee; the last record is the latest
	last := records[len(records)-1]
	summary.LastRecord = &last

	return summary
}
