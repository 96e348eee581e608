package inbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/models"
)

// ListCustomers summarizes every known customer, keeps the summaries that
// pass all set filters, and orders them by last activity, newest first.
// Customers whose log cannot be read are skipped with a warning.
func (ib *Inbox) ListCustomers(ctx context.Context, filter models.CustomerFilter, window int) ([]models.CustomerSummary, error) {
	ids, err := ib.logs.Customers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	now := ib.opts.Now()
	summaries := make([]models.CustomerSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := ib.Summarize(ctx, id, window)
		if err != nil {
			ib.logger.WithError(err).WithField("customer_id", id).Warn("Skipping customer that could not be summarized")
			continue
		}
		if summary == nil || !MatchCustomer(*summary, filter, now) {
			continue
		}
		summaries = append(summaries, *summary)
	}

	SortSummaries(summaries)

	ib.logger.WithFields(logrus.Fields{
		"customers": len(ids),
		"matched":   len(summaries),
	}).Debug("Listed customers")

	return summaries, nil
}

// MatchCustomer applies a CustomerFilter to one summary
func MatchCustomer(s models.CustomerSummary, f models.CustomerFilter, now time.Time) bool {
	if q := strings.TrimSpace(f.Search); q != "" {
		haystack := s.CustomerID + " " + s.DisplayName
		if s.LastRecord != nil {
			haystack += " " + s.LastRecord.Body
		}
		if !containsFold(haystack, q) {
			return false
		}
	}

	if f.UnreadOnly && s.UnreadCount <= 0 {
		return false
	}

	if f.RecentHours > 0 && !within(s.LastActivity(), f.RecentHours, now) {
		return false
	}

	if f.Tag != "" && s.TagCounts[f.Tag] <= 0 {
		return false
	}

	return true
}

// MatchMessage applies a MessageFilter to one record. wm is only consulted
// for UnreadOnly.
func MatchMessage(r models.EventRecord, f models.MessageFilter, wm models.Watermark, now time.Time) bool {
	if q := strings.TrimSpace(f.Search); q != "" {
		if !containsFold(r.Body+" "+strings.Join(r.Tags, " "), q) {
			return false
		}
	}

	if f.UnreadOnly && (!r.IsIncoming() || wm.Seen(r.OccurredAt)) {
		return false
	}

	if f.RecentHours > 0 && !within(r.OccurredAt, f.RecentHours, now) {
		return false
	}

	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}

	return true
}

// SortSummaries orders by last activity descending; summaries without a
// timestamp go last, ties break on customer id
func SortSummaries(summaries []models.CustomerSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastActivity(), summaries[j].LastActivity()
		switch {
		case a.IsZero() != b.IsZero():
			return !a.IsZero()
		case !a.Equal(b):
			return a.After(b)
		default:
			return summaries[i].CustomerID < summaries[j].CustomerID
		}
	})
}

// readConversation returns the filtered records and the full window they
// were taken from, both ordered by occurred_at
func (ib *Inbox) readConversation(ctx context.Context, customerID string, limit int, filter models.MessageFilter) ([]models.EventRecord, []models.EventRecord, error) {
	window, err := ib.readTail(ctx, customerID, ib.opts.ClampLimit(limit))
	if err != nil {
		return nil, nil, err
	}

	// Appends are already in time order; sort anyway in case a writer raced
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].OccurredAt.Before(window[j].OccurredAt)
	})

	var wm models.Watermark
	if filter.UnreadOnly {
		wm = ib.watermarkOrZero(ctx, customerID)
	}

	now := ib.opts.Now()
	filtered := make([]models.EventRecord, 0, len(window))
	for _, rec := range window {
		if MatchMessage(rec, filter, wm, now) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, window, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func within(at time.Time, hours int, now time.Time) bool {
	if at.IsZero() {
		return false
	}
	return now.Sub(at) <= time.Duration(hours)*time.Hour
}
