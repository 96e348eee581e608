package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/logstore"
	"whatsapp-inbox/pkg/metrics"
	"whatsapp-inbox/pkg/models"
	"whatsapp-inbox/pkg/watermark"
)

// asyncAppendTimeout bounds a background append started by IngestAsync
const asyncAppendTimeout = 10 * time.Second

// Options sizes the read windows. Requested sizes are clamped, never rejected.
type Options struct {
	SummaryWindow int
	MessageLimit  int
	MaxWindow     int
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		SummaryWindow: constants.DefaultSummaryWindow,
		MessageLimit:  constants.DefaultMessageLimit,
		MaxWindow:     constants.DefaultMaxWindow,
		Now:           time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWindow <= 0 {
		o.MaxWindow = d.MaxWindow
	}
	if o.SummaryWindow <= 0 {
		o.SummaryWindow = d.SummaryWindow
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = d.MessageLimit
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// ClampWindow maps a requested summary window into [1, MaxWindow];
// non-positive requests get the configured default
func (o Options) ClampWindow(n int) int {
	return clamp(n, o.SummaryWindow, o.MaxWindow)
}

// ClampLimit is ClampWindow for chat views
func (o Options) ClampLimit(n int) int {
	return clamp(n, o.MessageLimit, o.MaxWindow)
}

func clamp(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

// Inbox ties the log and watermark stores together. It holds no derived
// state: every summary is recomputed from the stores on each call.
type Inbox struct {
	logs       logstore.Store
	watermarks watermark.Store
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	opts       Options

	pending sync.WaitGroup
}

func NewInbox(logs logstore.Store, watermarks watermark.Store, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *Inbox {
	return &Inbox{
		logs:       logs,
		watermarks: watermarks,
		logger:     logger,
		metrics:    metrics,
		opts:       opts.withDefaults(),
	}
}

func (ib *Inbox) Options() Options {
	return ib.opts
}

// IngestIncoming appends a record received from the customer. Storage
// failures are logged and counted, never returned: the webhook has already
// been acknowledged.
func (ib *Inbox) IngestIncoming(ctx context.Context, rec models.EventRecord) {
	rec.Direction = models.DirectionIncoming
	ib.append(ctx, rec)
}

// IngestOutgoing appends a record for a message that was already delivered
// upstream. Failures are logged, not returned.
func (ib *Inbox) IngestOutgoing(ctx context.Context, rec models.EventRecord) {
	rec.Direction = models.DirectionOutgoing
	ib.append(ctx, rec)
}

// IngestAsync appends records in order on one background goroutine so the
// caller can respond before storage I/O finishes. Records from one delivery
// share a receipt time, so their log order is the only order they have.
// Wait drains these.
func (ib *Inbox) IngestAsync(records []models.EventRecord) {
	if len(records) == 0 {
		return
	}

	ib.pending.Add(1)
	go func() {
		defer ib.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), asyncAppendTimeout)
		defer cancel()

		for _, rec := range records {
			if rec.Direction == models.DirectionOutgoing {
				ib.IngestOutgoing(ctx, rec)
				continue
			}
			ib.IngestIncoming(ctx, rec)
		}
	}()
}

// Wait blocks until every append started by IngestAsync has finished or ctx ends
func (ib *Inbox) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ib.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending appends not drained: %w", ctx.Err())
	}
}

func (ib *Inbox) append(ctx context.Context, rec models.EventRecord) {
	start := time.Now()
	defer func() {
		ib.metrics.StoreOperationDuration.WithLabelValues("append").Observe(time.Since(start).Seconds())
	}()

	direction := string(rec.Direction)
	if err := ib.logs.Append(ctx, rec); err != nil {
		ib.metrics.AppendFailures.WithLabelValues(direction).Inc()
		ib.logger.WithError(err).WithFields(logrus.Fields{
			"customer_id":         rec.CustomerID,
			"direction":           direction,
			"external_message_id": rec.ExternalMessageID,
		}).Error("Failed to append event record")
		return
	}

	ib.metrics.RecordsAppended.WithLabelValues(direction).Inc()
	ib.logger.WithFields(logrus.Fields{
		"customer_id": rec.CustomerID,
		"direction":   direction,
		"tags":        rec.Tags,
	}).Debug("Ingested event record")
}

// GetCustomerList summarizes every customer and applies filter, most
// recently active first. window <= 0 uses the configured summary window.
func (ib *Inbox) GetCustomerList(ctx context.Context, filter models.CustomerFilter, window int) ([]models.CustomerSummary, error) {
	return ib.ListCustomers(ctx, filter, window)
}

// GetCustomerMessages returns the filtered chat view without touching the watermark
func (ib *Inbox) GetCustomerMessages(ctx context.Context, customerID string, filter models.MessageFilter, limit int) ([]models.EventRecord, error) {
	records, _, err := ib.readConversation(ctx, customerID, limit, filter)
	return records, err
}

// ViewCustomer is the operator opening a chat: the filtered read followed by
// AdvanceWatermarkIfNewer over the whole window that was read. A failed
// watermark write is logged and does not fail the view.
func (ib *Inbox) ViewCustomer(ctx context.Context, customerID string, filter models.MessageFilter, limit int) ([]models.EventRecord, error) {
	records, window, err := ib.readConversation(ctx, customerID, limit, filter)
	if err != nil {
		return nil, err
	}

	if _, err := ib.AdvanceWatermarkIfNewer(ctx, customerID, window); err != nil {
		ib.metrics.WatermarkFailures.Inc()
		ib.logger.WithError(err).WithField("customer_id", customerID).Error("Failed to advance watermark")
	}

	return records, nil
}

// AdvanceWatermarkIfNewer moves the customer's watermark to the latest
// incoming timestamp in records when that is strictly later than the stored
// value. Repeating the call with the same records writes nothing.
func (ib *Inbox) AdvanceWatermarkIfNewer(ctx context.Context, customerID string, records []models.EventRecord) (bool, error) {
	latest := latestIncoming(records)
	if latest.IsZero() {
		return false, nil
	}

	current, err := ib.readWatermark(ctx, customerID)
	if err != nil {
		return false, err
	}
	if !latest.After(current.LastSeenIncomingAt) {
		return false, nil
	}

	start := time.Now()
	defer func() {
		ib.metrics.StoreOperationDuration.WithLabelValues("write_watermark").Observe(time.Since(start).Seconds())
	}()

	if err := ib.watermarks.Write(ctx, customerID, latest); err != nil {
		return false, fmt.Errorf("failed to advance watermark: %w", err)
	}

	ib.metrics.WatermarkAdvances.Inc()
	ib.logger.WithFields(logrus.Fields{
		"customer_id":           customerID,
		"last_seen_incoming_at": latest,
	}).Debug("Advanced watermark")

	return true, nil
}

// AuditDay returns the tail of one day's log; the summary path never reads it
func (ib *Inbox) AuditDay(ctx context.Context, day time.Time, n int) ([]models.EventRecord, error) {
	if n <= 0 {
		n = constants.DefaultAuditLimit
	}

	start := time.Now()
	defer func() {
		ib.metrics.StoreOperationDuration.WithLabelValues("read_day").Observe(time.Since(start).Seconds())
	}()

	records, err := ib.logs.ReadDay(ctx, day, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read day log: %w", err)
	}
	return records, nil
}

func (ib *Inbox) readTail(ctx context.Context, customerID string, n int) ([]models.EventRecord, error) {
	start := time.Now()
	defer func() {
		ib.metrics.StoreOperationDuration.WithLabelValues("read_tail").Observe(time.Since(start).Seconds())
	}()

	records, err := ib.logs.ReadTail(ctx, customerID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read customer log: %w", err)
	}
	return records, nil
}

func (ib *Inbox) readWatermark(ctx context.Context, customerID string) (models.Watermark, error) {
	start := time.Now()
	defer func() {
		ib.metrics.StoreOperationDuration.WithLabelValues("read_watermark").Observe(time.Since(start).Seconds())
	}()

	wm, err := ib.watermarks.Read(ctx, customerID)
	if err != nil {
		return models.Watermark{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	return wm, nil
}

// watermarkOrZero is readWatermark for read paths: a failed read is logged
// and counted, and the customer is treated as never viewed
func (ib *Inbox) watermarkOrZero(ctx context.Context, customerID string) models.Watermark {
	wm, err := ib.readWatermark(ctx, customerID)
	if err != nil {
		ib.metrics.WatermarkFailures.Inc()
		ib.logger.WithError(err).WithField("customer_id", customerID).Warn("Failed to read watermark, counting all incoming as unread")
		return models.Watermark{CustomerID: customerID}
	}
	return wm
}

func latestIncoming(records []models.EventRecord) time.Time {
	var latest time.Time
	for _, rec := range records {
		if rec.IsIncoming() && rec.OccurredAt.After(latest) {
			latest = rec.OccurredAt
		}
	}
	return latest
}
