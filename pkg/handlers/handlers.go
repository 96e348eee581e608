package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/inbox"
	"whatsapp-inbox/pkg/metrics"
	"whatsapp-inbox/pkg/models"
	"whatsapp-inbox/pkg/tagging"
	"whatsapp-inbox/pkg/webhook"
)

const maxWebhookBody = 1 << 20

// Webhook delivery outcomes, used as the metric label
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeEmpty     = "empty"
)

type Settings struct {
	VerifyToken string
	AppSecret   string
	// Ping checks the storage backend for /health; nil means always healthy
	Ping func(ctx context.Context) error
}

type Handler struct {
	inbox      *inbox.Inbox
	normalizer *webhook.Normalizer
	classifier *tagging.Classifier
	settings   Settings
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewHandler(ib *inbox.Inbox, classifier *tagging.Classifier, settings Settings, logger *logrus.Logger, metrics *metrics.Metrics) *Handler {
	if classifier == nil {
		classifier = tagging.MustNewClassifier(tagging.DefaultRules)
	}
	return &Handler{
		inbox:      ib,
		normalizer: webhook.NewNormalizer(classifier),
		classifier: classifier,
		settings:   settings,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

func (h *Handler) WebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := webhook.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.settings.VerifyToken)
	if err != nil {
		h.logger.WithField("mode", q.Get("hub.mode")).Warn("Rejected webhook verification")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, challenge)
}

// WebhookReceive acknowledges the delivery before any record is stored.
// Appends run in the background and their failures only reach logs and metrics.
func (h *Handler) WebhookReceive(w http.ResponseWriter, r *http.Request) {
	receivedAt := h.now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.WebhookDeliveries.WithLabelValues(OutcomeMalformed).Inc()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := webhook.VerifySignature(h.settings.AppSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		h.metrics.WebhookDeliveries.WithLabelValues(OutcomeRejected).Inc()
		h.logger.WithError(err).Warn("Rejected webhook delivery")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	payload, err := webhook.Parse(body)
	if err != nil {
		h.metrics.WebhookDeliveries.WithLabelValues(OutcomeMalformed).Inc()
		h.logger.WithError(err).Warn("Malformed webhook delivery")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	records, skipped := h.normalizer.Normalize(payload, receivedAt)

	w.WriteHeader(http.StatusOK)

	if len(records) == 0 {
		h.metrics.WebhookDeliveries.WithLabelValues(OutcomeEmpty).Inc()
	} else {
		h.metrics.WebhookDeliveries.WithLabelValues(OutcomeAccepted).Inc()
	}
	h.inbox.IngestAsync(records)

	h.logger.WithFields(logrus.Fields{
		"records": len(records),
		"skipped": skipped,
	}).Debug("Processed webhook delivery")
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CustomerFilter{
		Search:      q.Get("q"),
		UnreadOnly:  parseBool(q.Get("unread")),
		RecentHours: parseInt(q.Get("hours")),
		Tag:         q.Get("tag"),
	}

	summaries, err := h.inbox.GetCustomerList(r.Context(), filter, parseInt(q.Get("window")))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list customers")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []models.CustomerSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customers": summaries,
		"count":     len(summaries),
	})
}

// CustomerMessages opens a chat. Unless peek is set, opening it marks the
// conversation read up to its newest incoming record.
func (h *Handler) CustomerMessages(w http.ResponseWriter, r *http.Request) {
	customerID := models.NormalizeCustomerID(mux.Vars(r)["id"])
	if customerID == "" {
		http.Error(w, "Missing customer ID", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	filter := models.MessageFilter{
		Search:      q.Get("q"),
		UnreadOnly:  parseBool(q.Get("unread")),
		RecentHours: parseInt(q.Get("hours")),
		Tag:         q.Get("tag"),
	}
	limit := parseInt(q.Get("limit"))
	peek := parseBool(q.Get("peek"))

	var (
		records []models.EventRecord
		err     error
	)
	if peek {
		records, err = h.inbox.GetCustomerMessages(r.Context(), customerID, filter, limit)
	} else {
		records, err = h.inbox.ViewCustomer(r.Context(), customerID, filter, limit)
	}
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", customerID).Error("Failed to read conversation")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.EventRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"messages":    records,
		"count":       len(records),
	})
}

// RecordOutgoing logs a message that the send path has already delivered
func (h *Handler) RecordOutgoing(w http.ResponseWriter, r *http.Request) {
	customerID := models.NormalizeCustomerID(mux.Vars(r)["id"])
	if customerID == "" {
		http.Error(w, "Missing customer ID", http.StatusBadRequest)
		return
	}

	var request struct {
		Body              string           `json:"body"`
		Kind              string           `json:"kind"`
		DisplayName       string           `json:"display_name"`
		ExternalMessageID string           `json:"external_message_id"`
		Media             *models.MediaRef `json:"media,omitempty"`
		OccurredAt        time.Time        `json:"occurred_at"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.OccurredAt.IsZero() {
		request.OccurredAt = h.now()
	}
	kind := models.KindText
	if request.Kind != "" {
		kind = models.ParseMessageKind(request.Kind)
	}

	rec := models.EventRecord{
		Direction:         models.DirectionOutgoing,
		CustomerID:        customerID,
		DisplayName:       request.DisplayName,
		OccurredAt:        request.OccurredAt.UTC(),
		Kind:              kind,
		Body:              request.Body,
		Tags:              h.classifier.Classify(request.Body),
		Media:             request.Media,
		ExternalMessageID: request.ExternalMessageID,
	}
	h.inbox.IngestOutgoing(r.Context(), rec)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":     true,
		"customer_id": customerID,
		"tags":        rec.Tags,
		"recorded_at": rec.OccurredAt,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.settings.Ping != nil {
		if err := h.settings.Ping(r.Context()); err != nil {
			h.logger.WithError(err).Warn("Storage health check failed")
			http.Error(w, "Health check failed", http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// parseInt returns 0 for anything unparseable so the inbox applies its default
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
