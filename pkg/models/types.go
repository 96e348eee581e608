package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction tells whether a record was received from or sent to the customer
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageKind is the WhatsApp message type, collapsed to the kinds the inbox renders
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindUnknown  MessageKind = "unknown"
)

// ParseMessageKind maps a provider message type onto a MessageKind
func ParseMessageKind(s string) MessageKind {
	switch MessageKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText
	case KindImage:
		return KindImage
	case KindVideo:
		return KindVideo
	case KindAudio, "voice":
		return KindAudio
	case KindDocument:
		return KindDocument
	default:
		return KindUnknown
	}
}

// MediaRef points at a binary owned by the media subsystem
type MediaRef struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Path     string `json:"path,omitempty"`
}

// EventRecord is one inbound or outbound message. Records are never mutated
// after they have been appended to a log.
type EventRecord struct {
	ID                string          `json:"id,omitempty"`
	Direction         Direction       `json:"direction"`
	CustomerID        string          `json:"customer_id"`
	DisplayName       string          `json:"display_name,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Kind              MessageKind     `json:"kind"`
	Body              string          `json:"body,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	Media             *MediaRef       `json:"media,omitempty"`
	ExternalMessageID string          `json:"external_message_id,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// IsIncoming reports whether the record was sent by the customer
func (r EventRecord) IsIncoming() bool {
	return r.Direction == DirectionIncoming
}

// HasTag reports whether tag is in the record's tag set
func (r EventRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Watermark marks how far into a customer's incoming history the operator has read.
// A zero LastSeenIncomingAt means the conversation has never been viewed.
type Watermark struct {
	CustomerID         string    `json:"customer_id"`
	LastSeenIncomingAt time.Time `json:"last_seen_incoming_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Seen reports whether the watermark covers the given incoming timestamp
func (w Watermark) Seen(at time.Time) bool {
	if w.LastSeenIncomingAt.IsZero() {
		return false
	}
	return !at.After(w.LastSeenIncomingAt)
}

// CustomerSummary is derived from a bounded window of a customer's log; never persisted
type CustomerSummary struct {
	CustomerID     string         `json:"customer_id"`
	DisplayName    string         `json:"display_name,omitempty"`
	LastRecord     *EventRecord   `json:"last_record,omitempty"`
	TagCounts      map[string]int `json:"tag_counts"`
	UnreadCount    int            `json:"unread_count"`
	LastIncomingAt time.Time      `json:"last_incoming_at"`
}

// LastActivity is the timestamp customers are ordered by; zero when unknown
func (s CustomerSummary) LastActivity() time.Time {
	if s.LastRecord == nil {
		return time.Time{}
	}
	return s.LastRecord.OccurredAt
}

// CustomerFilter narrows the customer list. Zero values disable a filter;
// set filters combine with AND.
type CustomerFilter struct {
	Search      string `json:"q,omitempty"`
	UnreadOnly  bool   `json:"unread,omitempty"`
	RecentHours int    `json:"hours,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

// MessageFilter narrows a single conversation. UnreadOnly keeps incoming
// records newer than the customer's watermark.
type MessageFilter struct {
	Search      string `json:"q,omitempty"`
	UnreadOnly  bool   `json:"unread,omitempty"`
	RecentHours int    `json:"hours,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

// NormalizeCustomerID reduces a phone-derived identifier to its digits.
// Identifiers without digits are returned trimmed and unchanged.
func NormalizeCustomerID(id string) string {
	id = strings.TrimSpace(id)
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return id
	}
	return b.String()
}
