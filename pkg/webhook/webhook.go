package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-inbox/pkg/models"
	"whatsapp-inbox/pkg/tagging"
)

// SignatureHeader carries the HMAC-SHA256 of the request body keyed by the app secret
const SignatureHeader = "X-Hub-Signature-256"

var (
	ErrVerifyRejected   = errors.New("webhook verification rejected")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Payload is the subset of a WhatsApp Cloud API webhook body the inbox reads
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []json.RawMessage `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *media `json:"image"`
	Video    *media `json:"video"`
	Audio    *media `json:"audio"`
	Voice    *media `json:"voice"`
	Document *media `json:"document"`
}

// Verify answers the subscription handshake: the challenge is echoed back
// only for mode "subscribe" with the configured token.
func Verify(mode, token, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" || expectedToken == "" || !hmac.Equal([]byte(token), []byte(expectedToken)) {
		return "", ErrVerifyRejected
	}
	return challenge, nil
}

// VerifySignature checks header against the HMAC of body. An empty secret
// disables the check.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}

	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value VerifySignature accepts for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Normalizer turns webhook payloads into incoming event records
type Normalizer struct {
	classifier *tagging.Classifier
}

func NewNormalizer(classifier *tagging.Classifier) *Normalizer {
	if classifier == nil {
		classifier = tagging.MustNewClassifier(tagging.DefaultRules)
	}
	return &Normalizer{classifier: classifier}
}

// Parse decodes a raw webhook body
func Parse(body []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return &payload, nil
}

// Normalize returns one incoming record per message in the payload, stamped
// with receivedAt. Status callbacks carry no messages and yield nothing;
// individual messages that cannot be decoded are skipped and counted.
func (n *Normalizer) Normalize(payload *Payload, receivedAt time.Time) ([]models.EventRecord, int) {
	var records []models.EventRecord
	skipped := 0

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[models.NormalizeCustomerID(c.WaID)] = c.Profile.Name
			}

			for _, raw := range change.Value.Messages {
				rec, err := n.normalizeMessage(raw, names, receivedAt)
				if err != nil {
					skipped++
					continue
				}
				records = append(records, rec)
			}
		}
	}

	return records, skipped
}

func (n *Normalizer) normalizeMessage(raw json.RawMessage, names map[string]string, receivedAt time.Time) (models.EventRecord, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.EventRecord{}, err
	}

	customerID := models.NormalizeCustomerID(msg.From)
	if customerID == "" {
		return models.EventRecord{}, fmt.Errorf("message %q has no sender", msg.ID)
	}

	rec := models.EventRecord{
		Direction:         models.DirectionIncoming,
		CustomerID:        customerID,
		DisplayName:       names[customerID],
		OccurredAt:        receivedAt.UTC(),
		Kind:              models.ParseMessageKind(msg.Type),
		ExternalMessageID: msg.ID,
		Raw:               append(json.RawMessage(nil), raw...),
	}

	if msg.Text != nil {
		rec.Body = msg.Text.Body
	}
	if m := msg.mediaPart(); m != nil {
		rec.Body = m.Caption
		rec.Media = &models.MediaRef{ID: m.ID, MimeType: m.MimeType}
	}

	rec.Tags = n.classifier.Classify(rec.Body)
	return rec, nil
}

func (m message) mediaPart() *media {
	switch {
	case m.Image != nil:
		return m.Image
	case m.Video != nil:
		return m.Video
	case m.Audio != nil:
		return m.Audio
	case m.Voice != nil:
		return m.Voice
	case m.Document != nil:
		return m.Document
	}
	return nil
}
