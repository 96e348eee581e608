package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-inbox/pkg/models"
	"whatsapp-inbox/pkg/tagging"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": "PNID"},
        "contacts": [{"profile": {"name": "Ana"}, "wa_id": "15551234567"}],
        "messages": [
          {"from": "15551234567", "id": "wamid.A", "timestamp": "1700000000", "type": "text", "text": {"body": "Where is my package?"}},
          {"from": "15551234567", "id": "wamid.B", "timestamp": "1700000001", "type": "image",
           "image": {"id": "MEDIA1", "mime_type": "image/jpeg", "caption": "it arrived broken", "sha256": "x"}},
          {"from": "15551234567", "id": "wamid.C", "timestamp": "1700000002", "type": "sticker", "sticker": {"id": "S1"}},
          "not an object"
        ]
      }
    }]
  }]
}`

const statusPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "WABA_ID", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "statuses": [{"id": "wamid.X", "status": "delivered", "timestamp": "1700000000", "recipient_id": "15551234567"}]
  }}]}]
}`

func TestNormalize_Messages(t *testing.T) {
	payload, err := Parse([]byte(samplePayload))
	require.NoError(t, err)

	received := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	records, skipped := NewNormalizer(nil).Normalize(payload, received)

	assert.Equal(t, 1, skipped)
	require.Len(t, records, 3)

	text := records[0]
	assert.Equal(t, models.DirectionIncoming, text.Direction)
	assert.Equal(t, "15551234567", text.CustomerID)
	assert.Equal(t, "Ana", text.DisplayName)
	assert.Equal(t, models.KindText, text.Kind)
	assert.Equal(t, "Where is my package?", text.Body)
	assert.Equal(t, []string{tagging.TagLogistics}, text.Tags)
	assert.Equal(t, "wamid.A", text.ExternalMessageID)
	assert.True(t, text.OccurredAt.Equal(received), "receipt time, not provider time")
	assert.Equal(t, time.UTC, text.OccurredAt.Location())
	assert.Contains(t, string(text.Raw), `"wamid.A"`)

	image := records[1]
	assert.Equal(t, models.KindImage, image.Kind)
	assert.Equal(t, "it arrived broken", image.Body)
	require.NotNil(t, image.Media)
	assert.Equal(t, "MEDIA1", image.Media.ID)
	assert.Equal(t, "image/jpeg", image.Media.MimeType)
	assert.Contains(t, image.Tags, tagging.TagAfterSales)

	sticker := records[2]
	assert.Equal(t, models.KindUnknown, sticker.Kind)
	assert.Empty(t, sticker.Body)
	assert.Empty(t, sticker.Tags)
}

func TestNormalize_StatusesYieldNothing(t *testing.T) {
	payload, err := Parse([]byte(statusPayload))
	require.NoError(t, err)

	records, skipped := NewNormalizer(nil).Normalize(payload, time.Now())
	assert.Empty(t, records)
	assert.Zero(t, skipped)
}

func TestNormalize_CustomClassifier(t *testing.T) {
	payload, err := Parse([]byte(samplePayload))
	require.NoError(t, err)

	c := tagging.MustNewClassifier([]tagging.Rule{{Tag: "where", Keywords: []string{"where"}}})
	records, _ := NewNormalizer(c).Normalize(payload, time.Now())
	require.NotEmpty(t, records)
	assert.Equal(t, []string{"where"}, records[0].Tags)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"entry": "nope"`))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	challenge, err := Verify("subscribe", "secret-token", "12345", "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "12345", challenge)

	_, err = Verify("subscribe", "wrong", "12345", "secret-token")
	assert.ErrorIs(t, err, ErrVerifyRejected)

	_, err = Verify("unsubscribe", "secret-token", "12345", "secret-token")
	assert.ErrorIs(t, err, ErrVerifyRejected)

	_, err = Verify("subscribe", "", "12345", "")
	assert.ErrorIs(t, err, ErrVerifyRejected, "an unconfigured token never verifies")
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)

	assert.NoError(t, VerifySignature("", body, ""), "no secret disables the check")
	assert.NoError(t, VerifySignature("app-secret", body, Sign("app-secret", body)))
	assert.ErrorIs(t, VerifySignature("app-secret", body, Sign("other", body)), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("app-secret", body, ""), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("app-secret", body, "sha256=zz"), ErrInvalidSignature)
}
