package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEnvelope = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "+598 2400 1234", "phone_number_id": "106540352242922"},
        "messages": [{"id": "wamid.HBgL", "from": "59899123456", "type": "text", "text": {"body": "  hola  "}}]
      }
    }]
  }]
}`

func TestParseEnvelope(t *testing.T) {
	msg, err := ParseEnvelope([]byte(sampleEnvelope))
	require.NoError(t, err)
	assert.Equal(t, "wamid.HBgL", msg.MessageID)
	assert.Equal(t, "59899123456", msg.From)
	assert.Equal(t, "59824001234", msg.To)
	assert.Equal(t, "hola", msg.Body)
}

func TestParseEnvelopeWithoutMessage(t *testing.T) {
	cases := []string{
		`{}`,
		`{"entry": []}`,
		`{"entry": [{"changes": []}]}`,
		`{"entry": [{"changes": [{"value": {"statuses": [{"id": "x"}]}}]}]}`,
		`{"entry": [{"changes": [{"value": {"messages": [{"from": "598991", "type": "image"}]}}]}]}`,
	}
	for _, body := range cases {
		_, err := ParseEnvelope([]byte(body))
		assert.ErrorIs(t, err, ErrNoMessage, body)
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"entry":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMessage)
}
