package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
)

// ErrNoMessage marks envelopes without a text message (status updates,
// reactions, media).
var ErrNoMessage = errors.New("messaging: envelope carries no text message")

// Envelope is the message-changed notification posted by the WhatsApp
// platform.
type Envelope struct {
	Object string          `json:"object"`
	Entry  []EnvelopeEntry `json:"entry"`
}

type EnvelopeEntry struct {
	ID      string           `json:"id"`
	Changes []EnvelopeChange `json:"changes"`
}

type EnvelopeChange struct {
	Field string        `json:"field"`
	Value EnvelopeValue `json:"value"`
}

type EnvelopeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         EnvelopeMetadata  `json:"metadata"`
	Messages         []EnvelopeMessage `json:"messages"`
}

type EnvelopeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type EnvelopeMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// InboundMessage is the single text message extracted from an envelope.
type InboundMessage struct {
	MessageID string
	From      string
	To        string
	Body      string
}

// ParseEnvelope decodes body and returns entry[0].changes[0].value.messages[0].
func ParseEnvelope(body []byte) (*InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("messaging: decode envelope: %w", err)
	}
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return nil, ErrNoMessage
	}
	value := env.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil, ErrNoMessage
	}
	msg := value.Messages[0]
	text := strings.TrimSpace(msg.Text.Body)
	from := textnorm.Digits(msg.From)
	if text == "" || from == "" {
		return nil, ErrNoMessage
	}
	return &InboundMessage{
		MessageID: msg.ID,
		From:      from,
		To:        textnorm.Digits(value.Metadata.DisplayPhoneNumber),
		Body:      text,
	}, nil
}
