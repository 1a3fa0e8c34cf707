package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
)

type mockEmailSender struct {
	sent []EmailMessage
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type whatsappMsg struct{ clientID, to, body string }

type mockWhatsApp struct {
	sent []whatsappMsg
	err  error
}

func (m *mockWhatsApp) Send(_ context.Context, clientID, to, body string) error {
	m.sent = append(m.sent, whatsappMsg{clientID, to, body})
	return m.err
}

func testTenant() catalog.Tenant {
	return catalog.Tenant{
		ID:              1,
		Name:            "Barbería Sur",
		GatewayClientID: "barberia",
		OperatorEmail:   "dueno@example.com",
		OperatorPhone:   "59899000111",
	}
}

func TestNotifyHandoffBothChannels(t *testing.T) {
	email := &mockEmailSender{}
	wa := &mockWhatsApp{}
	svc := NewService(email, wa, nil)

	err := svc.NotifyHandoff(context.Background(), testTenant(), "59899123456", "quiero hablar con alguien")

	require.NoError(t, err)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "dueno@example.com", email.sent[0].To)
	assert.Contains(t, email.sent[0].Subject, "+59899123456")
	assert.Contains(t, email.sent[0].Body, "quiero hablar con alguien")
	require.Len(t, wa.sent, 1)
	assert.Equal(t, "barberia", wa.sent[0].clientID)
	assert.Equal(t, "59899000111", wa.sent[0].to)
}

func TestNotifyHandoffThrottles(t *testing.T) {
	now := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	email := &mockEmailSender{}
	svc := NewService(email, nil, nil, WithClock(func() time.Time { return now }))

	require.NoError(t, svc.NotifyHandoff(context.Background(), testTenant(), "59899123456", "uno"))
	require.NoError(t, svc.NotifyHandoff(context.Background(), testTenant(), "59899123456", "dos"))
	require.NoError(t, svc.NotifyHandoff(context.Background(), testTenant(), "59899999999", "otro cliente"))
	assert.Len(t, email.sent, 2)

	now = now.Add(DefaultThrottle)
	require.NoError(t, svc.NotifyHandoff(context.Background(), testTenant(), "59899123456", "tres"))
	assert.Len(t, email.sent, 3)
}

func TestNotifyHandoffJoinsErrorsAndRetries(t *testing.T) {
	email := &mockEmailSender{err: errors.New("sendgrid down")}
	wa := &mockWhatsApp{}
	svc := NewService(email, wa, nil)

	err := svc.NotifyHandoff(context.Background(), testTenant(), "59899123456", "hola")
	assert.ErrorContains(t, err, "sendgrid down")
	assert.Len(t, wa.sent, 1)

	email.err = nil
	require.NoError(t, svc.NotifyHandoff(context.Background(), testTenant(), "59899123456", "hola"))
	assert.Len(t, email.sent, 2)
}

func TestNotifyHandoffWithoutContacts(t *testing.T) {
	email := &mockEmailSender{}
	wa := &mockWhatsApp{}
	svc := NewService(email, wa, nil, WithThrottle(0))

	tenant := testTenant()
	tenant.OperatorEmail = ""
	tenant.OperatorPhone = ""
	require.NoError(t, svc.NotifyHandoff(context.Background(), tenant, "59899123456", "hola"))
	assert.Empty(t, email.sent)
	assert.Empty(t, wa.sent)
}
