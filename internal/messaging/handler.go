package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/conversation"
	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var webhookTracer = otel.Tracer("agenda.internal.messaging.webhook")

const maxEnvelopeBytes = 1 << 20

// DefaultSendTimeout bounds reply delivery once the dialog turn is over.
const DefaultSendTimeout = 10 * time.Second

// TenantResolver maps the business phone that received a message to its tenant.
type TenantResolver interface {
	TenantByPhone(ctx context.Context, phone string) (*catalog.Tenant, error)
}

// Responder produces the reply text for one inbound message.
type Responder interface {
	Handle(ctx context.Context, in conversation.Inbound) string
}

// Sender delivers a reply through the tenant's gateway session.
type Sender interface {
	Send(ctx context.Context, clientID, to, message string) error
}

// Handler serves the WhatsApp webhook.
type Handler struct {
	verifyToken string
	tenants     TenantResolver
	responder   Responder
	sender      Sender
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
	timeout     time.Duration
	sendTimeout time.Duration
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithRequestTimeout bounds tenant lookup plus the dialog turn.
func WithRequestTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithSendTimeout bounds reply delivery, which runs after the request
// deadline may already have passed.
func WithSendTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// NewHandler creates a webhook handler. A nil sender logs replies instead of
// delivering them.
func NewHandler(verifyToken string, tenants TenantResolver, responder Responder, sender Sender, logger *logging.Logger, m *metrics.MessagingMetrics, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if tenants == nil {
		panic("messaging: tenant resolver cannot be nil")
	}
	if responder == nil {
		panic("messaging: responder cannot be nil")
	}
	h := &Handler{
		verifyToken: verifyToken,
		tenants:     tenants,
		responder:   responder,
		sender:      sender,
		logger:      logger,
		metrics:     m,
		timeout:     conversation.DefaultTimeout,
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Verify handles GET /webhook subscription checks.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

// Inbound handles POST /webhook. The reply is computed and sent before the
// platform gets its 200.
func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.webhook.inbound")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		h.finish(w, http.StatusBadRequest, "invalid_payload", started)
		return
	}
	msg, err := ParseEnvelope(body)
	if errors.Is(err, ErrNoMessage) {
		h.finish(w, http.StatusOK, "ignored", started)
		return
	}
	if err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		span.RecordError(err)
		h.finish(w, http.StatusBadRequest, "invalid_payload", started)
		return
	}
	span.SetAttributes(
		attribute.String("agenda.whatsapp.message_id", msg.MessageID),
		attribute.String("agenda.whatsapp.to", msg.To),
	)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	tenant, err := h.tenants.TenantByPhone(ctx, msg.To)
	if errors.Is(err, catalog.ErrTenantNotFound) {
		h.logger.Warn("no tenant for business phone", "to", msg.To)
		h.finish(w, http.StatusOK, "tenant_not_found", started)
		return
	}
	if err != nil {
		h.logger.Error("failed to resolve tenant", "error", err, "to", msg.To)
		span.RecordError(err)
		h.finish(w, http.StatusOK, "error", started)
		return
	}
	span.SetAttributes(attribute.Int64("agenda.tenant_id", tenant.ID))

	reply := h.responder.Handle(ctx, conversation.Inbound{
		TenantID: tenant.ID,
		Phone:    msg.From,
		Text:     msg.Body,
	})
	if reply == "" {
		h.finish(w, http.StatusOK, "no_reply", started)
		return
	}

	if h.sender == nil {
		h.logger.Info("reply not delivered, gateway disabled", "tenant_id", tenant.ID, "phone", logging.MaskPhone(msg.From))
		h.finish(w, http.StatusOK, "processed", started)
		return
	}
	// The turn may have consumed the whole request deadline and replied with
	// the generic failure text; that reply still has to reach the user.
	sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), h.sendTimeout)
	defer cancelSend()
	if err := h.sender.Send(sendCtx, tenant.GatewayClientID, msg.From, reply); err != nil {
		span.RecordError(err)
		h.finish(w, http.StatusOK, "send_failed", started)
		return
	}
	h.finish(w, http.StatusOK, "processed", started)
}

func (h *Handler) finish(w http.ResponseWriter, code int, status string, started time.Time) {
	h.metrics.ObserveInbound(status)
	h.metrics.ObserveWebhookLatency(status, time.Since(started).Seconds())
	writeJSON(w, code, map[string]string{"status": status})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
