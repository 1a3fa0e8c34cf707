package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var gatewayTracer = otel.Tracer("agenda.internal.messaging.gateway")

const maxSendAttempts = 3

// GatewayClient talks to the WhatsApp session gateway. Each tenant owns one
// gateway session identified by its client id.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.MessagingMetrics
	backoff    func(attempt int) time.Duration

	mu      sync.Mutex
	started map[string]bool
}

// GatewayOption customizes the client.
type GatewayOption func(*GatewayClient)

// WithHTTPClient overrides the default 10s-timeout client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GatewayClient) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithGatewayMetrics records outbound results.
func WithGatewayMetrics(m *metrics.MessagingMetrics) GatewayOption {
	return func(g *GatewayClient) { g.metrics = m }
}

func withBackoff(fn func(int) time.Duration) GatewayOption {
	return func(g *GatewayClient) { g.backoff = fn }
}

// NewGatewayClient builds a client for the gateway at baseURL.
func NewGatewayClient(baseURL string, logger *logging.Logger, opts ...GatewayOption) *GatewayClient {
	if logger == nil {
		logger = logging.Default()
	}
	g := &GatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
		started: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type sendPayload struct {
	ClienteID string `json:"clienteId"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

// Send delivers message to the phone through the tenant's gateway session,
// starting the session on first use. Transient failures are retried.
func (g *GatewayClient) Send(ctx context.Context, clientID, to, message string) error {
	if g.baseURL == "" {
		return errors.New("messaging: gateway url not configured")
	}
	if strings.TrimSpace(clientID) == "" {
		return errors.New("messaging: client id required")
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("messaging: message required")
	}

	ctx, span := gatewayTracer.Start(ctx, "messaging.gateway.send")
	defer span.End()
	span.SetAttributes(attribute.String("agenda.gateway.client_id", clientID))

	g.ensureStarted(ctx, clientID)

	body, err := json.Marshal(sendPayload{ClienteID: clientID, To: to, Message: message})
	if err != nil {
		return fmt.Errorf("messaging: marshal send: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/send", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				g.metrics.ObserveOutbound("sent")
				g.logger.Info("gateway message sent", "client_id", clientID, "to", logging.MaskPhone(to), "attempt", attempt)
				return nil
			}
			lastErr = fmt.Errorf("messaging: gateway send status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		}

		if attempt < maxSendAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxSendAttempts
			case <-time.After(g.backoff(attempt)):
			}
		}
	}

	g.metrics.ObserveOutbound("failed")
	span.RecordError(lastErr)
	g.logger.Error("gateway send failed", "client_id", clientID, "to", logging.MaskPhone(to), "error", lastErr)
	return lastErr
}

// ensureStarted issues the one-time GET /iniciar/<clientID> warm-up. A failed
// warm-up is retried on the next send.
func (g *GatewayClient) ensureStarted(ctx context.Context, clientID string) {
	g.mu.Lock()
	done := g.started[clientID]
	g.mu.Unlock()
	if done {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/iniciar/"+url.PathEscape(clientID), nil)
	if err != nil {
		return
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("gateway session warm-up failed", "client_id", clientID, "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		g.logger.Warn("gateway session warm-up rejected", "client_id", clientID, "status", resp.StatusCode)
		return
	}

	g.mu.Lock()
	g.started[clientID] = true
	g.mu.Unlock()
	g.logger.Info("gateway session started", "client_id", clientID)
}

// SessionStates returns the gateway's per-client session document as-is.
func (g *GatewayClient) SessionStates(ctx context.Context) (json.RawMessage, error) {
	if g.baseURL == "" {
		return nil, errors.New("messaging: gateway url not configured")
	}
	ctx, span := gatewayTracer.Start(ctx, "messaging.gateway.sessions")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/estado-sesiones", nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: build sessions request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("messaging: fetch sessions: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("messaging: read sessions: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("messaging: sessions status %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, errors.New("messaging: sessions response is not json")
	}
	return json.RawMessage(body), nil
}
