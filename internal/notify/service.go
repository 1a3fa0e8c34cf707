// Package notify tells a tenant's operators that a customer in human mode
// wrote in.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// DefaultThrottle bounds how often one conversation notifies operators.
const DefaultThrottle = 5 * time.Minute

// WhatsAppSender delivers a message through the tenant's gateway session.
type WhatsAppSender interface {
	Send(ctx context.Context, clientID, to, message string) error
}

// Service sends human-handoff notifications by e-mail and WhatsApp.
type Service struct {
	email    EmailSender
	whatsapp WhatsAppSender
	logger   *logging.Logger
	throttle time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// Option customizes the service.
type Option func(*Service)

// WithThrottle overrides DefaultThrottle. Zero disables throttling.
func WithThrottle(d time.Duration) Option {
	return func(s *Service) { s.throttle = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a notifier. Either channel may be nil.
func NewService(email EmailSender, whatsapp WhatsAppSender, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		email:    email,
		whatsapp: whatsapp,
		logger:   logger,
		throttle: DefaultThrottle,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyHandoff forwards the customer's message to the tenant operator's
// e-mail and phone. Both channels are attempted; their errors are joined.
func (s *Service) NotifyHandoff(ctx context.Context, tenant catalog.Tenant, phone, message string) error {
	if !s.allow(tenant.ID, phone) {
		s.logger.Debug("notify: handoff throttled", "tenant_id", tenant.ID, "phone", logging.MaskPhone(phone))
		return nil
	}

	subject := fmt.Sprintf("[%s] Cliente esperando atención: +%s", tenant.Name, phone)
	body := handoffBody(tenant, phone, message, s.now())

	var errs []error
	sentAny := false

	if s.email != nil && strings.TrimSpace(tenant.OperatorEmail) != "" {
		if err := s.email.Send(ctx, EmailMessage{
			To:      tenant.OperatorEmail,
			ToName:  tenant.Name,
			Subject: subject,
			Body:    body,
		}); err != nil {
			errs = append(errs, fmt.Errorf("notify: email operator: %w", err))
		} else {
			sentAny = true
		}
	}

	if s.whatsapp != nil && strings.TrimSpace(tenant.OperatorPhone) != "" && tenant.GatewayClientID != "" {
		if err := s.whatsapp.Send(ctx, tenant.GatewayClientID, tenant.OperatorPhone, body); err != nil {
			errs = append(errs, fmt.Errorf("notify: whatsapp operator: %w", err))
		} else {
			sentAny = true
		}
	}

	if !sentAny && len(errs) == 0 {
		s.logger.Warn("notify: tenant has no operator contact", "tenant_id", tenant.ID)
	}
	if len(errs) > 0 {
		s.forget(tenant.ID, phone)
		return errors.Join(errs...)
	}
	s.logger.Info("notify: operator notified of handoff", "tenant_id", tenant.ID, "phone", logging.MaskPhone(phone))
	return nil
}

func handoffBody(tenant catalog.Tenant, phone, message string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 El cliente +%s escribió a %s y está en modo humano.\n", phone, tenant.Name)
	fmt.Fprintf(&b, "🕒 %s\n", at.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "💬 \"%s\"", strings.TrimSpace(message))
	return b.String()
}

func (s *Service) allow(tenantID int64, phone string) bool {
	if s.throttle <= 0 {
		return true
	}
	key := fmt.Sprintf("%d:%s", tenantID, phone)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.last[key]; ok && now.Sub(at) < s.throttle {
		return false
	}
	s.last[key] = now
	for k, at := range s.last {
		if now.Sub(at) >= s.throttle {
			delete(s.last, k)
		}
	}
	return true
}

func (s *Service) forget(tenantID int64, phone string) {
	s.mu.Lock()
	delete(s.last, fmt.Sprintf("%d:%s", tenantID, phone))
	s.mu.Unlock()
}
