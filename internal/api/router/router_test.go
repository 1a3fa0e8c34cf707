package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	"github.com/wolfman30/agenda-ai-platform/internal/conversation"
	"github.com/wolfman30/agenda-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/agenda-ai-platform/internal/http/middleware"
	"github.com/wolfman30/agenda-ai-platform/internal/messaging"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

type stubCatalog struct{}

func (stubCatalog) TenantByPhone(context.Context, string) (*catalog.Tenant, error) {
	return nil, catalog.ErrTenantNotFound
}

func (stubCatalog) TenantByID(_ context.Context, id int64) (*catalog.Tenant, error) {
	return &catalog.Tenant{ID: id}, nil
}

func (stubCatalog) Block(context.Context, int64, string) error   { return nil }
func (stubCatalog) Unblock(context.Context, int64, string) error { return nil }

type stubResponder struct{}

func (stubResponder) Handle(context.Context, conversation.Inbound) string { return "hola" }

type stubStore struct{}

func (stubStore) SetHumanMode(context.Context, string, bool) error { return nil }

type stubReservations struct{}

func (stubReservations) ListByPhone(context.Context, int64, string) ([]reservations.Reservation, error) {
	return nil, nil
}

const secret = "signing-key"

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()
	logger := logging.Default()
	return New(&Config{
		Logger:           logger,
		MessagingHandler: messaging.NewHandler("verify-me", stubCatalog{}, stubResponder{}, nil, logger, nil),
		AdminHandler: handlers.NewAdminHandler(handlers.AdminConfig{
			User:         "admin",
			Password:     "pw",
			Secret:       secret,
			Tenants:      stubCatalog{},
			Blocklist:    stubCatalog{},
			HumanMode:    stubStore{},
			Reservations: stubReservations{},
			Logger:       logger,
		}),
		AdminAuthSecret: secret,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		RateLimiter: limiter,
	})
}

func serve(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodGet, "/health", "", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterWebhookRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", "", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %d %q", rr.Code, rr.Body.String())
	}

	body := `{"entry":[{"changes":[{"value":{"metadata":{"display_phone_number":"598"},"messages":[{"from":"59899","text":{"body":"hola"}}]}}]}]}`
	rr = serve(router, http.MethodPost, "/webhook", body, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "tenant_not_found") {
		t.Fatalf("expected tenant_not_found, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterMetrics(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodPost, "/admin/tenants/1/blocked/59899123456", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	token, err := httpmiddleware.IssueAdminToken(secret, "admin", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr = serve(router, http.MethodPost, "/admin/tenants/1/blocked/59899123456", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestRouterAdminLoginIsPublic(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodPost, "/admin/login", `{"username":"admin","password":"pw"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterRateLimitsWebhook(t *testing.T) {
	router := newTestRouter(t, httpmiddleware.NewRateLimiter(0.001, 1))

	if rr := serve(router, http.MethodPost, "/webhook", `{}`, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPost, "/webhook", `{}`, ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
