// Package handlers serves the admin API.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	httpmiddleware "github.com/wolfman30/agenda-ai-platform/internal/http/middleware"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// DefaultTokenTTL is the lifetime of an admin login token.
const DefaultTokenTTL = 12 * time.Hour

type TenantLookup interface {
	TenantByID(ctx context.Context, id int64) (*catalog.Tenant, error)
}

type Blocklist interface {
	Block(ctx context.Context, tenantID int64, phone string) error
	Unblock(ctx context.Context, tenantID int64, phone string) error
}

type HumanModeStore interface {
	SetHumanMode(ctx context.Context, phone string, on bool) error
}

type ReservationLister interface {
	ListByPhone(ctx context.Context, tenantID int64, phone string) ([]reservations.Reservation, error)
}

type SessionSource interface {
	SessionStates(ctx context.Context) (json.RawMessage, error)
}

// AdminConfig wires the admin handler. Sessions may be nil when no gateway
// is configured.
type AdminConfig struct {
	User         string
	Password     string
	Secret       string
	TokenTTL     time.Duration
	Tenants      TenantLookup
	Blocklist    Blocklist
	HumanMode    HumanModeStore
	Reservations ReservationLister
	Sessions     SessionSource
	Logger       *logging.Logger
	Location     *time.Location
	Now          func() time.Time
}

// AdminHandler hosts the privileged endpoints.
type AdminHandler struct {
	cfg    AdminConfig
	logger *logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Tenants == nil || cfg.Blocklist == nil || cfg.HumanMode == nil || cfg.Reservations == nil {
		panic("handlers: admin dependencies cannot be nil")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AdminHandler{cfg: cfg, logger: cfg.Logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /admin/login.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.cfg.User == "" || h.cfg.Password == "" || h.cfg.Secret == "" {
		http.Error(w, "admin login disabled", http.StatusServiceUnavailable)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.Password)) == 1
	if !userOK || !passOK {
		h.logger.Warn("admin login rejected", "username", req.Username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := h.cfg.Now()
	token, err := httpmiddleware.IssueAdminToken(h.cfg.Secret, req.Username, h.cfg.TokenTTL, now)
	if err != nil {
		h.logger.Error("admin login: sign token failed", "error", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: now.Add(h.cfg.TokenTTL).UTC()})
}

// Sessions handles GET /admin/sessions.
func (h *AdminHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		http.Error(w, "gateway not configured", http.StatusServiceUnavailable)
		return
	}
	raw, err := h.cfg.Sessions.SessionStates(r.Context())
	if err != nil {
		h.logger.Error("admin sessions: gateway query failed", "error", err)
		http.Error(w, "gateway unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// SetHumanMode handles PUT /admin/tenants/{tenantID}/human-mode/{phone}.
func (h *AdminHandler) SetHumanMode(w http.ResponseWriter, r *http.Request) {
	h.humanMode(w, r, true)
}

// ClearHumanMode handles DELETE /admin/tenants/{tenantID}/human-mode/{phone}.
func (h *AdminHandler) ClearHumanMode(w http.ResponseWriter, r *http.Request) {
	h.humanMode(w, r, false)
}

func (h *AdminHandler) humanMode(w http.ResponseWriter, r *http.Request, on bool) {
	tenant, phone, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.cfg.HumanMode.SetHumanMode(r.Context(), phone, on); err != nil {
		h.logger.Error("admin human mode: update failed", "error", err, "tenant_id", tenant.ID)
		http.Error(w, "failed to update human mode", http.StatusInternalServerError)
		return
	}
	h.logger.Info("admin human mode updated", "tenant_id", tenant.ID, "phone", logging.MaskPhone(phone), "human_mode", on)
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant.ID, "phone": phone, "human_mode": on})
}

// Block handles POST /admin/tenants/{tenantID}/blocked/{phone}.
func (h *AdminHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.blocked(w, r, true)
}

// Unblock handles DELETE /admin/tenants/{tenantID}/blocked/{phone}.
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.blocked(w, r, false)
}

func (h *AdminHandler) blocked(w http.ResponseWriter, r *http.Request, block bool) {
	tenant, phone, ok := h.target(w, r)
	if !ok {
		return
	}
	var err error
	if block {
		err = h.cfg.Blocklist.Block(r.Context(), tenant.ID, phone)
	} else {
		err = h.cfg.Blocklist.Unblock(r.Context(), tenant.ID, phone)
	}
	if err != nil {
		h.logger.Error("admin blocklist: update failed", "error", err, "tenant_id", tenant.ID)
		http.Error(w, "failed to update blocklist", http.StatusInternalServerError)
		return
	}
	h.logger.Info("admin blocklist updated", "tenant_id", tenant.ID, "phone", logging.MaskPhone(phone), "blocked", block)
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant.ID, "phone": phone, "blocked": block})
}

type reservationResponse struct {
	Code         string    `json:"code"`
	Service      string    `json:"service"`
	Employee     string    `json:"employee,omitempty"`
	ClientName   string    `json:"client_name"`
	ClientPhone  string    `json:"client_phone"`
	Start        time.Time `json:"start"`
	StartLocal   string    `json:"start_local"`
	DurationMins int       `json:"duration_minutes"`
	PartySize    int       `json:"party_size"`
	Status       string    `json:"status"`
	Past         bool      `json:"past"`
}

// Reservations handles GET /admin/tenants/{tenantID}/reservations/{phone}.
func (h *AdminHandler) Reservations(w http.ResponseWriter, r *http.Request) {
	tenant, phone, ok := h.target(w, r)
	if !ok {
		return
	}
	list, err := h.cfg.Reservations.ListByPhone(r.Context(), tenant.ID, phone)
	if err != nil {
		h.logger.Error("admin reservations: list failed", "error", err, "tenant_id", tenant.ID)
		http.Error(w, "failed to list reservations", http.StatusInternalServerError)
		return
	}
	now := h.cfg.Now()
	out := make([]reservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, reservationResponse{
			Code:         res.Code,
			Service:      res.ServiceName,
			Employee:     res.EmployeeName,
			ClientName:   res.ClientName,
			ClientPhone:  res.ClientPhone,
			Start:        res.Start.UTC(),
			StartLocal:   res.Start.In(h.cfg.Location).Format("2006-01-02 15:04"),
			DurationMins: res.DurationMinutes,
			PartySize:    res.PartySize,
			Status:       string(res.Status),
			Past:         res.IsPast(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant.ID, "reservations": out})
}

// target resolves the {tenantID} and {phone} URL params, writing the error
// response itself when they are invalid.
func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (*catalog.Tenant, string, bool) {
	tenantID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "tenantID")), 10, 64)
	if err != nil || tenantID <= 0 {
		http.Error(w, "tenantID must be a positive integer", http.StatusBadRequest)
		return nil, "", false
	}
	phone := textnorm.Digits(chi.URLParam(r, "phone"))
	if len(phone) < 6 {
		http.Error(w, "invalid phone", http.StatusBadRequest)
		return nil, "", false
	}
	tenant, err := h.cfg.Tenants.TenantByID(r.Context(), tenantID)
	if errors.Is(err, catalog.ErrTenantNotFound) {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return nil, "", false
	}
	if err != nil {
		h.logger.Error("admin: tenant lookup failed", "error", err, "tenant_id", tenantID)
		http.Error(w, "failed to load tenant", http.StatusInternalServerError)
		return nil, "", false
	}
	return tenant, phone, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
