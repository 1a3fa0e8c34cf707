// Package main drives the WhatsApp webhook end to end against a running API.
//
// It starts a stub of the Venom gateway that records every outbound message,
// posts WhatsApp envelopes to /webhook and checks the replies. The API must be
// started with VENOM_URL pointing at the stub.
//
// Usage:
//
//	API_BASE_URL=http://localhost:8080 TENANT_ID=... TENANT_PHONE=59824001234 \
//	ADMIN_USER=admin ADMIN_PASSWORD=... go run scripts/e2e/run_e2e.go [scenario-name]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	testPhone    = "59899000111"
	maxWait      = 45 * time.Second
	pollInterval = 250 * time.Millisecond
)

var (
	apiBase     string
	tenantID    string
	tenantPhone string
	adminToken  string
	outbox      = &recorder{}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T collects checks for one scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
		return
	}
	fmt.Printf("    FAIL: %s\n", name)
	t.failed++
}

// recorder is the Venom stub's memory of sent messages.
type recorder struct {
	mu   sync.Mutex
	sent []outbound
}

type outbound struct {
	ClienteID string `json:"clienteId"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

func (r *recorder) add(o outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, o)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) since(n int) []outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= len(r.sent) {
		return nil
	}
	return append([]outbound(nil), r.sent[n:]...)
}

func startGatewayStub(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/iniciar/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		var o outbound
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		outbox.add(o)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/estado-sesiones", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"e2e":"CONNECTED"}`))
	})
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() { _ = http.Serve(ln, mux) }()
	return nil
}

// send posts one envelope and waits for the reply delivered through the stub.
func send(text string) (status string, reply string) {
	before := outbox.count()
	envelope := map[string]any{
		"entry": []any{map[string]any{
			"changes": []any{map[string]any{
				"value": map[string]any{
					"metadata": map[string]any{"display_phone_number": tenantPhone},
					"messages": []any{map[string]any{
						"id":   fmt.Sprintf("wamid.e2e.%d", time.Now().UnixNano()),
						"from": testPhone,
						"type": "text",
						"text": map[string]any{"body": text},
					}},
				},
			}},
		}},
	}
	body, _ := json.Marshal(envelope)
	resp, err := http.Post(apiBase+"/webhook", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Printf("    webhook error: %v\n", err)
		return "", ""
	}
	defer resp.Body.Close()
	var out struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		for _, o := range outbox.since(before) {
			if o.To == testPhone {
				return out.Status, o.Message
			}
		}
		if out.Status != "processed" {
			break
		}
		time.Sleep(pollInterval)
	}
	return out.Status, ""
}

func admin(method, path string, payload any) (int, []byte) {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, apiBase+path, body)
	req.Header.Set("Content-Type", "application/json")
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("    admin error: %v\n", err)
		return 0, nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func login() error {
	code, data := admin(http.MethodPost, "/admin/login", map[string]string{
		"username": os.Getenv("ADMIN_USER"),
		"password": os.Getenv("ADMIN_PASSWORD"),
	})
	if code != http.StatusOK {
		return fmt.Errorf("login returned %d: %s", code, data)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	adminToken = out.Token
	return nil
}

func scenarioMenu(t *T) {
	status, reply := send("hola")
	t.check("webhook processed", status == "processed")
	t.check("reply lists services", strings.Contains(reply, "servicios"))
	t.check("reply explains cancellation", strings.Contains(reply, "cancelar"))
}

func scenarioServicePick(t *T) {
	send("hola")
	_, reply := send("1")
	t.check("asks for a day or offers slots", strings.Contains(reply, "día") || strings.Contains(reply, "Horarios") || strings.Contains(reply, "No hay horarios"))
}

func scenarioUnknownCode(t *T) {
	_, reply := send("cancelar ZZZZZZ")
	t.check("unknown code is answered", reply != "")
	t.check("no confirmation for unknown code", !strings.Contains(reply, "fue cancelada"))
}

func scenarioBlocked(t *T) {
	code, _ := admin(http.MethodPost, "/admin/tenants/"+tenantID+"/blocked/"+testPhone, nil)
	t.check("block accepted", code >= 200 && code < 300)
	_, reply := send("hola")
	t.check("blocked number is refused", strings.Contains(reply, "bloqueado"))
	code, _ = admin(http.MethodDelete, "/admin/tenants/"+tenantID+"/blocked/"+testPhone, nil)
	t.check("unblock accepted", code >= 200 && code < 300)
}

func scenarioHumanMode(t *T) {
	code, _ := admin(http.MethodPut, "/admin/tenants/"+tenantID+"/human-mode/"+testPhone, nil)
	t.check("human mode enabled", code >= 200 && code < 300)
	status, reply := send("hola")
	t.check("assistant stays silent", status == "no_reply" && reply == "")
	code, _ = admin(http.MethodDelete, "/admin/tenants/"+tenantID+"/human-mode/"+testPhone, nil)
	t.check("human mode cleared", code >= 200 && code < 300)
}

func scenarioSessions(t *T) {
	code, data := admin(http.MethodGet, "/admin/sessions", nil)
	t.check("sessions reachable", code == http.StatusOK)
	t.check("sessions proxied from gateway", strings.Contains(string(data), "CONNECTED"))
}

func main() {
	apiBase = strings.TrimRight(getenv("API_BASE_URL", "http://localhost:8080"), "/")
	tenantID = os.Getenv("TENANT_ID")
	tenantPhone = os.Getenv("TENANT_PHONE")
	if tenantID == "" || tenantPhone == "" {
		fmt.Println("TENANT_ID and TENANT_PHONE are required")
		os.Exit(2)
	}
	if err := startGatewayStub(getenv("VENOM_STUB_ADDR", ":3001")); err != nil {
		fmt.Printf("gateway stub: %v\n", err)
		os.Exit(2)
	}
	if err := login(); err != nil {
		fmt.Printf("admin login: %v\n", err)
		os.Exit(2)
	}

	scenarios := []scenario{
		{"menu", scenarioMenu},
		{"service-pick", scenarioServicePick},
		{"unknown-code", scenarioUnknownCode},
		{"blocked", scenarioBlocked},
		{"human-mode", scenarioHumanMode},
		{"sessions", scenarioSessions},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}
	total := &T{}
	for _, sc := range scenarios {
		if filter != "" && sc.Name != filter {
			continue
		}
		fmt.Printf("=== %s\n", sc.Name)
		t := &T{}
		sc.Fn(t)
		total.passed += t.passed
		total.failed += t.failed
	}
	fmt.Printf("\n%d passed, %d failed\n", total.passed, total.failed)
	if total.failed > 0 {
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
