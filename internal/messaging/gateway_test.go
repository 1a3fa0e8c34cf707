package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	started   []string
	sent      []sendPayload
	sendCodes []int
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && len(r.URL.Path) > len("/iniciar/") && r.URL.Path[:len("/iniciar/")] == "/iniciar/":
		f.started = append(f.started, r.URL.Path[len("/iniciar/"):])
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/send":
		code := http.StatusOK
		if len(f.sendCodes) > 0 {
			code, f.sendCodes = f.sendCodes[0], f.sendCodes[1:]
		}
		if code == http.StatusOK {
			var p sendPayload
			_ = json.NewDecoder(r.Body).Decode(&p)
			f.sent = append(f.sent, p)
		}
		w.WriteHeader(code)
	case r.Method == http.MethodGet && r.URL.Path == "/estado-sesiones":
		_, _ = w.Write([]byte(`{"barberia":"CONNECTED","padel":"QRCODE"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestGateway(t *testing.T, f *fakeGateway) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewGatewayClient(srv.URL+"/", nil, withBackoff(func(int) time.Duration { return time.Millisecond }))
}

func TestGatewaySendWarmsUpOnce(t *testing.T) {
	f := &fakeGateway{}
	g := newTestGateway(t, f)

	require.NoError(t, g.Send(context.Background(), "barberia", "59899123456", "hola"))
	require.NoError(t, g.Send(context.Background(), "barberia", "59899123456", "chau"))
	require.NoError(t, g.Send(context.Background(), "padel", "59899000000", "hola"))

	assert.Equal(t, []string{"barberia", "padel"}, f.started)
	require.Len(t, f.sent, 3)
	assert.Equal(t, sendPayload{ClienteID: "barberia", To: "59899123456", Message: "hola"}, f.sent[0])
}

func TestGatewaySendRetriesServerErrors(t *testing.T) {
	f := &fakeGateway{sendCodes: []int{http.StatusBadGateway, http.StatusTooManyRequests}}
	g := newTestGateway(t, f)

	require.NoError(t, g.Send(context.Background(), "barberia", "59899123456", "hola"))
	assert.Len(t, f.sent, 1)
	assert.Empty(t, f.sendCodes)
}

func TestGatewaySendStopsOnClientError(t *testing.T) {
	f := &fakeGateway{sendCodes: []int{http.StatusBadRequest, http.StatusOK}}
	g := newTestGateway(t, f)

	err := g.Send(context.Background(), "barberia", "59899123456", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Len(t, f.sendCodes, 1)
}

func TestGatewaySendValidates(t *testing.T) {
	g := NewGatewayClient("http://gateway.invalid", nil)
	assert.Error(t, g.Send(context.Background(), "", "598", "hola"))
	assert.Error(t, g.Send(context.Background(), "c", "", "hola"))
	assert.Error(t, g.Send(context.Background(), "c", "598", " "))
	assert.Error(t, NewGatewayClient("", nil).Send(context.Background(), "c", "598", "hola"))
}

func TestGatewaySessionStates(t *testing.T) {
	g := newTestGateway(t, &fakeGateway{})

	raw, err := g.SessionStates(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"barberia":"CONNECTED","padel":"QRCODE"}`, string(raw))
}
