package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/config"
	gatewaydomain "github.com/creditrelay/creditrelay/internal/gateway/domain"
	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	proxypooldomain "github.com/creditrelay/creditrelay/internal/proxypool/domain"
	registrydomain "github.com/creditrelay/creditrelay/internal/registry/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubGateway struct {
	gatewaydomain.Service
	textErr error
}

func (s *stubGateway) GenerateText(ctx context.Context, token string, req gatewaydomain.TextRequest) (*gatewaydomain.TextResponse, error) {
	if s.textErr != nil {
		return nil, s.textErr
	}
	return &gatewaydomain.TextResponse{Provider: req.Provider, Text: "ok", RemainingCredit: 9}, nil
}

type stubLedger struct {
	ledgerdomain.Service
	key *ledgerdomain.Key
}

func (s *stubLedger) FindActiveKey(ctx context.Context, token string) (*ledgerdomain.Key, error) {
	if s.key == nil || s.key.Token != token {
		return nil, ledgerdomain.ErrKeyNotFound
	}
	return s.key, nil
}

type stubPayments struct {
	paymentdomain.Service
	webhooks int
}

func (s *stubPayments) HandleWebhook(ctx context.Context, payload []byte) error {
	s.webhooks++
	return nil
}

type stubRegistry struct {
	registrydomain.Service
	listed int
}

func (s *stubRegistry) ListProviders(ctx context.Context) ([]registrydomain.Provider, error) {
	s.listed++
	return []registrydomain.Provider{{Name: "gemini"}}, nil
}

type testServer struct {
	engine   *gin.Engine
	gateway  *stubGateway
	payments *stubPayments
	registry *stubRegistry
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(17)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	cfg := config.Config{AdminToken: adminToken}
	gateway := &stubGateway{}
	payments := &stubPayments{}
	registry := &stubRegistry{}

	srv := NewServer(ServerParams{
		Cfg:         cfg,
		Log:         zap.NewNop(),
		GenID:       node,
		LedgerSvc:   &stubLedger{key: &ledgerdomain.Key{Token: "tok_live", Credit: 42, IsActive: true}},
		GatewaySvc:  gateway,
		PaymentSvc:  payments,
		PricingSvc:  pricingdomain.Service(nil),
		RegistrySvc: registry,
		ProxySvc:    proxypooldomain.Service(nil),
	})

	engine := NewEngine(cfg, zap.NewNop())
	RegisterRoutes(engine, srv)

	return &testServer{engine: engine, gateway: gateway, payments: payments, registry: registry}
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func TestHealthSetsRequestID(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing request id header")
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodGet, "/health", "", map[string]string{HeaderRequestID: "req-123"})
	if got := w.Header().Get(HeaderRequestID); got != "req-123" {
		t.Fatalf("request id = %q, want req-123", got)
	}
}

func TestGenerateMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{gatewaydomain.ErrUnauthorized, http.StatusUnauthorized},
		{ledgerdomain.ErrInsufficientCredit, http.StatusPaymentRequired},
		{gatewaydomain.ErrUnsupportedProvider, http.StatusBadRequest},
		{gatewaydomain.ErrNoUpstreamAvailable, http.StatusServiceUnavailable},
		{gatewaydomain.ErrUpstreamFailed, http.StatusBadGateway},
	}

	for _, tc := range cases {
		ts := newTestServer(t, "")
		ts.gateway.textErr = tc.err

		w := ts.do(http.MethodPost, "/api/generate",
			`{"provider":"gemini","prompt":"hi"}`,
			map[string]string{HeaderAPIKey: "tok_live"})
		if w.Code != tc.want {
			t.Fatalf("err %v mapped to %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestGenerateSucceeds(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodPost, "/api/generate",
		`{"provider":"gemini","prompt":"hi"}`,
		map[string]string{HeaderAPIKey: "tok_live"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"remaining_credit":9`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodPost, "/api/generate", `{"provider":`, map[string]string{HeaderAPIKey: "tok_live"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreditEndpointRequiresKey(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodGet, "/api/credit", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	w = ts.do(http.MethodGet, "/api/credit", "", map[string]string{HeaderAPIKey: "tok_live"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"credit":42`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestWebhookIsAcknowledged(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodPost, "/webhooks/payos", `{"code":"00"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ts.payments.webhooks != 1 {
		t.Fatalf("webhook handler calls = %d, want 1", ts.payments.webhooks)
	}
}

func TestAdminSurfaceDisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(http.MethodGet, "/admin/providers", "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if ts.registry.listed != 0 {
		t.Fatal("handler ran without admin auth")
	}
}

func TestAdminTokenGate(t *testing.T) {
	ts := newTestServer(t, "sekrit")

	w := ts.do(http.MethodGet, "/admin/providers", "", map[string]string{HeaderAdminToken: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", w.Code)
	}

	w = ts.do(http.MethodGet, "/admin/providers", "", map[string]string{HeaderAdminToken: "sekrit"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ts.registry.listed != 1 {
		t.Fatalf("handler calls = %d, want 1", ts.registry.listed)
	}
}
