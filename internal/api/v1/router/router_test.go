package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quotaledger/internal/config"
	"quotaledger/internal/lock"
	"quotaledger/internal/metrics"
	"quotaledger/internal/repository"
	"quotaledger/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "router-test-secret"

type stubVerifier map[string]*service.PaymentConfirmation

func (v stubVerifier) VerifyCheckoutSession(_ context.Context, ref string) (*service.PaymentConfirmation, error) {
	if c, ok := v[ref]; ok {
		return c, nil
	}
	return &service.PaymentConfirmation{SessionRef: ref}, nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   *repository.MemoryStore
}

func newTestServer(t *testing.T, verifier stubVerifier) *testServer {
	t.Helper()
	cfg := &config.Config{
		Environment:             "development",
		JWTSecret:               jwtSecret,
		FreeMessageLimit:        2,
		FreeDocumentLimit:       1,
		MonthlyPrice:            "9.99",
		Currency:                "usd",
		LTVMonths:               3,
		PaymentVerifyTimeoutSec: 1,
		TransitionLockTTLSec:    5,
		TransitionLockWaitMs:    100,
		UsageWriteAttempts:      1,
		StripeWebhookSecret:     "whsec_router",
		StripeReturnURL:         "http://localhost:3000/billing",
	}
	store := repository.NewMemoryStore()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svcs, err := NewServices(cfg, zerolog.Nop(), m, repository.NewMemoryStores(store), nil, lock.NewLocalLocker(), nil, verifier)
	require.NoError(t, err)
	return &testServer{t: t, handler: Build(cfg, zerolog.Nop(), m, svcs, nil), store: store}
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func (s *testServer) do(method, path, user, role string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, user, role))
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestRouter_FreeQuotaLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(http.MethodPost, "/v1/accounts/me", "u1", "", map[string]string{"email": "u1@example.com"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	acct := decode[map[string]any](t, rr)
	assert.Equal(t, "free", acct["plan"])

	rr = s.do(http.MethodPost, "/v1/accounts/me", "u1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	for i := 0; i < 2; i++ {
		rr = s.do(http.MethodGet, "/v1/quota/message", "u1", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, decode[map[string]any](t, rr)["allowed"])
		rr = s.do(http.MethodPost, "/v1/usage", "u1", "", map[string]string{"action": "message"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr = s.do(http.MethodGet, "/v1/quota/message", "u1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	q := decode[map[string]any](t, rr)
	assert.Equal(t, false, q["allowed"])
	assert.Equal(t, float64(0), q["remaining"])
	assert.Equal(t, float64(2), q["limit"])

	rr = s.do(http.MethodGet, "/v1/quota/video", "u1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_AuthorizeAtLimitAsksForUpgrade(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/accounts/me", "u1", "", nil).Code)

	rr := s.do(http.MethodPost, "/v1/quota/document/authorize", "u1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	ent := decode[map[string]any](t, rr)
	assert.Equal(t, true, ent["allowed"])
	assert.Equal(t, float64(1), ent["remaining"])

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/usage", "u1", "", map[string]string{"action": "document"}).Code)

	rr = s.do(http.MethodPost, "/v1/quota/document/authorize", "u1", "", nil)
	require.Equal(t, http.StatusPaymentRequired, rr.Code, rr.Body.String())
	body := decode[map[string]any](t, rr)
	assert.Equal(t, true, body["upgrade"])
	assert.Equal(t, "document", body["action"])

	// The message quota is independent.
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/quota/message/authorize", "u1", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/quota/video/authorize", "u1", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/v1/quota/message/authorize", "", "", nil).Code)
}

func TestRouter_RequiresAuth(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/accounts/me", "", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/quota/message", "", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/accounts/me", "ghost", "", nil).Code)
}

func TestRouter_UsageForUnknownAccount(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(http.MethodPost, "/v1/usage", "ghost", "", map[string]string{"action": "document"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodPost, "/v1/usage", "ghost", "", map[string]string{"action": "video"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_ConfirmUpgrade(t *testing.T) {
	s := newTestServer(t, stubVerifier{
		"cs_paid": {SessionRef: "cs_paid", UserID: "u1", Paid: true, AmountTotal: 999, Currency: "usd"},
	})
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/accounts/me", "u1", "", nil).Code)

	rr := s.do(http.MethodPost, "/v1/subscriptions/confirm", "u1", "", map[string]string{"session_id": "cs_unpaid"})
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, "payment_unverified", decode[map[string]any](t, rr)["reason"])

	rr = s.do(http.MethodPost, "/v1/subscriptions/confirm", "u1", "", map[string]string{"session_id": "cs_paid"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "committed", decode[map[string]any](t, rr)["outcome"])

	rr = s.do(http.MethodPost, "/v1/subscriptions/confirm", "u1", "", map[string]string{"session_id": "cs_paid"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "duplicate", decode[map[string]any](t, rr)["outcome"])

	rr = s.do(http.MethodGet, "/v1/quota/document", "u1", "", nil)
	q := decode[map[string]any](t, rr)
	assert.Equal(t, true, q["allowed"])
	assert.Equal(t, float64(-1), q["limit"])

	rr = s.do(http.MethodPost, "/v1/subscriptions/confirm", "u1", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_FeedbackEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/v1/ratings", "u1", "", map[string]int{"score": 4}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/ratings", "u1", "", map[string]int{"score": 9}).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/v1/performance", "u1", "", map[string]any{"latency_ms": 120.5, "success": true}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/performance", "u1", "", map[string]any{"success": true}).Code)
}

func TestRouter_AdminMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/accounts/me", "u1", "", nil).Code)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/admin/metrics", "u1", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/admin/metrics?range=1y", "a1", "admin", nil).Code)

	rr := s.do(http.MethodGet, "/v1/admin/metrics?range=7d", "a1", "admin", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decode[map[string]any](t, rr)
	assert.Equal(t, "7d", snap["range"])
	assert.Equal(t, float64(1), snap["total_users"])
	assert.Equal(t, "29.97", snap["estimated_ltv"])
}

func TestRouter_WebhookRejectsUnsigned(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", "", nil).Code)

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/accounts/me", "u1", "", nil).Code)
	s.do(http.MethodGet, "/v1/quota/message", "u1", "", nil)
	rr := s.do(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ledger_quota_checks_total")

	rr = s.do(http.MethodGet, "/v1/docs/doc.json", "", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/quota/{action}")
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, allowedOrigins(&config.Config{Environment: "development"}))
	assert.Equal(t, []string{"https://app.example.com"}, allowedOrigins(&config.Config{Environment: "production", StripeReturnURL: "https://app.example.com/billing"}))
}
