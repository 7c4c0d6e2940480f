package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quotaledger/internal/metrics"
	"quotaledger/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(sub, role string, exp time.Time) Claims {
	return Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(exp)}}
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(p.UserID + ":" + string(p.Role)))
	})
}

func TestAuthMiddleware(t *testing.T) {
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor("u1", "authenticated", time.Now().Add(time.Hour)))
	admin := sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor("a1", "admin", time.Now().Add(time.Hour)))
	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor("u1", "", time.Now().Add(-time.Hour)))
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), claimsFor("u1", "", time.Now().Add(time.Hour)))
	noSubject := sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor("", "", time.Now().Add(time.Hour)))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"valid user", "Bearer " + valid, http.StatusOK, "u1:user"},
		{"valid admin", "Bearer " + admin, http.StatusOK, "a1:admin"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + noSubject, http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized, ""},
	}
	h := AuthMiddleware(secret, zerolog.Nop())(echoPrincipal())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/accounts/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rr.Body.String())
			}
		})
	}
}

func TestValidateJWT_RejectsNoneAlgorithm(t *testing.T) {
	tok := sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claimsFor("u1", "admin", time.Now().Add(time.Hour)))
	_, err := ValidateJWT(tok, secret)
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(echoPrincipal())

	for _, tc := range []struct {
		name   string
		p      *Principal
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", &Principal{UserID: "u1", Role: model.RoleUser}, http.StatusForbidden},
		{"admin", &Principal{UserID: "a1", Role: model.RoleAdmin}, http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil)
			if tc.p != nil {
				req = req.WithContext(WithPrincipal(req.Context(), *tc.p))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestLoggerMiddleware_RecordsStatus(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := LoggerMiddleware(zerolog.Nop(), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/quota/message", nil))

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/quota/{action}", "402")))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/quota/document/authorize", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/quota/{action}/authorize", "402")))
}
