package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"commerce-service/internal/presence"
	"commerce-service/pkg/config"
	"commerce-service/pkg/jwtutil"
	metrics "commerce-service/prometheus"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type conn string

func (c conn) ID() string       { return string(c) }
func (c conn) Push([]byte) bool { return true }

type fixture struct {
	srv     *Server
	jwt     *jwtutil.JWTUtil
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, storeErr error) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	p := presence.NewRegistry(zap.NewNop(), m.OnlineUsers)
	t.Cleanup(p.Close)
	require.NoError(t, p.Register("bob", conn("c2")))
	require.NoError(t, p.Register("alice", conn("c1")))

	j := jwtutil.NewJWTUtil(&config.JWTConfig{SigningKey: "ops", ExpirationHours: 1})
	srv := New(":0", Deps{
		Service:  "commerce-service",
		Store:    pinger{err: storeErr},
		Presence: p,
		JWT:      j,
		Metrics:  m,
		Gatherer: reg,
		Log:      zap.NewNop(),
	})
	return &fixture{srv: srv, jwt: j, metrics: m}
}

func (f *fixture) do(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"commerce-service"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	f = newFixture(t, errors.New("db is closed"))
	rec = f.do(t, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, "/health", "")

	rec := f.do(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_online_users 2"), rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HttpRequestsTotal.WithLabelValues("GET", "/health", "200")))
}

func TestOnlineRequiresAdminToken(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, "/api/online", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "/api/online", "garbage").Code)

	customer, err := f.jwt.GenerateToken("alice", 2, jwtutil.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, f.do(t, "/api/online", customer).Code)

	admin, err := f.jwt.GenerateToken("admin", 1, jwtutil.RoleAdmin)
	require.NoError(t, err)
	rec := f.do(t, "/api/online", admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"alice", "bob"}, body.Users)
	assert.Equal(t, 2, body.Count)
}
