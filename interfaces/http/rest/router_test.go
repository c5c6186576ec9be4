package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loci/application/services/cascade"
	"loci/application/services/content"
	"loci/application/services/ledger"
	"loci/application/services/ordering"
	"loci/application/services/scoping"
	"loci/domain/config"
	"loci/infrastructure/observability"
	"loci/infrastructure/persistence/memory"
	"loci/interfaces/http/rest/middleware"
	"loci/pkg/auth"
)

type testAPI struct {
	server    *httptest.Server
	validator *auth.JWTValidator
	collector *observability.Collector
}

func newTestAPI(t *testing.T, mutate func(*Options)) *testAPI {
	t.Helper()
	store := memory.NewStore(nil)
	cfg := config.DefaultDomainConfig()
	cfg.RetryBaseDelay = time.Millisecond

	orderingSvc := ordering.NewService(store, store, store, nil, nil, cfg, nil)
	guard := scoping.NewGuard(store, cfg.PublicManualNexusName)
	validator, err := auth.NewJWTValidator(auth.JWTConfig{SecretKey: "test-secret", Issuer: "loci", Audience: []string{"loci-api"}})
	require.NoError(t, err)
	collector := observability.NewCollector("loci_test")

	opts := Options{
		Content:  content.NewService(store, store, store, orderingSvc, guard, store, nil, cfg, nil),
		Ledger:   ledger.NewService(store, store, ledger.NewPricingResolver(nil, store, nil), store, nil, nil, nil, cfg, nil),
		Cascade:  cascade.NewService(store, store, orderingSvc, guard, store, nil, nil, nil, cfg, nil),
		Auth:     middleware.AuthConfig{Validator: validator, AllowGuests: true},
		Admins:   []string{"root"},
		Observer: collector,
		Metrics:  collector.Handler(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	server := httptest.NewServer(NewRouter(opts).Setup())
	t.Cleanup(server.Close)
	return &testAPI{server: server, validator: validator, collector: collector}
}

type call struct {
	method string
	path   string
	body   interface{}
	user   string
	guest  string
}

func (a *testAPI) do(t *testing.T, c call) (int, map[string]interface{}) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(c.method, a.server.URL+c.path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		token, err := a.validator.GenerateToken(c.user, c.user+"@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.guest != "" {
		req.Header.Set(middleware.GuestSessionHeader, c.guest)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &out), string(raw))
		}
	}
	return resp.StatusCode, out
}

func (a *testAPI) mustCreate(t *testing.T, user, path string, body interface{}) string {
	t.Helper()
	status, out := a.do(t, call{method: http.MethodPost, path: path, body: body, user: user})
	require.Equal(t, http.StatusCreated, status, out)
	return out["id"].(string)
}

func itemContentIDs(t *testing.T, out map[string]interface{}) []string {
	t.Helper()
	raw, ok := out["items"].([]interface{})
	require.True(t, ok, out)
	ids := make([]string, len(raw))
	for i, item := range raw {
		ids[i] = item.(map[string]interface{})["contentId"].(string)
	}
	return ids
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, nil)
	status, out := api.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", out["status"])

	down := newTestAPI(t, func(o *Options) {
		o.Ready = func(context.Context) error { return errors.New("table missing") }
	})
	status, out = down.do(t, call{method: http.MethodGet, path: "/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "UNAVAILABLE", out["type"])
}

func TestContentOrderingFlow(t *testing.T) {
	api := newTestAPI(t, nil)

	status, out := api.do(t, call{method: http.MethodPost, path: "/api/v1/users/me", user: "alice"})
	require.Equal(t, http.StatusCreated, status, out)
	assert.EqualValues(t, 100, out["shardBalance"])
	status, _ = api.do(t, call{method: http.MethodPost, path: "/api/v1/users/me", user: "alice"})
	assert.Equal(t, http.StatusOK, status)

	nexusID := api.mustCreate(t, "alice", "/api/v1/nexi", map[string]string{"name": "Research"})
	notebookID := api.mustCreate(t, "alice", "/api/v1/notebooks", map[string]string{"nexusId": nexusID, "name": "Papers"})
	first := api.mustCreate(t, "alice", "/api/v1/chunks", map[string]string{"notebookId": notebookID, "text": "first"})
	second := api.mustCreate(t, "alice", "/api/v1/chunks", map[string]string{"notebookId": notebookID, "text": "second"})

	itemsPath := "/api/v1/loci/" + notebookID + "/items?contentType=chunk"
	status, out = api.do(t, call{method: http.MethodGet, path: itemsPath, user: "alice"})
	require.Equal(t, http.StatusOK, status, out)
	// New chunks land on top by default.
	assert.Equal(t, []string{second, first}, itemContentIDs(t, out))

	status, out = api.do(t, call{method: http.MethodPut, path: "/api/v1/loci/" + notebookID + "/items/order", user: "alice",
		body: map[string]interface{}{"contentType": "chunk", "orderedContentIds": []string{first, second}}})
	require.Equal(t, http.StatusNoContent, status, out)

	status, out = api.do(t, call{method: http.MethodGet, path: itemsPath, user: "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{first, second}, itemContentIDs(t, out))

	status, out = api.do(t, call{method: http.MethodPost, path: "/api/v1/chunks/" + first + "/move-bottom", user: "alice"})
	require.Equal(t, http.StatusOK, status, out)
	status, out = api.do(t, call{method: http.MethodGet, path: itemsPath, user: "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{second, first}, itemContentIDs(t, out))

	// Another user cannot see alice's notebook.
	status, out = api.do(t, call{method: http.MethodGet, path: itemsPath, user: "bob"})
	assert.Equal(t, http.StatusNotFound, status, out)

	status, out = api.do(t, call{method: http.MethodDelete, path: "/api/v1/chunks/" + first + "?dryRun=true", user: "alice"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["dryRun"])
	status, out = api.do(t, call{method: http.MethodGet, path: itemsPath, user: "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, itemContentIDs(t, out), 2)

	status, out = api.do(t, call{method: http.MethodDelete, path: "/api/v1/chunks/" + first, user: "alice"})
	require.Equal(t, http.StatusOK, status, out)
	assert.NotEmpty(t, out["deleted"])
	status, out = api.do(t, call{method: http.MethodGet, path: itemsPath, user: "alice"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{second}, itemContentIDs(t, out))
}

func TestLedgerEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	status, _ := api.do(t, call{method: http.MethodPost, path: "/api/v1/users/me", user: "alice"})
	require.Equal(t, http.StatusCreated, status)

	status, out := api.do(t, call{method: http.MethodPost, path: "/api/v1/shards/debit", user: "alice",
		body: map[string]interface{}{"amount": 30, "reason": "test"}})
	require.Equal(t, http.StatusOK, status, out)
	assert.EqualValues(t, 70, out["balance"])

	status, out = api.do(t, call{method: http.MethodPost, path: "/api/v1/shards/debit", user: "alice",
		body: map[string]interface{}{"amount": 500}})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", out["type"])

	status, _ = api.do(t, call{method: http.MethodPost, path: "/api/v1/shards/credit", user: "alice",
		body: map[string]interface{}{"amount": 1e9}})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/shards/credit", user: "alice",
		body: map[string]interface{}{"userId": "alice", "amount": 1e9}})
	assert.Equal(t, http.StatusForbidden, status)

	status, out = api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/shards/credit", user: "root",
		body: map[string]interface{}{"userId": "alice", "amount": 5, "reason": "purchase"}})
	require.Equal(t, http.StatusOK, status, out)
	assert.EqualValues(t, 75, out["balance"])

	status, out = api.do(t, call{method: http.MethodGet, path: "/api/v1/shards/summary", user: "alice"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Len(t, out["recentTransactions"], 3)

	status, out = api.do(t, call{method: http.MethodGet, path: "/api/v1/shards/summary?limit=2", user: "alice"})
	require.Equal(t, http.StatusOK, status, out)
	assert.EqualValues(t, 75, out["balance"])
	assert.Len(t, out["recentTransactions"], 2)

	status, _ = api.do(t, call{method: http.MethodGet, path: "/api/v1/shards/summary?limit=many", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = api.do(t, call{method: http.MethodGet, path: "/api/v1/shards/summary", guest: "guest-1"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", out["type"])
}

func TestAuthentication(t *testing.T) {
	api := newTestAPI(t, nil)

	status, out := api.do(t, call{method: http.MethodPost, path: "/api/v1/nexi", body: map[string]string{"name": "x"}})
	assert.Equal(t, http.StatusUnauthorized, status, out)

	status, out = api.do(t, call{method: http.MethodPost, path: "/api/v1/nexi", guest: "guest-1", body: map[string]string{"name": "x"}})
	assert.Equal(t, http.StatusCreated, status, out)

	req, err := http.NewRequest(http.MethodPost, api.server.URL+"/api/v1/nexi", bytes.NewBufferString(`{"name":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	noGuests := newTestAPI(t, func(o *Options) { o.Auth.AllowGuests = false })
	status, _ = noGuests.do(t, call{method: http.MethodPost, path: "/api/v1/nexi", guest: "guest-1", body: map[string]string{"name": "x"}})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestValidationErrors(t *testing.T) {
	api := newTestAPI(t, nil)

	status, out := api.do(t, call{method: http.MethodPost, path: "/api/v1/nexi", user: "alice", body: map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", out["type"])
	assert.Contains(t, out["message"], "name is required")

	status, out = api.do(t, call{method: http.MethodPost, path: "/api/v1/nexi", user: "alice", body: map[string]string{"name": "x", "color": "red"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["message"], "invalid request body")

	status, out = api.do(t, call{method: http.MethodDelete, path: "/api/v1/chunks/x?dryRun=maybe", user: "alice"})
	assert.Equal(t, http.StatusBadRequest, status, out)

	status, out = api.do(t, call{method: http.MethodGet, path: "/api/v1/nowhere", user: "alice"})
	assert.Equal(t, http.StatusNotFound, status, out)
}

type stubLimiter struct{ allow bool }

func (s stubLimiter) Allow(context.Context, string) (bool, int, error) { return s.allow, 0, nil }
func (s stubLimiter) Limit() int                                       { return 1 }

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.Limiter = stubLimiter{allow: false} })
	status, out := api.do(t, call{method: http.MethodGet, path: "/api/v1/shards/summary", user: "alice"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT", out["type"])

	// Probes are not limited.
	status, _ = api.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRepair(t *testing.T) {
	api := newTestAPI(t, nil)

	status, _ := api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/repair?dryRun=true", user: "alice"})
	assert.Equal(t, http.StatusForbidden, status)

	status, out := api.do(t, call{method: http.MethodPost, path: "/api/v1/admin/repair?dryRun=true", user: "root"})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, true, out["dryRun"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, call{method: http.MethodGet, path: "/health"})

	resp, err := http.Get(api.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `route="/health"`)
}
