package http

import (
	"bytes"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"points_ledger/internal/events"
	"points_ledger/internal/http/handlers"
	"points_ledger/internal/ledger"
	"points_ledger/internal/localstore"
	"points_ledger/internal/mirror"
	"points_ledger/internal/service"
	"points_ledger/internal/store/memstore"
	"points_ledger/internal/syncengine"
	"points_ledger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-token"

type alwaysConnected struct{}

func (alwaysConnected) Connected() bool { return true }

type testAPI struct {
	router *gin.Engine
	store  *memstore.Store
	now    time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service.InitJWT("test-secret")

	api := &testAPI{store: memstore.New(), now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	bus := events.NewBus()
	core := ledger.NewCore(api.store, bus)
	core.SetClock(func() time.Time { return api.now })

	m := mirror.NewMemoryMirror()
	t.Cleanup(mirror.NewProjector(m).Attach(bus))

	db, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	cache, err := localstore.NewCache(db, 0)
	require.NoError(t, err)
	engine := syncengine.New(core, alwaysConnected{}, cache, localstore.NewQueue(db), m, bus, syncengine.DefaultConfig())
	t.Cleanup(func() {
		engine.Stop()
		_ = db.Close()
	})

	rules := service.DefaultRules()
	h := &handlers.Handler{
		Store:       api.store,
		Engine:      engine,
		Claims:      service.NewClaimService(core, rules),
		Withdrawals: service.NewWithdrawalService(core, rules),
		Referrals:   service.NewReferralService(core, rules),
		VIP:         service.NewVIPService(core),
	}

	api.router = gin.New()
	RegisterRoutes(api.router, Options{
		Handler:    h,
		Health:     handlers.NewHealthHandler(api.store, nil, "test"),
		Hub:        ws.NewHub(engine),
		AdminToken: adminToken,
	})
	return api
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token == adminToken {
		req.Header.Set("X-Admin-Token", token)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (a *testAPI) register(t *testing.T, id string) string {
	t.Helper()
	w, out := a.do(t, nethttp.MethodPost, "/api/v1/admin/accounts", adminToken, map[string]string{"account_id": id})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	tok, ok := out["token"].(string)
	require.True(t, ok)
	return tok
}

func coinsOf(t *testing.T, out map[string]any) float64 {
	t.Helper()
	acct, ok := out["account"].(map[string]any)
	require.True(t, ok, "response has no account: %v", out)
	return acct["coins"].(float64)
}

func TestClaimEndpoints(t *testing.T) {
	api := newTestAPI(t)
	tok := api.register(t, "u1")

	w, out := api.do(t, nethttp.MethodGet, "/api/v1/me", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, float64(0), coinsOf(t, out))

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/daily/claim", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(60), out["coins_earned"])
	assert.Equal(t, float64(1), out["new_streak"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/daily/claim", tok, nil)
	assert.Equal(t, nethttp.StatusConflict, w.Code)
	assert.Equal(t, "already_claimed", out["code"])

	w, _ = api.do(t, nethttp.MethodPost, "/api/v1/farming/start", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	w, out = api.do(t, nethttp.MethodPost, "/api/v1/farming/claim", tok, nil)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", out["code"])

	api.now = api.now.Add(8 * time.Hour)
	w, out = api.do(t, nethttp.MethodPost, "/api/v1/farming/claim", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(100), out["coins_earned"])
	assert.Equal(t, float64(160), out["new_balance"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/farming/claim", tok, nil)
	assert.Equal(t, nethttp.StatusConflict, w.Code)
	assert.Equal(t, "already_claimed", out["code"])

	w, _ = api.do(t, nethttp.MethodPost, "/api/v1/tasks/join/complete", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	w, out = api.do(t, nethttp.MethodPost, "/api/v1/tasks/join/claim", tok, map[string]int{"reward": 40})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(200), out["new_balance"])
	w, _ = api.do(t, nethttp.MethodPost, "/api/v1/tasks/join/claim", tok, map[string]int{"reward": 40})
	assert.Equal(t, nethttp.StatusConflict, w.Code)

	w, out = api.do(t, nethttp.MethodGet, "/api/v1/me/ledger?limit=2", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Len(t, out["entries"], 2)
}

func TestWithdrawalEndpoints(t *testing.T) {
	api := newTestAPI(t)
	tok := api.register(t, "u1")

	w, out := api.do(t, nethttp.MethodPost, "/api/v1/admin/accounts/u1/delta", adminToken, map[string]any{"coins": 1000, "reason": "adjustment"})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1000), out["new_coins"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/withdrawals/estimate", tok, map[string]any{"amount": 1000, "method": "upi"})
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, float64(20), out["fee"])
	assert.Equal(t, float64(1020), out["total_deducted"])

	upi := map[string]string{"upi_id": "u1@bank"}
	w, out = api.do(t, nethttp.MethodPost, "/api/v1/withdrawals", tok, map[string]any{"amount": 1000, "method": "upi", "method_details": upi})
	assert.Equal(t, nethttp.StatusPaymentRequired, w.Code)
	assert.Equal(t, "insufficient_balance", out["code"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/withdrawals", tok, map[string]any{"amount": 50, "method": "upi", "method_details": upi})
	assert.Equal(t, nethttp.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "limit_exceeded", out["code"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/withdrawals", tok, map[string]any{"amount": 500, "method": "upi", "method_details": upi})
	require.Equal(t, nethttp.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, float64(490), out["new_balance"])
	wid := out["withdrawal_id"].(string)

	w, out = api.do(t, nethttp.MethodGet, "/api/v1/withdrawals", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Len(t, out["withdrawals"], 1)

	w, _ = api.do(t, nethttp.MethodPatch, "/api/v1/admin/withdrawals/nope", adminToken, map[string]string{"status": "approved"})
	assert.Equal(t, nethttp.StatusNotFound, w.Code)

	w, out = api.do(t, nethttp.MethodPatch, "/api/v1/admin/withdrawals/"+wid, adminToken, map[string]string{"status": "rejected", "notes": "kyc"})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "rejected", out["status"])

	_, out = api.do(t, nethttp.MethodGet, "/api/v1/me", tok, nil)
	assert.Equal(t, float64(1000), coinsOf(t, out))
}

func TestReferralAndVIPEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "ref")
	tok := api.register(t, "new")

	w, out := api.do(t, nethttp.MethodPost, "/api/v1/referral/apply", tok, map[string]string{"referrer_id": "ref"})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["applied"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/referral/apply", tok, map[string]string{"referrer_id": "ref"})
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, false, out["applied"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/admin/accounts/ref/vip", adminToken, map[string]any{"tier": "tier1", "days": 30})
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "tier1", out["vip_tier"])
	assert.Equal(t, float64(500), out["coins"])

	w, _ = api.do(t, nethttp.MethodPost, "/api/v1/admin/accounts/ref/vip", adminToken, map[string]any{"tier": "gold", "days": 30})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestGuards(t *testing.T) {
	api := newTestAPI(t)
	tok := api.register(t, "u1")

	w, _ := api.do(t, nethttp.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, w.Code)

	w, _ = api.do(t, nethttp.MethodPost, "/api/v1/admin/accounts/u1/delta", tok, map[string]any{"coins": 5})
	assert.Equal(t, nethttp.StatusForbidden, w.Code)

	w, out := api.do(t, nethttp.MethodPost, "/api/v1/tasks/x/claim", tok, map[string]any{})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", out["code"])

	w, _ = api.do(t, nethttp.MethodPost, "/api/v1/admin/accounts/u1/delta", adminToken, map[string]any{"coins": 0})
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)
}

func TestStoreOutage(t *testing.T) {
	api := newTestAPI(t)
	tok := api.register(t, "u1")
	api.store.SetReachable(false)

	w, out := api.do(t, nethttp.MethodPost, "/api/v1/admin/accounts/u1/delta", adminToken, map[string]any{"coins": 100})
	require.Equal(t, nethttp.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, true, out["queued"])
	assert.Equal(t, float64(100), out["new_coins"])

	w, out = api.do(t, nethttp.MethodGet, "/api/v1/me", tok, nil)
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(100), coinsOf(t, out))
	assert.Equal(t, float64(1), out["pending"])

	w, out = api.do(t, nethttp.MethodPost, "/api/v1/daily/claim", tok, nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "sync", out["code"])

	w, _ = api.do(t, nethttp.MethodGet, "/readyz", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, w.Code)
	w, out = api.do(t, nethttp.MethodGet, "/health", "", nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "degraded", out["status"])

	api.store.SetReachable(true)
	w, _ = api.do(t, nethttp.MethodGet, "/readyz", "", nil)
	assert.Equal(t, nethttp.StatusOK, w.Code)
}
