package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/service"
	"points_ledger/internal/syncengine"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu           sync.Mutex
	onUpdate     func(*domain.Account)
	onError      func(error)
	unsubscribed bool
}

func (f *fakeFeed) Subscribe(_ context.Context, accountID string, onUpdate func(*domain.Account), onError func(error)) syncengine.Unsubscribe {
	f.mu.Lock()
	f.onUpdate, f.onError = onUpdate, onError
	f.mu.Unlock()
	onUpdate(&domain.Account{ID: accountID, Coins: 10, Version: 1})
	return func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

func (f *fakeFeed) PendingCount(string) (int, error) { return 2, nil }

func (f *fakeFeed) update(a *domain.Account) {
	f.mu.Lock()
	fn := f.onUpdate
	f.mu.Unlock()
	fn(a)
}

func (f *fakeFeed) fail(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

func (f *fakeFeed) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

func newServer(t *testing.T) (*httptest.Server, *Hub, *fakeFeed) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service.InitJWT("test-secret")

	feed := &fakeFeed{}
	hub := NewHub(feed)
	r := gin.New()
	r.GET("/ws/account", HandleAccount(hub, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, feed
}

func TestAccountStream(t *testing.T) {
	srv, hub, feed := newServer(t)
	tok, err := service.GenerateJWT("u1")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/account?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, MsgAccount, env.Type)
	require.NotNil(t, env.Account)
	assert.Equal(t, "u1", env.Account.ID)
	assert.Equal(t, int64(10), env.Account.Coins)
	assert.Equal(t, 2, env.Pending)

	feed.update(&domain.Account{ID: "u1", Coins: 25, Version: 2})
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, int64(25), env.Account.Coins)

	feed.fail(domain.SyncFailure("mirror watch", errors.New("eof")))
	env = Envelope{}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, MsgError, env.Type)
	require.NotNil(t, env.Error)
	assert.Equal(t, domain.CodeSync, env.Error.Code)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": MsgPing}))
	env = Envelope{}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, MsgPong, env.Type)

	assert.Equal(t, 1, hub.Count("u1"))
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count("") == 0 && feed.closed() }, 2*time.Second, 10*time.Millisecond)
}

func TestAccountStreamRequiresToken(t *testing.T) {
	srv, _, _ := newServer(t)

	res, err := http.Get(srv.URL + "/ws/account")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res2, err := http.Get(srv.URL + "/ws/account?token=garbage")
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res2.StatusCode)
}
