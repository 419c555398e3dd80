package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"points_ledger/internal/logger"
	"points_ledger/internal/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

// ws_smoke registers a throwaway account on a running server, opens its
// account stream and checks that an admin delta is pushed back.
func main() {
	addr := flag.String("addr", "", "server host:port, defaults to 127.0.0.1:$APP_PORT")
	flag.Parse()

	_ = godotenv.Load()
	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		logger.Fatal("ADMIN_TOKEN not set")
	}
	if *addr == "" {
		port := os.Getenv("APP_PORT")
		if port == "" {
			port = "8080"
		}
		// use 127.0.0.1 to prefer IPv4 (avoid resolving to [::1])
		*addr = "127.0.0.1:" + port
	}
	base := "http://" + *addr
	accountID := "smoke-" + uuid.NewString()[:8]

	var reg struct {
		Token string `json:"token"`
	}
	if err := post(base+"/api/v1/admin/accounts", adminToken, map[string]string{"account_id": accountID}, &reg); err != nil {
		logger.Fatal("register account", "error", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws/account?token=%s", *addr, reg.Token), nil)
	if err != nil {
		logger.Fatal("dial", "error", err)
	}
	defer conn.Close()

	first, err := read(conn)
	if err != nil {
		logger.Fatal("read initial snapshot", "error", err)
	}
	logger.Info("initial snapshot", "account_id", accountID, "coins", first.Account.Coins)

	delta := map[string]any{"coins": 42, "operation_id": uuid.NewString()}
	if err := post(base+"/api/v1/admin/accounts/"+accountID+"/delta", adminToken, delta, nil); err != nil {
		logger.Fatal("apply delta", "error", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env, err := read(conn)
		if err != nil {
			logger.Fatal("read push", "error", err)
		}
		if env.Account != nil && env.Account.Coins == first.Account.Coins+42 {
			logger.Info("smoke test finished", "coins", env.Account.Coins, "pending", env.Pending)
			return
		}
	}
	logger.Fatal("no push received for delta")
}

func read(conn *websocket.Conn) (ws.Envelope, error) {
	var env ws.Envelope
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&env); err != nil {
		return env, err
	}
	if env.Type == ws.MsgError && env.Error != nil {
		return env, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	if env.Account == nil {
		return env, fmt.Errorf("unexpected frame %q", env.Type)
	}
	return env, nil
}

func post(url, adminToken string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
