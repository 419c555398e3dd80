package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"points_ledger/internal/domain"
	"points_ledger/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second
	sendBuffer = 64
)

type Client struct {
	AccountID string
	Conn      *websocket.Conn
	Send      chan []byte

	hub       *Hub
	log       *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(accountID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		AccountID: accountID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		hub:       hub,
		log:       logger.With("component", "ws", "account_id", accountID),
		done:      make(chan struct{}),
	}
}

// Run pushes account updates until the connection closes.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.register(c)
	defer c.hub.unregister(c)

	go c.writePump()

	unsub := c.hub.feed.Subscribe(ctx, c.AccountID, c.pushAccount, c.pushError)
	defer unsub()

	c.readPump()
}

func (c *Client) pushAccount(a *domain.Account) {
	env := Envelope{Type: MsgAccount, Account: a}
	if n, err := c.hub.feed.PendingCount(a.ID); err == nil {
		env.Pending = n
	}
	c.push(env)
}

func (c *Client) pushError(err error) {
	code := domain.CodeOf(err)
	if code == "" {
		code = "internal"
	}
	c.push(Envelope{Type: MsgError, Error: &ErrorPayload{Code: code, Message: err.Error()}})
}

// push never blocks the feed: a client too slow to drain its buffer is dropped.
func (c *Client) push(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Error("marshal frame", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.Send <- b:
	default:
		c.log.Warn("send buffer full, closing")
		c.Close()
	}
}

//read
func (c *Client) readPump() {
	defer c.Close()

	c.Conn.SetReadLimit(4096)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", "error", err)
			}
			return
		}
		var in struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &in) == nil && in.Type == MsgPing {
			c.push(Envelope{Type: MsgPong})
		}
	}
}

//write
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write error", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// unblocks readPump
		_ = c.Conn.SetReadDeadline(time.Now())
	})
}
