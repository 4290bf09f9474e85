package ws

import (
	"context"
	"log/slog"
	"time"

	"chat-server/internal/chat"
	"chat-server/internal/models"
	"chat-server/internal/presence"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Hub owns the websocket side of connection lifecycle: it creates a Client
// per accepted connection, registers it with the presence registry and
// tears it down exactly once on any kind of disconnect.
type Hub struct {
	registry *presence.Registry
	router   *chat.Router
	log      *slog.Logger
}

func NewHub(registry *presence.Registry, router *chat.Router, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{registry: registry, router: router, log: log}
}

// Client adapts one transport connection to router/registry calls.
type Client struct {
	id       string
	userID   uint
	username string

	conn *websocket.Conn
	send chan chat.Event

	ctx    context.Context
	cancel context.CancelFunc
}

// ID implements presence.Conn.
func (c *Client) ID() string { return c.id }

// Send implements presence.Conn. Non-blocking: a saturated channel drops
// the event, which is a delivery miss, not an error.
func (c *Client) Send(v any) bool {
	ev, ok := v.(chat.Event)
	if !ok {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Serve runs the connection until it drops. The identity was already
// authenticated by the ws handler; registration happens immediately on
// connect and unregistration is deferred so it fires on every exit path,
// graceful close frame or not.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, user *models.User) {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		id:       uuid.NewString(),
		userID:   user.ID,
		username: user.Username,
		conn:     conn,
		send:     make(chan chat.Event, 64),
		ctx:      cctx,
		cancel:   cancel,
	}

	h.registry.Register(c.username, c)
	defer func() {
		h.registry.Unregister(c.id)
		c.cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		h.log.Info("connection closed", "conn_id", c.id, "username", c.username)
	}()

	h.log.Info("connection open", "conn_id", c.id, "username", c.username)

	go c.writeLoop()
	go c.keepAliveLoop()

	h.readLoop(c)
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = wsjson.Write(writeCtx, c.conn, ev)
			cancel()
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}
