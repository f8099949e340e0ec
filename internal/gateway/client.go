package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relatim/backend/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 8 * 1024
	sendBufferSize = 256
)

// frameTypeAuth is the only inbound frame the gateway honors. Frames
// received before authentication that are not auth frames are ignored,
// as are all frames after it.
const frameTypeAuth = "auth"

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

type inboundFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// client is one live websocket connection moving through the
// Unauthenticated -> Authenticated -> Closed lifecycle.
type client struct {
	conn     *websocket.Conn
	registry *realtime.Registry
	logger   *zap.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	state  connState
	userID string
}

func newClient(conn *websocket.Conn, registry *realtime.Registry, logger *zap.Logger) *client {
	return &client{
		conn:     conn,
		registry: registry,
		logger:   logger,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Enqueue implements realtime.Channel. It never blocks: a closed
// connection or a full buffer drops the event.
func (c *client) Enqueue(event realtime.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump consumes inbound frames until the connection dies. The read
// deadline doubles as the bound on how long an unauthenticated
// connection may linger: a client that never sends an auth frame is
// dropped when the deadline expires.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *client) handleFrame(frame inboundFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateUnauthenticated {
		return
	}
	if frame.Type != frameTypeAuth {
		return
	}
	userID := strings.TrimSpace(frame.UserID)
	if userID == "" {
		return
	}

	// The identity string was minted by the HTTP layer; the gateway
	// binds it without an independent credential check.
	c.userID = userID
	c.state = stateAuthenticated
	c.registry.Register(userID, c)
	c.logger.Info("channel authenticated", zap.String("user_id", userID))
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// close is idempotent. The registry removal is compare-and-delete, so a
// superseded connection closing late cannot evict its replacement.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasAuthenticated := c.state == stateAuthenticated
		userID := c.userID
		c.state = stateClosed
		c.mu.Unlock()

		close(c.done)
		if wasAuthenticated {
			c.registry.Unregister(userID, c)
			c.logger.Info("channel closed", zap.String("user_id", userID))
		}
		_ = c.conn.Close()
	})
}
