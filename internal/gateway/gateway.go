package gateway

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relatim/backend/internal/realtime"
)

var errMissingRegistry = errors.New("gateway: connection registry is required")

// Gateway accepts websocket connections and binds each one to a user
// identity announced by the connection's first auth frame.
type Gateway struct {
	registry *realtime.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New constructs a Gateway over the given registry.
func New(registry *realtime.Registry, logger *zap.Logger) (*Gateway, error) {
	if registry == nil {
		return nil, errMissingRegistry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin enforcement belongs to the deployment's proxy.
				return true
			},
		},
	}, nil
}

// Handle upgrades the request and runs the connection's pumps. It
// returns when the connection closes.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectedClient := newClient(conn, g.registry, g.logger)
	go connectedClient.writePump()
	connectedClient.readPump()
}
