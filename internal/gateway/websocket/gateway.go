// Package websocket streams the event log to connected observers. A
// client authenticates with its first frame, then manages any number of
// pattern subscriptions over the same socket.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/task/models"
)

// Authenticator resolves an auth-frame token to a caller identity. The
// agent API key resolver implements it; tests substitute their own.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Actor, error)
}

// Counter tracks the connected client gauge. Satisfied by the metrics
// registry; nil disables counting.
type Counter interface {
	WSClientConnected()
	WSClientDisconnected()
}

// Gateway upgrades HTTP requests and runs the socket protocol over the
// event broadcaster.
type Gateway struct {
	bus      *bus.Broadcaster
	auth     Authenticator
	logger   *logger.Logger
	metrics  Counter
	upgrader websocket.Upgrader
}

// New builds a gateway over the broadcaster.
func New(b *bus.Broadcaster, auth Authenticator, log *logger.Logger) *Gateway {
	return &Gateway{
		bus:    b,
		auth:   auth,
		logger: log.WithComponent("ws-gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents and dashboards connect from anywhere; the auth frame
			// is the access control, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetMetrics attaches the connected-clients gauge. Safe to skip in tests.
func (g *Gateway) SetMetrics(m Counter) {
	g.metrics = m
}

// Handle upgrades the request, authenticates the first frame, and starts
// the client's pumps. Mounted on GET /ws.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	identity, ok := g.handshake(c.Request.Context(), conn)
	if !ok {
		conn.Close()
		return
	}

	ack, _ := json.Marshal(authOKFrame{Type: frameAuthOK, Identity: identity})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		conn.Close()
		return
	}

	sub := g.bus.Subscribe()
	if sub == nil {
		g.reject(conn, codeBadFrame, "server is shutting down")
		conn.Close()
		return
	}

	client := newClient(g, conn, sub, identity)
	if g.metrics != nil {
		g.metrics.WSClientConnected()
	}
	g.logger.Info("websocket client connected",
		zap.String("actor_type", string(identity.Type)),
		zap.String("actor_id", identity.ID))

	go client.writePump()
	go client.forward()
	go client.readPump()
}

// handshake reads the auth frame under its deadline and resolves the
// token. An empty token is an anonymous operator, mirroring how the HTTP
// surface treats requests without a bearer key.
func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn) (models.Actor, bool) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(authWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		g.reject(conn, codeAuthRequired, "auth frame not received in time")
		return models.Actor{}, false
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != frameAuth {
		g.reject(conn, codeAuthRequired, "first frame must be auth")
		return models.Actor{}, false
	}
	if frame.Token == "" {
		return models.HumanActor(""), true
	}

	identity, err := g.auth.Authenticate(ctx, frame.Token)
	if err != nil {
		g.reject(conn, codeAuthFailed, "invalid token")
		return models.Actor{}, false
	}
	return identity, true
}

// reject writes one error frame on a connection that is about to close.
func (g *Gateway) reject(conn *websocket.Conn, code, msg string) {
	data, err := json.Marshal(errorFrame{Type: frameError, Code: code, Message: msg})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
}

// clientGone runs once per client during teardown.
func (g *Gateway) clientGone(c *Client) {
	if g.metrics != nil {
		g.metrics.WSClientDisconnected()
	}
	g.logger.Debug("websocket client disconnected",
		zap.String("actor_type", string(c.identity.Type)),
		zap.String("actor_id", c.identity.ID))
}
