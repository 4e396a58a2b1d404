package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/zkauth/adapters/events"
	"github.com/layer-3/zkauth/core"
)

const eventWriteTimeout = 5 * time.Second

// Event names sent to websocket clients
const (
	eventSessionWarning = "session-warning"
	eventForceLogout    = "force-logout"
)

type eventEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Events streams the caller's session lifecycle events over a websocket
// until the client goes away
func (h *Handlers) Events(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event stream disabled"})
		return
	}
	sessionID := core.SessionID(c.Request.Context())
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No session"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Info("ws.accept.fail", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Clients only listen; reading is left to CloseRead so pings and close
	// frames are handled.
	ctx := conn.CloseRead(c.Request.Context())

	warnings, err := h.events.Subscribe(ctx, events.TopicSessionWarning)
	if err != nil {
		h.log.Error("ws.subscribe.fail", "topic", events.TopicSessionWarning, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	logouts, err := h.events.Subscribe(ctx, events.TopicForceLogout)
	if err != nil {
		h.log.Error("ws.subscribe.fail", "topic", events.TopicForceLogout, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	h.log.Debug("ws.events.open", "remote", c.Request.RemoteAddr)
	for {
		var (
			name string
			msg  *message.Message
			ok   bool
		)
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case msg, ok = <-warnings:
			name = eventSessionWarning
		case msg, ok = <-logouts:
			name = eventForceLogout
		}
		if !ok {
			_ = conn.Close(websocket.StatusGoingAway, "event stream closed")
			return
		}
		if msg.Metadata.Get(events.MetadataSessionID) != sessionID {
			msg.Ack()
			continue
		}

		err := writeEvent(ctx, conn, eventEnvelope{Type: name, Payload: json.RawMessage(msg.Payload)})
		msg.Ack()
		if err != nil {
			h.log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "error", err)
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, env eventEnvelope) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}
