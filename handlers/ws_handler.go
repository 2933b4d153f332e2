package handlers

import (
	"log/slog"

	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/spacehub/spacehub-api/services"
	"github.com/spacehub/spacehub-api/websocket"
)

type TokenParser interface {
	ParseToken(raw string) (*services.Identity, error)
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type WSHandler struct {
	tokens TokenParser
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewWSHandler(tokens TokenParser, hub *websocket.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{tokens: tokens, hub: hub, logger: logger}
}

// Upgrade rejects plain HTTP requests on the websocket route.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocketcontrib.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Serve expects {"type":"auth","token":"..."} as the first frame. After that
// the connection only receives payment status pushes; inbound frames are
// read and discarded until the client goes away.
func (h *WSHandler) Serve(c *websocketcontrib.Conn) {
	var msg authMessage
	if err := c.ReadJSON(&msg); err != nil || msg.Type != "auth" {
		h.logger.Warn("websocket auth failed: missing auth message", "error", err)
		_ = c.WriteJSON(fiber.Map{"error": "invalid or missing auth message"})
		c.Close()
		return
	}

	identity, err := h.tokens.ParseToken(msg.Token)
	if err != nil {
		h.logger.Warn("websocket auth failed: invalid token", "error", err)
		_ = c.WriteJSON(fiber.Map{"error": "invalid token"})
		c.Close()
		return
	}

	if err := c.WriteJSON(fiber.Map{"type": "ready", "user_id": identity.UserID}); err != nil {
		c.Close()
		return
	}

	client := &websocket.Client{UserID: identity.UserID, Conn: c}
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocketcontrib.IsUnexpectedCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "user_id", identity.UserID, "error", err)
			}
			return
		}
	}
}
