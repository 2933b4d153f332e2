package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// RealtimeRoutes serves payment status pushes. The socket authenticates
// with its first frame, so the gate is not mounted here.
func RealtimeRoutes(api fiber.Router, h Handlers) {
	api.Use("/ws", h.WS.Upgrade)
	api.Get("/ws", websocket.New(h.WS.Serve))
}
