package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	// Basic routes
	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.App.Group("/api/v1")

	api.Get("/algorithms", s.listAlgorithmsHandler)
	api.Get("/algorithms/:id", s.getAlgorithmHandler)
	api.Post("/rooms", s.createRoomHandler)
	api.Get("/rooms/:code", s.getRoomHandler)
	api.Get("/rooms/:code/leaderboard", s.getLeaderboardHandler)
	api.Get("/rooms/:code/history", s.getRoomHistoryHandler)
	api.Get("/races/:id", s.getRaceHandler)
	api.Get("/stats/algorithms", s.getAlgorithmStatsHandler)

	// WebSocket route
	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.roomWebSocketHandler))
}
