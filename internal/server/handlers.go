package server

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sortrace/internal/game"
	"sortrace/internal/sorting"
)

// errorHandler renders every failed request as {"error", "kind"}.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  game.KindOf(err),
	})
}

func statusFor(err error) int {
	if errors.Is(err, game.ErrRoomNotFound) {
		return fiber.StatusNotFound
	}
	switch game.KindOf(err) {
	case game.KindValidation:
		return fiber.StatusBadRequest
	case game.KindPermission:
		return fiber.StatusForbidden
	case game.KindState:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// Health handler
func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	disabled := map[string]string{"status": "disabled"}

	database := disabled
	if s.db != nil {
		database = s.db.Health()
	}
	cache := disabled
	if s.cache != nil {
		cache = s.cache.Health()
	}

	return c.JSON(fiber.Map{
		"database": database,
		"cache":    cache,
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.gameHub.GetClientCount(),
			"rooms":             s.gameManager.RoomCount(),
			"active_races":      s.gameManager.ActiveRaces(),
		},
	})
}

func (s *FiberServer) listAlgorithmsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"algorithms": sorting.Algorithms()})
}

func (s *FiberServer) getAlgorithmHandler(c *fiber.Ctx) error {
	info, err := sorting.Lookup(sorting.Algorithm(c.Params("id")))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(info)
}

type createRoomRequest struct {
	UserID     string              `json:"user_id"`
	Username   string              `json:"username"`
	Algorithms []sorting.Algorithm `json:"algorithms"`
	Settings   *game.Settings      `json:"settings"`
}

// createRoomHandler opens a room over HTTP. The host still has to connect
// to /ws with the same user_id to receive events.
func (s *FiberServer) createRoomHandler(c *fiber.Ctx) error {
	var req createRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Username is required",
		})
	}
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	view, err := s.gameManager.CreateRoom(game.Player{ID: req.UserID, Username: req.Username}, req.Algorithms, req.Settings)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (s *FiberServer) getRoomHandler(c *fiber.Ctx) error {
	view, err := s.gameManager.GetRoom(c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *FiberServer) getLeaderboardHandler(c *fiber.Ctx) error {
	code := c.Params("code")
	board, err := s.gameManager.Leaderboard(code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"room": code, "leaderboard": board})
}

// getRoomHistoryHandler serves recent races from Redis, falling back to
// Postgres once the cached copies have expired.
func (s *FiberServer) getRoomHistoryHandler(c *fiber.Ctx) error {
	code := c.Params("code")
	limit := c.QueryInt("limit", 10)

	if s.archive != nil {
		races, err := s.archive.RecentRaces(c.Context(), code, limit)
		if err != nil {
			log.Printf("[CACHE] History lookup for %s failed: %v", code, err)
		} else if len(races) > 0 || s.db == nil {
			return c.JSON(fiber.Map{"room": code, "races": races, "source": "cache"})
		}
	}

	if s.db != nil {
		races, err := s.db.RecentRaces(c.Context(), code, limit)
		if err != nil {
			log.Printf("[DB] History lookup for %s failed: %v", code, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load race history",
			})
		}
		return c.JSON(fiber.Map{"room": code, "races": races, "source": "database"})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Race history is not enabled",
	})
}

// getRaceHandler serves one finished race, for replaying or verifying its
// dataset against the revealed seed.
func (s *FiberServer) getRaceHandler(c *fiber.Ctx) error {
	raceID := c.Params("id")
	if _, err := uuid.Parse(raceID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid race id",
		})
	}
	if s.archive == nil && s.db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Race history is not enabled",
		})
	}

	if s.archive != nil {
		rec, ok, err := s.archive.Race(c.Context(), raceID)
		if err != nil {
			log.Printf("[CACHE] Race lookup for %s failed: %v", raceID, err)
		} else if ok {
			return c.JSON(fiber.Map{"race": rec, "source": "cache"})
		}
	}

	if s.db != nil {
		rec, ok, err := s.db.Race(c.Context(), raceID)
		if err != nil {
			log.Printf("[DB] Race lookup for %s failed: %v", raceID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load race",
			})
		}
		if ok {
			return c.JSON(fiber.Map{"race": rec, "source": "database"})
		}
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Race not found",
	})
}

func (s *FiberServer) getAlgorithmStatsHandler(c *fiber.Ctx) error {
	if s.db != nil {
		stats, err := s.db.AlgorithmStats(c.Context())
		if err == nil {
			return c.JSON(fiber.Map{"stats": stats, "source": "database"})
		}
		log.Printf("[DB] Algorithm stats failed: %v", err)
	}

	if s.archive != nil {
		wins, err := s.archive.AlgorithmWins(c.Context())
		if err == nil {
			return c.JSON(fiber.Map{"stats": wins, "source": "cache"})
		}
		log.Printf("[CACHE] Algorithm stats failed: %v", err)
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Race statistics are not available",
	})
}
