package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sugawarayuuta/sonnet"

	"sortrace/internal/cache"
	"sortrace/internal/config"
	"sortrace/internal/database"
	"sortrace/internal/game"
)

type FiberServer struct {
	*fiber.App

	cfg         config.Config
	db          database.Service
	cache       cache.Service
	archive     *cache.Archive
	metrics     *game.Metrics
	gameManager *game.Manager
	gameHub     *game.Hub
	presence    *presence
	stopHub     context.CancelFunc
}

// New wires the stores, the hub and the room manager. Postgres and Redis
// are optional: without them races run normally and history is not kept.
func New(cfg config.Config) *FiberServer {
	var opts []game.Option

	var db database.Service
	if conn, err := database.New(cfg.Database); err != nil {
		log.Printf("[SERVER] Database disabled: %v", err)
	} else if err := database.RunMigrations(conn.DB(), cfg.MigrationsPath); err != nil {
		log.Printf("[SERVER] Database disabled, migrations failed: %v", err)
		conn.Close()
	} else {
		db = conn
		opts = append(opts, game.WithResultSink(db))
	}

	redisService := cache.New(cfg.Redis)
	var archive *cache.Archive
	if redisService != nil {
		archive = cache.NewArchive(redisService.GetClient())
		opts = append(opts, game.WithResultSink(archive))
	} else {
		log.Println("[SERVER] Redis unavailable, race history will not be cached")
	}

	return newFiberServer(cfg, db, redisService, archive, opts...)
}

func newFiberServer(cfg config.Config, db database.Service, c cache.Service, archive *cache.Archive, opts ...game.Option) *FiberServer {
	metrics := game.NewMetrics()
	hub := game.NewHub()
	manager := game.NewManager(hub, cfg.Game, append(opts, game.WithMetrics(metrics))...)

	ctx, cancel := context.WithCancel(context.Background())

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "sortrace",
			AppName:       "sortrace",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
			JSONEncoder:   sonnet.Marshal,
			JSONDecoder:   sonnet.Unmarshal,
			ErrorHandler:  errorHandler,
		}),

		cfg:         cfg,
		db:          db,
		cache:       c,
		archive:     archive,
		metrics:     metrics,
		gameManager: manager,
		gameHub:     hub,
		presence:    newPresence(),
		stopHub:     cancel,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// long-lived sockets and scrapes are not rate limited
			return c.Path() == "/ws" || c.Path() == "/metrics"
		},
	}))

	go hub.Run(ctx)
	log.Println("[SERVER] Hub and room manager started")

	return server
}

// Shutdown gracefully shuts down the server and game components
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	err := s.App.ShutdownWithTimeout(5 * time.Second)

	// Stop races first so their archive writes finish before stores close.
	s.gameManager.Stop()
	s.stopHub()

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return err
}
