package server

import (
	"context"

	"agent-pairtrack/internal/capture"
	"agent-pairtrack/internal/config"
	"agent-pairtrack/internal/db"
	"agent-pairtrack/internal/pairing"
	"agent-pairtrack/internal/session"
	"agent-pairtrack/internal/stream"
	"agent-pairtrack/internal/timeline"
	"agent-pairtrack/internal/transport"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	KV      db.KV
	Redis   *redis.Client
	Stream  *stream.Hub
	Store   *timeline.Store
	Coord   *session.Coordinator
	Channel *transport.Channel
	Source  *capture.PushSource
	Loop    *capture.Loop
}

// NewServer wires the agent together. A nil redis client runs the device
// solo: no peer channel, no cross-process stream relay. The capture loop is
// built but not started; Run owns its lifecycle.
func NewServer(cfg config.Config, kv db.KV, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	store := timeline.NewStore(kv)
	store.Load(context.Background())

	buf := capture.NewBuffer()
	machine := session.NewMachine(buf, store)

	var ch *transport.Channel
	if redisClient != nil {
		ch = transport.NewChannel(transport.NewRedisCarrier(redisClient, cfg.DeviceID, cfg.PeerDeviceID))
	}

	hub := stream.NewHub(redisClient, cfg.DeviceID)
	coord := session.NewCoordinator(cfg.DeviceID, machine, buf, store, ch, hub)

	source := capture.NewPushSource(64)
	loop := capture.NewLoop(source, capture.StaticPermissions(cfg.CaptureAllowed), coord)

	s := &Server{
		App:     app,
		Cfg:     cfg,
		KV:      kv,
		Redis:   redisClient,
		Stream:  hub,
		Store:   store,
		Coord:   coord,
		Channel: ch,
		Source:  source,
		Loop:    loop,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "device_id": s.Cfg.DeviceID})
	})

	linkMiddleware := pairing.LinkMiddleware(s.Cfg.LinkSecret)

	pairing.RegisterRoutes(s.App.Group("/pair"), pairing.NewService(s.Cfg.LinkSecret, s.Cfg.PairingPIN))
	session.RegisterRoutes(s.App.Group("/session"), s.Coord, linkMiddleware)
	capture.RegisterRoutes(s.App.Group("/ingest"), s.Source, s.Loop, linkMiddleware)
	timeline.RegisterRoutes(s.App.Group("/timeline"), s.Store, linkMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
