// Package web exposes the live drowsiness state of every tracked face over
// a small read-only HTTP API.
package web

import (
	"crypto/rand"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"

	"github.com/mattmezza/drowsy/internal/logging"
	"github.com/mattmezza/drowsy/internal/state"
)

const RequestIDKey = "X-Request-ID"

// SnapshotFunc returns the current state, usually Alerter.Snapshot.
type SnapshotFunc func(now time.Time) state.Snapshot

type Server struct {
	app      *fiber.App
	snapshot SnapshotFunc
	started  time.Time
}

func NewServer(snapshot SnapshotFunc) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "drowsy",
		StrictRouting:         true,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
	})

	s := &Server{app: app, snapshot: snapshot, started: time.Now()}
	app.Use(requestID())

	api := app.Group("/api")
	api.Get("/health", s.health)
	api.Get("/status", s.status)
	api.Get("/status/:face", s.faceStatus)
	return s
}

func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDKey)
		if id == "" {
			id = newRequestID(time.Now())
		}
		c.Locals(RequestIDKey, id)
		c.Set(RequestIDKey, id)
		return c.Next()
	}
}

func newRequestID(t time.Time) string {
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.snapshot(time.Now()))
}

func (s *Server) faceStatus(c *fiber.Ctx) error {
	id := c.Params("face")
	for _, f := range s.snapshot(time.Now()).Faces {
		if f.ID == id {
			return c.JSON(f)
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "face not tracked", "face": id})
}

// App gives tests access to the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start(addr string) error {
	logging.Info(logging.Fields{"listen": addr}, "Status server listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}
