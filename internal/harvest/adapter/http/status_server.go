// Package http serves liveness, run progress and Prometheus metrics while a
// harvest runs.
package http

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"catalog-harvester/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusServer is the optional HTTP endpoint enabled by STATUS_ADDR.
type StatusServer struct {
	app     *fiber.App
	tracker *StatusTracker
	stream  *EventStream
	log     logger.Logger
	started time.Time

	mu          sync.RWMutex
	healthCheck func(context.Context) error
}

// NewStatusServer builds the app and registers its routes. stream may be nil,
// in which case /ws is not served.
func NewStatusServer(tracker *StatusTracker, stream *EventStream, log logger.Logger) *StatusServer {
	if log == nil {
		log = logger.Nop()
	}
	s := &StatusServer{
		tracker: tracker,
		stream:  stream,
		log:     log.WithComponent("status-server"),
		started: time.Now(),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "catalog-harvester",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				s.log.Errorf("HTTP Error: %v", err)
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	s.app.Use(recover.New())
	s.RegisterRoutes(s.app)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *StatusServer) App() *fiber.App { return s.app }

// RegisterRoutes mounts the status routes on router.
func (s *StatusServer) RegisterRoutes(router fiber.Router) {
	router.Get("/health", s.Health)
	router.Get("/stats", s.Stats)
	router.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	if s.stream != nil {
		s.stream.RegisterRoutes(router)
	}
}

// SetHealthCheck installs the dependency check run by /health.
func (s *StatusServer) SetHealthCheck(check func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCheck = check
}

// Health reports liveness, or 503 when the health check fails.
func (s *StatusServer) Health(c *fiber.Ctx) error {
	s.mu.RLock()
	check := s.healthCheck
	s.mu.RUnlock()

	body := fiber.Map{
		"status":    "HEALTHY",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}
	if check != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			body["status"] = "UNHEALTHY"
			body["error"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
	}
	return c.JSON(body)
}

// Stats reports the progress of the current run and the last completed one.
func (s *StatusServer) Stats(c *fiber.Ctx) error {
	return c.JSON(s.tracker.Status())
}

// Listen serves on ln until Shutdown.
func (s *StatusServer) Listen(ln net.Listener) error {
	s.log.Infof("Status server listening on %s", ln.Addr())
	return s.app.Listener(ln)
}

// Start binds addr and serves in the background. Serve errors are logged.
func (s *StatusServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.Listen(ln); err != nil {
			s.log.Errorf("Status server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
