// Package api exposes the vector store over JSON HTTP.
package api

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/fletchdb/fletch/pkg/metrics"
	"github.com/fletchdb/fletch/pkg/store"
)

// ServerOptions defines the configuration for the server.
type ServerOptions struct {
	Addr string
	// RateLimit is the allowed requests per second per client IP.
	// Zero disables rate limiting.
	RateLimit int
	// ReadTimeout/WriteTimeout bound request handling.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerOptions returns the default server configuration.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		Addr:         ":3000",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server represents the API server.
type Server struct {
	app   *fiber.App
	store *store.Store
	stats *metrics.Collector
	log   *zap.Logger
	opts  ServerOptions
}

// NewServer creates a new API server over the given store.
func NewServer(s *store.Store, stats *metrics.Collector, log *zap.Logger, opts ServerOptions) *Server {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  30 * time.Second,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
	})

	// Add middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(requestLogger(log))
	if opts.RateLimit > 0 {
		app.Use(rateLimiter(opts.RateLimit))
	}

	server := &Server{
		app:   app,
		store: s,
		stats: stats,
		log:   log,
		opts:  opts,
	}

	server.registerRoutes()
	return server
}

// registerRoutes registers the API routes.
func (s *Server) registerRoutes() {
	// Vector operations
	s.app.Post("/vectors", s.insertVectorHandler)
	s.app.Get("/vectors", s.listVectorsHandler)
	s.app.Post("/vectors/batch", s.batchInsertHandler)
	s.app.Get("/vectors/:id", s.getVectorHandler)
	s.app.Delete("/vectors/:id", s.deleteVectorHandler)

	// Search operations
	s.app.Post("/search", s.searchHandler)
	s.app.Post("/search/batch", s.batchSearchHandler)

	// Introspection
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", s.metricsHandler)
	if s.stats != nil {
		promHandler := fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(s.stats.Registry(), promhttp.HandlerOpts{}))
		s.app.Get("/metrics/prometheus", func(c *fiber.Ctx) error {
			promHandler(c.Context())
			return nil
		})
	}
}

// Listen starts serving and blocks until shutdown.
func (s *Server) Listen() error {
	s.log.Info("starting API server", zap.String("addr", s.opts.Addr))
	return s.app.Listen(s.opts.Addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying fiber app for testing.
func (s *Server) App() *fiber.App {
	return s.app
}
