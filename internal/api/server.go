// Package api exposes the daemon over REST and a WebSocket push channel.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"engram/internal/config"
	"engram/internal/events"
	"engram/internal/logging"
	"engram/internal/manager"
	"engram/internal/monitor"
	"engram/internal/preflight"
	"engram/internal/store"
)

// JobControl is the slice of the manager the API drives.
type JobControl interface {
	Cancel(ctx context.Context, jobID int64) error
	ResolveReview(ctx context.Context, jobID int64, resolution manager.Resolution) (*store.Job, error)
	SimulateInsert(drive, label string, contentType store.ContentType, simulateRipping bool) (*store.Job, error)
}

// Server handles HTTP and WebSocket requests.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	store   *store.Store
	jobs    JobControl
	events  *events.Broadcaster
	checker *preflight.Checker
	logger  *slog.Logger

	// eject is swapped out in tests; the default issues the CDROM ioctl.
	eject func(drive string) error
}

// NewServer wires routes against the daemon's collaborators.
func NewServer(cfg *config.Config, st *store.Store, jobs JobControl, broadcaster *events.Broadcaster, checker *preflight.Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if checker == nil {
		checker = preflight.NewChecker()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		cfg:     cfg,
		store:   st,
		jobs:    jobs,
		events:  broadcaster,
		checker: checker,
		logger:  logging.NewComponentLogger(logger, "api"),
		eject:   monitor.Eject,
	}

	api := e.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.DELETE("/jobs/:id", s.deleteJob)
	api.POST("/jobs/:id/cancel", s.cancelJob)
	api.POST("/jobs/:id/resolve", s.resolveJob)
	api.POST("/simulate-insert", s.simulateInsert)
	api.GET("/tools", s.detectTools)
	api.POST("/tools/validate", s.validateTool)
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.updateSettings)
	api.POST("/drives/eject", s.ejectDrive)
	e.GET("/ws", s.handleWebSocket)

	return s
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(address string) error {
	err := s.echo.Start(address)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the route tree, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
