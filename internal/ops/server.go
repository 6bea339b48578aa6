// Package ops serves the operational HTTP endpoints: health, metrics and the admin API.
package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mid "commerce-service/internal/middleware"
	"commerce-service/internal/presence"
	"commerce-service/pkg/jwtutil"
	"commerce-service/pkg/logger"
	metrics "commerce-service/prometheus"
)

const shutdownTimeout = 5 * time.Second

// Pinger reports whether the persistence gateway is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the ops endpoints
type Deps struct {
	Service  string
	Store    Pinger
	Presence *presence.Registry
	JWT      *jwtutil.JWTUtil
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// Server is the ops HTTP server
type Server struct {
	addr string
	e    *echo.Echo
	log  *zap.Logger
}

// New builds the routes
func New(addr string, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(mid.RequestID(d.Log))
	e.Use(mid.Metrics(d.Metrics))

	h := &handlers{deps: d}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/health", h.health)

	api := e.Group("/api", mid.Auth(d.JWT), mid.RequireRole(jwtutil.RoleAdmin))
	api.GET("/online", h.online)

	return &Server{addr: addr, e: e, log: d.Log}
}

// Handler exposes the routes
func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Ops server listening", zap.String("addr", s.addr))
		errCh <- s.e.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("Ops server stopped")
	return nil
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(c echo.Context) error {
	if err := h.deps.Store.Ping(c.Request().Context()); err != nil {
		logger.FromEcho(c).Error("Health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status":  "unhealthy",
			"service": h.deps.Service,
			"error":   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": h.deps.Service,
	})
}

func (h *handlers) online(c echo.Context) error {
	users := h.deps.Presence.Online()
	logger.FromEcho(c).Info("Listing online users", zap.Int("count", len(users)))
	return c.JSON(http.StatusOK, echo.Map{
		"users": users,
		"count": len(users),
	})
}
