// Package server exposes the session registry over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/cyclopsctl/internal/auth"
	"github.com/danmuck/cyclopsctl/internal/config"
	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/observability"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

type Config struct {
	Name        string
	Addr        string
	CorsOrigins []string
	// APIToken, when set, is required as a bearer token on every
	// state-changing request.
	APIToken string
	// Workspace is where POST /workspace writes the captured layout. Empty
	// disables saving.
	Workspace string
	// NewObserver builds the observer for hooks created over HTTP.
	NewObserver func(hookID int) notify.Observer
}

type Server struct {
	cfg      Config
	registry *stimulator.Registry
	router   *gin.Engine
	started  time.Time
}

func New(cfg Config, registry *stimulator.Registry) *Server {
	observability.RegisterMetrics()
	if cfg.Name == "" {
		cfg.Name = "cyclopsctl"
	}
	if cfg.NewObserver == nil {
		cfg.NewObserver = func(hookID int) notify.Observer {
			return notify.NewRecorder(hookID).WithLogging()
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if cfg.APIToken != "" {
		r.Use(auth.RequireToken(auth.StaticToken{Token: cfg.APIToken}))
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		router:   r,
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Addr until ctx is cancelled, then shuts down with a
// bounded grace period.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("server.Server.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("server.Server.Serve stopped")
	return nil
}

// SaveWorkspace writes the registry layout to cfg.Workspace.
func (s *Server) SaveWorkspace() (config.Workspace, error) {
	ws := config.Capture(s.registry)
	if s.cfg.Workspace == "" {
		return ws, errNoWorkspace
	}
	return ws, config.SaveWorkspace(s.cfg.Workspace, ws)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
