// Package service runs cyclopsctl as a standalone process: it restores the
// saved workspace, polls every session on a fixed tick and serves the HTTP
// API until a shutdown signal arrives.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/cyclopsctl/internal/config"
	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/server"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/danmuck/cyclopsctl/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidPollInterval      = errors.New("service: invalid poll interval")
	ErrInvalidHeartbeatInterval = errors.New("service: invalid heartbeat interval")
)

type ServiceConfig struct {
	Name              string
	ListenAddr        string
	CorsOrigins       []string
	APIToken          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Session           stimulator.Config
	// Workspace is loaded on boot when it exists and written on shutdown
	// when SaveOnExit is set.
	Workspace  string
	SaveOnExit bool
	// Layout is used when Workspace is empty or missing.
	Layout config.Workspace
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:              "cyclopsctl",
		ListenAddr:        "127.0.0.1:9300",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		Session:           stimulator.DefaultConfig(),
	}
}

type Service struct {
	cfg      ServiceConfig
	registry *stimulator.Registry
	server   *server.Server
	ticks    atomic.Uint64
}

// NewService builds a service on opener. A nil opener uses the host's serial
// ports.
func NewService(cfg ServiceConfig, opener transport.Opener) *Service {
	if opener == nil {
		opener = transport.SerialOpener{GOOS: runtime.GOOS}
	}
	cfg.Session = cfg.Session.WithDefaults()
	registry := stimulator.NewRegistry(cfg.Session, opener, nil)
	s := &Service{cfg: cfg, registry: registry}
	s.server = server.New(server.Config{
		Name:        cfg.Name,
		Addr:        cfg.ListenAddr,
		CorsOrigins: cfg.CorsOrigins,
		APIToken:    cfg.APIToken,
		Workspace:   cfg.Workspace,
		NewObserver: newObserver,
	}, registry)
	registry.OnRefresh(s.refresh)
	return s
}

func newObserver(hookID int) notify.Observer {
	return notify.NewRecorder(hookID).WithLogging()
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) Registry() *stimulator.Registry {
	return s.registry
}

func (s *Service) Server() *server.Server {
	return s.server
}

// Ticks reports how many poll ticks have run.
func (s *Service) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Service) bootstrap(ctx context.Context) error {
	if s.cfg.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	layout, source, err := s.layout()
	if err != nil {
		return err
	}
	ids, err := config.Restore(ctx, s.registry, layout, newObserver)
	if err != nil && ids == nil {
		return fmt.Errorf("service: restore %s layout: %w", source, err)
	}
	if err != nil {
		// Sessions that failed to connect stay open and disconnected.
		log.Warn().Err(err).Msg("service.Service.bootstrap restore incomplete")
	}
	log.Info().
		Str("name", s.cfg.Name).
		Str("layout", source).
		Int("sessions", len(s.registry.Sessions())).
		Int("hooks", len(s.registry.Hooks())).
		Msg("service.Service.bootstrap ready")
	return nil
}

func (s *Service) layout() (config.Workspace, string, error) {
	path := strings.TrimSpace(s.cfg.Workspace)
	if path == "" {
		return s.cfg.Layout, "inline", nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("service.Service.bootstrap no saved workspace")
		return s.cfg.Layout, "inline", nil
	}
	ws, err := config.LoadWorkspace(path)
	if err != nil {
		return config.Workspace{}, "", fmt.Errorf("service: %w", err)
	}
	return ws, path, nil
}

func (s *Service) serve(ctx context.Context) error {
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	defer s.shutdown()

	httpErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.ListenAddr) != "" {
		go func() {
			httpErr <- s.server.Serve(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("service.Service.serve shutdown")
			return nil
		case err := <-httpErr:
			if err != nil {
				return err
			}
		case <-poll.C:
			s.registry.PollAll()
			s.ticks.Add(1)
		case <-heartbeat.C:
			counts := s.registry.StatusCounts()
			log.Info().
				Int("sessions", len(s.registry.Sessions())).
				Int("hooks", len(s.registry.Hooks())).
				Int("connected", counts[stimulator.Connected.String()]).
				Int("not_responding", counts[stimulator.NotResponding.String()]).
				Int("testing", counts[stimulator.Testing.String()]).
				Uint64("ticks", s.ticks.Load()).
				Msg("service.Service.heartbeat")
		}
	}
}

func (s *Service) shutdown() {
	if s.cfg.SaveOnExit && s.cfg.Workspace != "" {
		if _, err := s.server.SaveWorkspace(); err != nil {
			log.Error().Err(err).Str("path", s.cfg.Workspace).Msg("service.Service.shutdown workspace save failed")
		} else {
			log.Info().Str("path", s.cfg.Workspace).Msg("service.Service.shutdown workspace saved")
		}
	}
	s.registry.CloseAll()
}

// refresh turns a session refresh signal into a ready indicator for the
// session's observers. It runs with no registry lock held.
func (s *Service) refresh(sessionID int) {
	if _, ok := s.registry.Session(sessionID); !ok {
		return
	}
	if !s.registry.SessionReady(sessionID) {
		return
	}
	if err := s.registry.NotifyAllInSession(sessionID, notify.Indicator(notify.ReadyLED)); err != nil {
		log.Debug().Err(err).Int("session_id", sessionID).Msg("service.Service.refresh")
	}
}
