/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwatch/internal/api"
	"github.com/friendsincode/slotwatch/internal/cache"
	"github.com/friendsincode/slotwatch/internal/config"
	"github.com/friendsincode/slotwatch/internal/db"
	"github.com/friendsincode/slotwatch/internal/eventbus"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/history"
	"github.com/friendsincode/slotwatch/internal/leadership"
	"github.com/friendsincode/slotwatch/internal/notifications"
	"github.com/friendsincode/slotwatch/internal/scheduler"
	"github.com/friendsincode/slotwatch/internal/telemetry"
	"github.com/friendsincode/slotwatch/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	core                 *Core
	bus                  *events.Bus
	db                   *gorm.DB
	cache                *cache.Cache
	api                  *api.API
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	recorder             *history.Recorder
	natsBridge           *eventbus.NATSBridge
	redisRelay           *eventbus.RedisRelay
	notificationSvc      *notifications.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if cfg.RateLimitPerMinute > 0 {
		router.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the websocket stream
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.api.Routes(srv.router)
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Zero so the websocket stream is not cut; other routes are bounded
		// by the timeout middleware.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info().Str("version", version.Version).Str("addr", cfg.ListenAddr()).Msg("server configured")
	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	core, err := NewCore(ctx, s.cfg, s.bus, s.logger)
	if err != nil {
		return err
	}
	s.core = core
	s.DeferClose(core.Close)

	var secret []byte
	if s.cfg.AdminEnabled() {
		secret = []byte(s.cfg.JWTSigningKey)
	} else {
		s.logger.Warn().Msg("SLOTWATCH_JWT_SIGNING_KEY not set, admin endpoints disabled")
	}
	s.api = api.New(core.Engine, s.bus, secret, s.logger)

	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		cacheCfg.ResultTTL = s.cfg.CacheTTL
		c, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			return err
		}
		s.cache = c
		s.DeferClose(c.Close)
		s.api.SetCache(c)
	}

	if s.cfg.HistoryEnabled() {
		database, err := db.Connect(s.cfg)
		if err != nil {
			return err
		}
		s.db = database
		s.DeferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return err
		}
		repo := history.NewRepository(database)
		s.api.SetHistory(repo)
		s.recorder = history.NewRecorder(repo, s.bus, s.cfg.HistoryRetention, s.logger)
	}

	s.scheduler = scheduler.New(core.Engine, s.cfg.PollInterval, s.logger)
	s.scheduler.SetCache(s.cache)

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return err
		}
		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.logger.Info().Str("instance_id", election.InstanceID()).Msg("leader election enabled")

		relayCfg := eventbus.DefaultRedisConfig()
		relayCfg.Addr = s.cfg.RedisAddr
		relayCfg.Password = s.cfg.RedisPassword
		relayCfg.DB = s.cfg.RedisDB
		relay, err := eventbus.NewRedisRelay(relayCfg, s.bus, s.logger)
		if err != nil {
			return err
		}
		s.redisRelay = relay
		s.api.SetStreamBus(relay.Stream())
		s.DeferClose(relay.Close)
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		bridge, err := eventbus.ConnectNATS(natsCfg, s.bus, s.logger)
		if err != nil {
			return err
		}
		s.natsBridge = bridge
		s.DeferClose(bridge.Close)
	}

	if s.cfg.TelegramBotToken != "" {
		sender, err := notifications.NewTelegramSender(s.cfg.TelegramBotToken)
		if err != nil {
			return err
		}
		names := make(map[string]string, len(core.Catalog.Categories))
		for _, cat := range core.Catalog.Categories {
			names[cat.ID] = cat.Name
		}
		s.notificationSvc = notifications.NewService(sender, s.bus, notifications.Config{
			ChatID: s.cfg.TelegramChatID,
			Names:  names,
		}, s.logger)
	}

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Start scheduler (leader-aware if configured, otherwise direct)
	if s.leaderAwareScheduler != nil {
		if err := s.leaderAwareScheduler.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware scheduler failed to start")
		}
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		}()
	}

	if s.recorder != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.recorder.Run(ctx)
		}()
	}

	if s.redisRelay != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.redisRelay.Run(ctx)
		}()
	}

	if s.natsBridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.natsBridge.Run(ctx)
		}()
	}

	if s.notificationSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.notificationSvc.Start(ctx)
		}()
	}

	// Drop cached results whenever the snapshot store is wiped.
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached results when the snapshot store is cleared.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	cleared := s.bus.Subscribe(events.EventSnapshotCleared)
	defer s.bus.Unsubscribe(events.EventSnapshotCleared, cleared)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleared:
			s.logger.Debug().Msg("invalidating reservation caches (snapshot cleared)")
			if err := s.cache.InvalidateResults(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("cache invalidation failed")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.leaderAwareScheduler != nil {
		if err := s.leaderAwareScheduler.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("leader-aware scheduler stop")
		}
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
