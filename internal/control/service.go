// Package control wires the service together and manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/powermon/internal/api"
	"github.com/vietddude/powermon/internal/core/config"
	"github.com/vietddude/powermon/internal/gateway"
	"github.com/vietddude/powermon/internal/infra/redis"
	"github.com/vietddude/powermon/internal/infra/storage/postgres"
	"github.com/vietddude/powermon/internal/poll"
	"github.com/vietddude/powermon/internal/recovery"
	"github.com/vietddude/powermon/internal/sink/influx"
	"github.com/vietddude/powermon/internal/sink/mqtt"
)

// Service is the main application struct that owns every component.
type Service struct {
	cfg       *config.AppConfig
	sessions  *gateway.SessionManager
	scheduler *poll.Scheduler
	apiServer *api.Server
	bus       *mqtt.Publisher
	db        *postgres.DB
	cache     *redis.Client
	recovery  *recovery.Coordinator
	log       *slog.Logger
}

// NewService creates a Service with all dependencies initialized. Optional
// components (store, bus, cache, archive, rejoin) come up only when
// configured; everything else degrades to the core poll loop.
func NewService(cfg *config.AppConfig) (*Service, error) {
	log := slog.Default()

	// 1. Gateway access path
	dialer := gateway.NewClient(gateway.ClientConfig{
		Host:      cfg.Gateway.Host,
		Password:  cfg.Gateway.Password,
		Email:     cfg.Gateway.Email,
		Timeout:   cfg.Gateway.Timeout,
		VerifyTLS: cfg.Gateway.VerifyTLS,
	}, log)
	sessions := gateway.NewSessionManager(dialer, gateway.SessionConfig{
		BackoffBase: cfg.Gateway.BackoffBase,
		BackoffCap:  cfg.Gateway.BackoffCap,
	}, log)
	fetcher := gateway.NewFetcher(sessions, cfg.Gateway.MaxAuthFailures, log)

	// 2. Sinks
	var store poll.StoreSink
	if cfg.Influx.URL != "" {
		store = influx.New(cfg.Influx)
		log.Info("InfluxDB push enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	var bus *mqtt.Publisher
	var busSink poll.BusSink
	if cfg.MQTT.Enabled {
		bus = mqtt.New(cfg.MQTT, log)
		busSink = bus
		log.Info("MQTT publishing enabled", "host", cfg.MQTT.Host, "prefix", cfg.MQTT.TopicPrefix)
	}

	// 3. Outcome archive and cache
	var db *postgres.DB
	var archive poll.OutcomeArchive
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, err
		}
		archive = postgres.NewOutcomeRepo(db)
		log.Info("PostgreSQL outcome archive enabled")
	}

	var cache *redis.Client
	var outcomeCache poll.OutcomeCache
	if cfg.Redis.URL != "" {
		var err error
		cache, err = redis.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, outcome cache disabled", "error", err)
		} else {
			outcomeCache = cache
			log.Info("Redis outcome cache enabled")
		}
	}

	// 4. Wi-Fi recovery
	var coord *recovery.Coordinator
	var trigger poll.RecoveryTrigger
	if cfg.WiFi.Enabled {
		rejoiner := recovery.NewNMCLIRejoiner(recovery.NMCLIConfig{
			SSID:        cfg.WiFi.SSID,
			Password:    cfg.WiFi.Password,
			Interface:   cfg.WiFi.Interface,
			JoinTimeout: cfg.WiFi.JoinTimeout,
		}, log)
		coord = recovery.New(recovery.Config{
			Enabled:       true,
			RetryInterval: cfg.WiFi.RetryInterval,
		}, rejoiner, sessions, log)
		trigger = coord
	}

	// 5. Scheduler and API
	scheduler := poll.New(poll.Config{Interval: cfg.Poll.Interval},
		fetcher, store, busSink, archive, outcomeCache, trigger, log)
	apiServer := api.NewServer(scheduler, cfg.Redacted(), cfg.Server.Port, log)

	return &Service{
		cfg:       cfg,
		sessions:  sessions,
		scheduler: scheduler,
		apiServer: apiServer,
		bus:       bus,
		db:        db,
		cache:     cache,
		recovery:  coord,
		log:       log,
	}, nil
}

// Start brings up the API server and the background poll loop. It returns
// immediately; the components run until Stop.
func (s *Service) Start(ctx context.Context) error {
	if s.recovery != nil {
		s.recovery.InitialJoin(ctx)
	}

	go func() {
		if err := s.apiServer.Start(); err != nil {
			s.log.Error("API server failed", "error", err)
		}
	}()

	go s.scheduler.Run(ctx)
	return nil
}

// Stop shuts everything down in dependency order: the scheduler first, which
// blocks until any in-flight poll cycle has finished, so the session, sinks,
// and stores below are never closed under a running cycle.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	s.scheduler.Stop()
	s.sessions.Close()

	if s.bus != nil {
		s.bus.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.apiServer.Stop(ctx)
}

// Scheduler exposes the poll scheduler for one-shot CLI commands.
func (s *Service) Scheduler() *poll.Scheduler { return s.scheduler }
