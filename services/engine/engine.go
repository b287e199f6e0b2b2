// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine assembles the compliance-analysis engine into a runnable
// HTTP service.
//
// This package wires together every component of the engine: the
// compliance knowledge base (with optional hot reload), the resilience
// stack (rate limiter, circuit breaker, response cache), the generative
// client, the recommendation orchestrator, and the HTTP surface.
//
// # Usage
//
//	cfg := engine.Config{Port: 8440}
//	svc, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/wedsync/compliance-engine/pkg/logging"
	"github.com/wedsync/compliance-engine/pkg/telemetry"
	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/genai"
	"github.com/wedsync/compliance-engine/services/recommender"
	"github.com/wedsync/compliance-engine/services/recommender/routes"
	"github.com/wedsync/compliance-engine/services/resilience"
	"github.com/wedsync/compliance-engine/services/resilience/badgerstore"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the runnable engine.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router exposes the configured Gin engine for integration tests.
	Router() *gin.Engine

	// Close releases background resources (knowledge watcher, badger
	// store, telemetry exporters). Safe to call after Run returns.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Duration is a time.Duration that additionally unmarshals from YAML
// strings in Go duration syntax ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration: %s", value.Value)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) std() time.Duration {
	return time.Duration(d)
}

// Config centralizes engine configuration.
//
// All fields are optional; New applies production defaults for zero
// values. Values are typically populated from environment variables or
// a YAML file by the CLI layer.
type Config struct {
	// Port is the HTTP server port. Default: 8440.
	Port int `yaml:"port"`

	// GinMode sets the Gin framework mode: "debug", "release", "test".
	// Default: uses GIN_MODE env var or "debug".
	GinMode string `yaml:"gin_mode"`

	// KnowledgePath points at a compliance knowledge YAML file. When
	// set, the file is loaded at startup and watched for changes.
	// Empty uses the embedded knowledge base.
	KnowledgePath string `yaml:"knowledge_path"`

	// CategoryFilter restricts loaded knowledge entries to the named
	// categories. Empty loads everything.
	CategoryFilter []string `yaml:"category_filter"`

	// CachePath is the directory for the persistent response cache.
	// Empty selects the in-process memory cache instead of BadgerDB.
	CachePath string `yaml:"cache_path"`

	// CacheMaxEntries bounds the memory cache. Default: 1024.
	CacheMaxEntries int `yaml:"cache_max_entries"`

	// CacheTTL is the default lifetime of cached candidates.
	// Default: 5m.
	CacheTTL Duration `yaml:"cache_ttl"`

	// RateLimit is the per-principal admission count per RateWindow.
	// Default: 30.
	RateLimit int `yaml:"rate_limit"`

	// RateWindow is the sliding quota window. Default: 1m.
	RateWindow Duration `yaml:"rate_window"`

	// FailureThreshold opens the circuit breaker after this many
	// failures inside the monitoring window. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long an open breaker waits before a
	// half-open trial. Default: 30s.
	RecoveryTimeout Duration `yaml:"recovery_timeout"`

	// MaxAttempts bounds retries inside one breaker-protected call.
	// Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the first backoff delay. Default: 100ms.
	InitialDelay Duration `yaml:"initial_delay"`

	// MaxDelay caps backoff growth. Default: 5s.
	MaxDelay Duration `yaml:"max_delay"`

	// BackoffFactor is the backoff multiplier. Default: 2.0.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// AcceptanceThreshold is the compliance score for immediate
	// acceptance. Default: 0.9.
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`

	// MaxRegenerationAttempts bounds regeneration rounds. Default: 2.
	MaxRegenerationAttempts int `yaml:"max_regeneration_attempts"`

	// MaxItems bounds candidate size in generation requests.
	MaxItems int `yaml:"max_items"`

	// ProviderRPS smooths calls to the generative provider,
	// independently of per-principal quotas. Zero disables smoothing.
	ProviderRPS float64 `yaml:"provider_rps"`

	// Telemetry configures tracing and metrics export. Zero value
	// uses telemetry.DefaultConfig().
	Telemetry telemetry.Config `yaml:"telemetry"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`

	// LogJSON switches stderr logging to JSON.
	LogJSON bool `yaml:"log_json"`
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8440
	}
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = 1024
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = Duration(5 * time.Minute)
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = Duration(time.Minute)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = Duration(30 * time.Second)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = Duration(100 * time.Millisecond)
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = Duration(5 * time.Second)
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.AcceptanceThreshold == 0 {
		cfg.AcceptanceThreshold = 0.9
	}
	if cfg.MaxRegenerationAttempts == 0 {
		cfg.MaxRegenerationAttempts = 2
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread Safety: safe after construction; all fields are read-only once
// New returns.
type service struct {
	config       Config
	logger       *logging.Logger
	router       *gin.Engine
	orchestrator *recommender.Orchestrator
	breaker      *resilience.CircuitBreaker
	limiter      *resilience.RateLimiter
	cache        resilience.ResponseCache
	holder       *compliance.SnapshotHolder
	badger       *badgerstore.Cache

	watchCancel   context.CancelFunc
	telemetryStop func(context.Context) error
}

// New builds a ready-to-run engine from cfg.
//
// # Description
//
// Initialization order:
//  1. Logging and telemetry.
//  2. Knowledge base: file-backed with a change watcher, or embedded.
//  3. Resilience stack: cache (badger or memory), limiter, breaker.
//  4. Generative client over the OpenAI provider.
//  5. Recommendation orchestrator and HTTP routes.
//
// # Inputs
//
//   - cfg: Engine configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run engine.
//   - error: Non-nil if any component fails to initialize.
//
// # Assumptions
//
//   - OPENAI_API_KEY (or the secret file) is available.
//   - The OTLP collector is reachable if OTLP export is configured.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	s.logger = logging.New(logging.Config{
		Service: "engine",
		LogDir:  s.config.LogDir,
		JSON:    s.config.LogJSON,
	})

	stop, err := telemetry.Init(context.Background(), s.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryStop = stop

	if err := s.initKnowledge(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize knowledge base: %w", err)
	}
	if err := s.initResilience(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize resilience stack: %w", err)
	}
	if err := s.initOrchestrator(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.Close()

	addr := ":" + strconv.Itoa(s.config.Port)
	s.logger.Info("starting engine server",
		"port", s.config.Port,
		"knowledge_rules", s.holder.Snapshot().Len(),
		"cache_backend", s.cacheBackend())

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close stops the knowledge watcher, flushes telemetry, and closes the
// persistent cache. Idempotent.
func (s *service) Close() error {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	var firstErr error
	if s.badger != nil {
		if err := s.badger.Close(); err != nil {
			firstErr = err
		}
		s.badger = nil
	}
	if s.telemetryStop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.telemetryStop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
		s.telemetryStop = nil
	}
	if s.logger != nil {
		if err := s.logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initKnowledge() error {
	filter := make([]compliance.Category, 0, len(s.config.CategoryFilter))
	for _, c := range s.config.CategoryFilter {
		filter = append(filter, compliance.Category(c))
	}

	if s.config.KnowledgePath == "" {
		kb, err := compliance.EmbeddedKnowledgeBase()
		if err != nil {
			return err
		}
		s.holder = compliance.NewSnapshotHolder(kb)
		s.logger.Info("using embedded knowledge base", "rules", kb.Len())
		return nil
	}

	kb, err := compliance.LoadKnowledgeBase(s.config.KnowledgePath, filter)
	if err != nil {
		return err
	}
	s.holder = compliance.NewSnapshotHolder(kb)

	ctx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	if err := compliance.WatchKnowledgeFile(ctx, s.config.KnowledgePath,
		filter, s.holder, s.logger.Slog()); err != nil {
		cancel()
		s.watchCancel = nil
		return err
	}
	s.logger.Info("knowledge base loaded",
		"path", s.config.KnowledgePath, "rules", kb.Len())
	return nil
}

func (s *service) initResilience() error {
	if s.config.CachePath != "" {
		store, err := badgerstore.Open(badgerstore.Config{
			Path:       s.config.CachePath,
			DefaultTTL: s.config.CacheTTL.std(),
			Logger:     s.logger.Slog(),
		})
		if err != nil {
			return err
		}
		s.badger = store
		s.cache = store
	} else {
		s.cache = resilience.NewMemoryCache(resilience.MemoryCacheConfig{
			MaxEntries: s.config.CacheMaxEntries,
			DefaultTTL: s.config.CacheTTL.std(),
		})
	}

	s.limiter = resilience.NewRateLimiter(resilience.Quota{
		Limit:  s.config.RateLimit,
		Window: s.config.RateWindow.std(),
	})

	s.breaker = resilience.NewCircuitBreaker("genai", resilience.CircuitBreakerConfig{
		FailureThreshold: s.config.FailureThreshold,
		RecoveryTimeout:  s.config.RecoveryTimeout.std(),
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			s.logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return nil
}

func (s *service) initOrchestrator() error {
	caller, err := genai.NewOpenAICaller()
	if err != nil {
		return err
	}

	var smoothing *rate.Limiter
	if s.config.ProviderRPS > 0 {
		smoothing = rate.NewLimiter(rate.Limit(s.config.ProviderRPS), 1)
	}

	client, err := genai.NewClient(genai.Config{
		Caller:  caller,
		Limiter: s.limiter,
		Breaker: s.breaker,
		Cache:   s.cache,
		RetryPolicy: resilience.RetryPolicy{
			MaxAttempts:   s.config.MaxAttempts,
			InitialDelay:  s.config.InitialDelay.std(),
			MaxDelay:      s.config.MaxDelay.std(),
			BackoffFactor: s.config.BackoffFactor,
		},
		Smoothing: smoothing,
		Logger:    s.logger.Slog(),
	})
	if err != nil {
		return err
	}

	s.orchestrator, err = recommender.NewOrchestrator(client, s.holder, recommender.Config{
		AcceptanceThreshold:     s.config.AcceptanceThreshold,
		MaxRegenerationAttempts: s.config.MaxRegenerationAttempts,
		CacheTTL:                s.config.CacheTTL.std(),
		MaxItems:                s.config.MaxItems,
		Logger:                  s.logger.Slog(),
	})
	return err
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("compliance-engine"))

	routes.SetupRoutes(s.router, s.orchestrator, s.breaker, s.cache, s.holder)

	if h := telemetry.MetricsHandler(); h != nil {
		s.router.GET("/metrics", gin.WrapH(h))
	}
}

func (s *service) cacheBackend() string {
	if s.badger != nil {
		return "badger"
	}
	return "memory"
}
