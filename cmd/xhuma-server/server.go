package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xhuma/gateway/internal/config"
	"github.com/xhuma/gateway/internal/platform/audit"
	"github.com/xhuma/gateway/internal/platform/cache"
	"github.com/xhuma/gateway/internal/platform/ccda"
	"github.com/xhuma/gateway/internal/platform/db"
	"github.com/xhuma/gateway/internal/platform/gpconnect"
	"github.com/xhuma/gateway/internal/platform/ihe"
	"github.com/xhuma/gateway/internal/platform/middleware"
	"github.com/xhuma/gateway/internal/platform/relay"
	"github.com/xhuma/gateway/internal/platform/telemetry"
)

const cacheSweepInterval = 5 * time.Minute

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	// Coding helpers log through the global logger.
	log.Logger = logger
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()

	// Correlation cache
	var store cache.Store
	if cfg.CacheIsRedis() {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		store = rs
		logger.Info().Msg("connected to redis")
	} else {
		store = cache.NewMemoryStore(cacheSweepInterval)
		logger.Warn().Msg("using in-process cache; correlations are lost on restart")
	}
	defer store.Close()
	correlator := cache.NewCorrelator(store, cfg.IdentityTTL, cfg.DocumentTTL)

	// Audit trail
	var auditStore audit.Store = audit.NewLogStore(logger)
	var healthChecks []healthCheck
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		auditStore = audit.NewPgStore(pool)
		healthChecks = append(healthChecks, healthCheck{name: "database", check: func(ctx context.Context) (interface{}, error) {
			stats := db.Check(ctx, pool)
			if !stats.Healthy {
				return stats, errors.New(stats.Error)
			}
			return stats, nil
		}})
		logger.Info().Msg("connected to audit database")
	}
	trail := audit.NewTrail(auditStore, cfg.AuditSecret, cfg.OrganisationName)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	metrics := telemetry.NewProvider()

	// Upstream client, optionally tunnelled through the relay agent.
	var opts []gpconnect.Option
	var hub *relay.Hub
	if cfg.RelayEnabled {
		hub = relay.NewHub(relay.DefaultTimeout, logger)
		relay.NewHandler(hub, cfg.RelaySecret, logger).RegisterRoutes(e.Group(""))
		opts = append(opts, gpconnect.WithTransport(hub))
		metrics.TrackRelay(hub.Connected)
		logger.Info().Msg("upstream requests relayed through agent at /relay/ws")
	}
	gpCfg, err := gpConnectConfig(cfg)
	if err != nil {
		return err
	}
	client := gpconnect.NewClient(gpCfg, logger, opts...)

	// Transcoder and SOAP handlers
	generator := ccda.NewGenerator(cfg.OrganisationName, cfg.CommunityID, logger, ccda.WithRecorder(metrics))
	builder := ihe.NewDocumentBuilder(client, generator, correlator, cfg.UpstreamTimeout, logger)
	responder := ihe.NewResponder(builder, cfg.RepositoryID, logger)
	soap := ihe.NewHandler(responder, client, correlator, cfg.CommunityID, cfg.RepositoryID, logger,
		ihe.WithAuditor(trail), ihe.WithMetrics(metrics))

	// Global middleware
	rateLimit := middleware.DefaultRateLimitConfig()
	rateLimit.RequestsPerSecond = cfg.RateLimitRPS
	rateLimit.BurstSize = cfg.RateLimitBurst

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(middleware.RateLimit(rateLimit))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/relay/ws"))

	soap.RegisterRoutes(e.Group(""))
	ccda.NewHandler(generator, ccda.NewParser(), client).RegisterRoutes(e.Group("/api/v1"))

	healthChecks = append(healthChecks,
		healthCheck{name: "cache", check: func(ctx context.Context) (interface{}, error) {
			return nil, store.Ping(ctx)
		}},
		healthCheck{name: "audit", check: func(ctx context.Context) (interface{}, error) {
			return nil, trail.Ping(ctx)
		}},
	)
	if hub != nil {
		healthChecks = append(healthChecks, healthCheck{name: "relay", check: func(context.Context) (interface{}, error) {
			if !hub.Connected() {
				return nil, relay.ErrAgentNotConnected
			}
			return nil, nil
		}})
	}
	e.GET("/health", healthHandler(healthChecks...))
	e.GET("/metrics", metrics.PrometheusHandler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func gpConnectConfig(cfg *config.Config) (gpconnect.Config, error) {
	gc := gpconnect.Config{
		GPConnectURL: cfg.GPConnectURL,
		Audience:     cfg.GPConnectAudience,
		FromASID:     cfg.GPConnectFromASID,
		ToASID:       cfg.GPConnectToASID,
		Requester: gpconnect.Requester{
			ODSCode:          cfg.ODSCode,
			OrganisationName: cfg.OrganisationName,
			DeviceID:         cfg.GPConnectFromASID,
			UserID:           "xhuma",
			RoleProfileID:    "xhuma-gateway",
			PractitionerName: cfg.OrganisationName,
		},
		PDSBaseURL: cfg.PDSBaseURL,
		APIKey:     cfg.PDSAPIKey,
		KeyID:      cfg.PDSKeyID,
		Timeout:    cfg.UpstreamTimeout,
	}
	if cfg.PDSBaseURL != "" {
		key, err := gpconnect.LoadPrivateKey(cfg.PDSPrivateKeyFile)
		if err != nil {
			return gc, err
		}
		gc.PrivateKey = key
	}
	return gc, nil
}

// healthCheck is one named component of the /health response.
type healthCheck struct {
	name  string
	check func(ctx context.Context) (interface{}, error)
}

type componentHealth struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// healthHandler reports each component and answers 503 when any is down.
func healthHandler(checks ...healthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "ok"
		components := make(map[string]componentHealth, len(checks))
		for _, hc := range checks {
			details, err := hc.check(ctx)
			ch := componentHealth{Status: "ok", Details: details}
			if err != nil {
				ch.Status = "unavailable"
				ch.Error = err.Error()
				status = http.StatusServiceUnavailable
				overall = "degraded"
			}
			components[hc.name] = ch
		}

		return c.JSON(status, map[string]interface{}{
			"status":     overall,
			"version":    version,
			"components": components,
		})
	}
}
