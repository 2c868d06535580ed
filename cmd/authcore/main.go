package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/luminate-bi/authcore/pkg/api"
	"github.com/luminate-bi/authcore/pkg/audit"
	"github.com/luminate-bi/authcore/pkg/config"
	"github.com/luminate-bi/authcore/pkg/directory"
	"github.com/luminate-bi/authcore/pkg/flags"
	"github.com/luminate-bi/authcore/pkg/jwks"
	"github.com/luminate-bi/authcore/pkg/middleware"
	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/session"
	"github.com/luminate-bi/authcore/pkg/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), os.Stdout)
	metrics := observability.NewMetrics(nil)
	auditor := audit.NewLogRecorder(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Storage.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to reach database: %v", err)
		}
	}

	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis URL: %v", err)
		}
		if cfg.Storage.RedisPassword != "" {
			opts.Password = cfg.Storage.RedisPassword
		}
		opts.DB = cfg.Storage.RedisDB
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, definition cache disabled")
			rdb = nil
		}
	}

	keyCache := jwks.NewCache(jwks.Config{
		Endpoint:         cfg.Auth.JWKSEndpoint,
		RefreshInterval:  cfg.Auth.JWKSRefreshInterval,
		StalenessCeiling: cfg.Auth.JWKSStalenessCeiling,
	}, jwks.WithLogger(logger), jwks.WithMetrics(metrics))
	if err := keyCache.Refresh(ctx); err != nil {
		// Not fatal: the cache refetches on first lookup.
		logger.WithError(err).Warn("initial jwks fetch failed")
	}
	go keyCache.Run(ctx)

	verifier := token.NewVerifier(keyCache, token.Config{
		Issuer:   cfg.Auth.IssuerURL,
		Audience: cfg.Auth.Audience,
	})

	var flagStore flags.Store
	if db != nil {
		flagStore = flags.NewPostgresStore(db)
		if rdb != nil {
			flagStore = flags.NewRedisStore(flagStore, rdb, cfg.Flags.RedisTTL)
		}
	} else {
		logger.Warn("no database configured, all flags resolve to fallback values")
		flagStore = unavailableStore{}
	}
	evaluator := flags.NewEvaluator(flagStore, flags.EvaluatorConfig{
		FreshFor:        cfg.Flags.CacheFreshFor,
		StaleCeiling:    cfg.Flags.CacheStaleCeiling,
		MaxEntries:      cfg.Flags.CacheMaxEntries,
		DefaultFallback: cfg.Flags.DefaultFallback,
	}, flags.WithLogger(logger), flags.WithMetrics(metrics))

	sessions := session.NewManager(session.Config{
		TokenEndpoint: cfg.Auth.TokenEndpoint,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
	}, verifier, session.WithLogger(logger), session.WithMetrics(metrics))

	authOpts := []middleware.AuthOption{
		middleware.WithAudit(auditor),
		middleware.WithMetrics(metrics),
	}
	if cfg.Auth.StrictRoleCheck {
		authOpts = append(authOpts, middleware.WithStrictRoleCheck(directory.NewPostgresStore(db)))
	}
	authn := middleware.NewAuthenticator(verifier, authOpts...)
	gate := middleware.NewRoleGate(
		middleware.WithGateAudit(auditor),
		middleware.WithGateMetrics(metrics),
	)

	health := observability.NewHealthChecker(db, rdb, keyCache, 2*cfg.Auth.JWKSRefreshInterval)

	server := api.NewServer(authn, gate, sessions, evaluator, logger,
		api.WithMetrics(metrics),
		api.WithAudit(auditor),
	)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("authcore listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
}

// unavailableStore stands in when no database is configured; every
// lookup degrades to the evaluator's fallback path.
type unavailableStore struct{}

func (unavailableStore) GetDefinition(ctx context.Context, key string) (*flags.Definition, error) {
	return nil, flags.ErrStoreUnavailable
}
