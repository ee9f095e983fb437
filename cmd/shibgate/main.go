package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/perimeterlabs/shibgate/pkg/config"
	"github.com/perimeterlabs/shibgate/pkg/httputil"
	"github.com/perimeterlabs/shibgate/pkg/identity"
	"github.com/perimeterlabs/shibgate/pkg/observability"
	"github.com/perimeterlabs/shibgate/pkg/session"
	"github.com/perimeterlabs/shibgate/pkg/shibauth"
)

func main() {
	policyPath := flag.String("policy", "", "Path to the reconciliation policy file (overrides SHIBGATE_POLICY_PATH)")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if *policyPath != "" {
		cfg.Policy.Path = *policyPath
	}

	configureLogger(logger, cfg.Observability)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Service exited with error")
	}
}

func configureLogger(logger *logrus.Logger, cfg config.ObservabilityConfig) {
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := shibauth.LoadPolicy(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	policies := shibauth.NewPolicyProvider(policy)
	if cfg.Policy.Watch {
		if err := policies.Watch(ctx, cfg.Policy.Path, logger); err != nil {
			return err
		}
	}
	logger.WithFields(logrus.Fields{
		"path":            cfg.Policy.Path,
		"authorized_idps": len(policy.AuthorizedIDPs),
		"authoritative":   policy.GroupsAuthoritative,
	}).Info("Policy loaded")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store, db, dialect, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	store = identity.NewInstrumentedStore(store, metrics)

	var redisClient *redis.Client
	var sessionStore session.Store
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		sessionStore = session.NewRedisStore(redisClient)
	default:
		sessionStore = session.NewSQLStore(db, dialect)
	}

	sessions := session.NewManager(sessionStore, cfg.Session.TTL, cfg.Session.CookieName, cfg.CookieSecure())

	var sweeper *session.Sweeper
	if cfg.Session.Backend == config.SessionBackendSQL {
		sweeper, err = session.NewSweeper(sessionStore, cfg.Session.SweepSchedule, logger, metrics)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	engine := shibauth.NewEngine(store, logger, metrics)
	handlers := shibauth.NewHandlers(engine, store, policies, sessions, cfg.Server.BasePath, logger, metrics)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		metrics.Middleware,
	)
	var handler http.Handler = chain(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "shibgate")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, logger, metrics, db, redisClient)

	go func() {
		logger.WithField("addr", server.Addr).Info("Starting shibgate")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if otelProviders != nil {
		shutdown.Register(otelProviders.Shutdown)
	}
	return shutdown.Wait()
}

// openStore opens the configured identity store and applies the schema.
// The returned *sql.DB is nil for the memory backend.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (identity.Store, *sql.DB, string, error) {
	switch cfg.Store.Type {
	case config.StoreTypePostgres:
		db, err := sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Store.MaxConns)
		db.SetMaxIdleConns(cfg.Store.MinConns)
		db.SetConnMaxLifetime(cfg.Store.MaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, "", fmt.Errorf("failed to ping postgres: %w", err)
		}
		if err := identity.InitSchema(ctx, db, "postgres"); err != nil {
			db.Close()
			return nil, nil, "", err
		}
		store, err := identity.NewPostgresStore(db)
		if err != nil {
			db.Close()
			return nil, nil, "", err
		}
		logger.Info("Using postgres identity store")
		return store, db, "postgres", nil

	case config.StoreTypeSQLite:
		db, err := sql.Open("sqlite3", cfg.Store.SQLitePath+"?_fk=on")
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to open sqlite: %w", err)
		}
		// SQLite handles one writer at a time.
		db.SetMaxOpenConns(1)
		if err := identity.InitSchema(ctx, db, "sqlite3"); err != nil {
			db.Close()
			return nil, nil, "", err
		}
		logger.WithField("path", cfg.Store.SQLitePath).Info("Using sqlite identity store")
		return identity.NewSQLiteStore(db), db, "sqlite3", nil

	case config.StoreTypeMemory:
		logger.Warn("Using in-memory identity store; all state is lost on restart")
		return identity.NewMemoryStore(), nil, "", nil

	default:
		return nil, nil, "", fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}
}

// startHealthServer serves probes and metrics on the health port.
func startHealthServer(cfg *config.Config, logger *logrus.Logger, metrics *observability.Metrics, db *sql.DB, redisClient *redis.Client) *http.Server {
	health := observability.NewHealthChecker(db, redisClient)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.WithField("addr", server.Addr).Info("Starting health server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	return server
}
