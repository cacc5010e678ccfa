package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vadim/neo-session/internal/config"
	httpcontroller "github.com/vadim/neo-session/internal/controller/http"
	"github.com/vadim/neo-session/internal/database"
	"github.com/vadim/neo-session/internal/domain/conversation/dao"
	"github.com/vadim/neo-session/internal/domain/conversation/policy"
	"github.com/vadim/neo-session/internal/domain/conversation/scheduler"
	"github.com/vadim/neo-session/internal/network"
	"github.com/vadim/neo-session/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure, one of pool or sqlite is set
	pool   *pgxpool.Pool
	sqlite *sql.DB
	rdb    *redis.Client
	s3     *storage.S3Storage

	conversations policy.ConversationRepository
	history       policy.HistoryRepository

	// Engine facade
	policy      *policy.Policy
	mergeWindow time.Duration

	// Network sessions, one per account
	sessions       []*network.RedisSession
	cancelSessions context.CancelFunc
	sessionsWG     sync.WaitGroup

	// Scheduler for resends and room maintenance
	scheduler *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	// Initialize domain layers
	if err := app.initDomains(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	// Register routes
	app.registerRoutes()

	// Initialize HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Initialize scheduler
	if cfg.Scheduler.Enabled {
		app.scheduler = scheduler.New(app.policy, scheduler.Config{
			ResendInterval: cfg.Scheduler.ResendInterval,
			SweepInterval:  cfg.Scheduler.SweepInterval,
			StartDelay:     cfg.Scheduler.StartDelay,
		}, logger)
	}

	return app, nil
}

// initInfrastructure initializes infrastructure components (DB, Redis, S3)
func (a *App) initInfrastructure(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, database.PoolOptions{
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pool = pool
		if err := dao.MigratePostgres(ctx, pool); err != nil {
			return fmt.Errorf("migrating postgres: %w", err)
		}
		a.conversations = dao.NewConversationPostgres(pool)
		a.history = dao.NewHistoryPostgres(pool)
	case "sqlite":
		db, err := database.OpenSQLite(ctx, a.cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite: %w", err)
		}
		a.sqlite = db
		if err := dao.MigrateSQLite(ctx, db); err != nil {
			return fmt.Errorf("migrating sqlite: %w", err)
		}
		a.conversations = dao.NewConversationSQLite(db)
		a.history = dao.NewHistorySQLite(db)
	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
	a.logger.Info("database ready", "driver", a.cfg.Database.Driver)

	a.rdb = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	if a.cfg.S3.Enabled {
		s3, err := storage.NewS3Storage(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			PublicURL:       a.cfg.S3.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("creating attachment storage: %w", err)
		}
		a.s3 = s3
	}

	return nil
}

// initDomains initializes the engine and the account sessions
func (a *App) initDomains(ctx context.Context) error {
	settings, window, err := engineSettings(a.cfg.Engine)
	if err != nil {
		return err
	}
	a.mergeWindow = window

	// a nil *S3Storage must not become a non-nil Uploader
	var uploader policy.Uploader
	if a.s3 != nil {
		uploader = a.s3
	}

	a.policy = policy.New(a.conversations, a.history, uploader, policy.Config{
		Settings:        settings,
		HistoryPageSize: a.cfg.Engine.HistoryPageSize,
	}, a.logger)

	for _, account := range a.cfg.Accounts {
		session := network.NewRedisSession(a.rdb, account, network.Config{
			Prefix:            a.cfg.Redis.Prefix,
			ReconnectDelay:    a.cfg.Redis.ReconnectDelay,
			MaxReconnectDelay: a.cfg.Redis.MaxReconnect,
		}, nil, a.logger)

		if err := a.policy.AddAccount(ctx, session.Account(), session, session); err != nil {
			return fmt.Errorf("adding account %s: %w", account, err)
		}
		a.sessions = append(a.sessions, session)
	}

	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	handler := httpcontroller.NewConversationHandler(a.policy, a.mergeWindow)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.RegisterRoutes(r)
		})

		// Event streams stay open for as long as the client listens
		handler.RegisterStreamRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler reports whether the database and the transport answer
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) ping(ctx context.Context) error {
	switch {
	case a.pool != nil:
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging postgres: %w", err)
		}
	case a.sqlite != nil:
		if err := a.sqlite.PingContext(ctx); err != nil {
			return fmt.Errorf("pinging sqlite: %w", err)
		}
	}
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	// Connect every account; sessions reconnect on their own
	sessionCtx, cancel := context.WithCancel(ctx)
	a.cancelSessions = cancel
	for _, s := range a.sessions {
		a.sessionsWG.Add(1)
		go func(s *network.RedisSession) {
			defer a.sessionsWG.Done()
			s.Run(sessionCtx, a.policy)
		}(s)
	}

	// Start scheduler if enabled
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address(), "accounts", len(a.sessions))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Stop scheduler
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var shutdownErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("shutting down HTTP server: %w", err)
	}

	// Disconnect sessions before the conversations they feed are closed
	if a.cancelSessions != nil {
		a.cancelSessions()
	}
	a.sessionsWG.Wait()
	a.policy.Close()

	a.closeInfrastructure()

	a.logger.Info("shutdown complete")
	return shutdownErr
}

func (a *App) closeInfrastructure() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("closing sqlite", "error", err)
		}
	}
}
