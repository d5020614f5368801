package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"leaveflow/internal/domain/audit"
	"leaveflow/internal/domain/auth"
	"leaveflow/internal/domain/leave"
	"leaveflow/internal/domain/notifications"
	"leaveflow/internal/platform/config"
	"leaveflow/internal/platform/db"
	"leaveflow/internal/platform/email"
	"leaveflow/internal/platform/events"
	"leaveflow/internal/platform/metrics"
	"leaveflow/internal/transport/http/api"
	audithandler "leaveflow/internal/transport/http/handlers/audit"
	authhandler "leaveflow/internal/transport/http/handlers/auth"
	leavehandler "leaveflow/internal/transport/http/handlers/leave"
	notificationshandler "leaveflow/internal/transport/http/handlers/notifications"
	"leaveflow/internal/transport/http/middleware"
)

// App is a fully wired server. Close releases the database pool and the
// Redis client when they were opened.
type App struct {
	Config        config.Config
	DB            *pgxpool.Pool
	Redis         *redis.Client
	Metrics       *metrics.Collector
	Leave         *leave.Service
	Auth          *auth.Service
	Audit         *audit.Service
	Notifications *notifications.Service
	Router        http.Handler

	feedsDone chan struct{}
	closeOnce sync.Once
}

// CloseFeeds ends every open live feed. Shutdown does not track hijacked
// websocket connections, so Run registers this as a shutdown hook.
func (a *App) CloseFeeds() {
	a.closeOnce.Do(func() { close(a.feedsDone) })
}

// Close waits for pending notification mail, then releases the pools.
func (a *App) Close() {
	if a.Notifications != nil {
		a.Notifications.Drain()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("redis close failed", "err", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// New connects the backing stores, applies migrations and the HR seed, and
// builds the router. Without DATABASE_URL everything runs in memory.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Metrics: metrics.New(), feedsDone: make(chan struct{})}

	var broker events.Broker = events.NewMemoryBroker()
	if cfg.RedisAddr != "" {
		app.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			app.Close()
			return nil, err
		}
		broker = events.NewRedisBroker(app.Redis)
	}

	var (
		users       auth.StoreAPI
		requests    leave.RequestStore
		idempotency middleware.IdempotencyStore
		auditStore  audit.StoreAPI
		inbox       notifications.StoreAPI
	)
	if cfg.InMemory() {
		slog.Warn("DATABASE_URL not set, using in-memory stores")
		users = auth.NewMemoryStore()
		memStore := leave.NewMemoryStore(broker)
		memStore.Timeout = cfg.StoreTimeout
		requests = memStore
		idempotency = middleware.NewMemoryIdempotencyStore()
		auditStore = audit.NewMemoryStore()
		inbox = notifications.NewMemoryStore()
	} else {
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.DB = pool
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool); err != nil {
				app.Close()
				return nil, err
			}
		}
		users = auth.NewStore(pool)
		pgStore := leave.NewStore(pool, broker)
		pgStore.Timeout = cfg.StoreTimeout
		requests = pgStore
		idempotency = middleware.NewIdempotencyStore(pool)
		auditStore = audit.NewStore(pool)
		inbox = notifications.NewStore(pool)
	}

	if cfg.RunSeed {
		if err := db.Seed(ctx, users, cfg); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.Auth = auth.NewService(users, cfg.JWTSecret, cfg.TokenTTL)
	app.Leave = leave.NewService(requests, users)
	app.Leave.Timeout = cfg.StoreTimeout
	app.Leave.Metrics = app.Metrics
	app.Audit = audit.New(auditStore)
	app.Notifications = notifications.New(inbox, email.New(cfg), users)
	app.Notifications.From = cfg.EmailFrom
	app.Leave.Notifier = app.Notifications

	app.Router = app.routes(idempotency)
	return app, nil
}

func (a *App) routes(idempotency middleware.IdempotencyStore) http.Handler {
	cfg := a.Config
	perms := auth.StaticPermissions{}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.Metrics(a.Metrics))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		requestID := middleware.GetRequestID(r.Context())
		if a.DB != nil {
			if err := a.DB.Ping(ctx); err != nil {
				slog.Warn("readiness: database ping failed", "err", err)
				api.Unavailable(w, 5*time.Second, "db_not_ready", "database not ready", requestID)
				return
			}
		}
		if a.Redis != nil {
			if err := a.Redis.Ping(ctx).Err(); err != nil {
				slog.Warn("readiness: redis ping failed", "err", err)
				api.Unavailable(w, 5*time.Second, "redis_not_ready", "redis not ready", requestID)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
		r.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

		auditor := middleware.Auditor{Service: a.Audit}

		authHandler := authhandler.NewHandler(a.Auth, perms, cfg.AllowSelfSignup)
		authHandler.Audit = auditor
		authHandler.RegisterRoutes(r)

		leaveHandler := leavehandler.NewHandler(a.Leave, perms, idempotency, a.Metrics)
		leaveHandler.Audit = auditor
		leaveHandler.Closing = a.feedsDone
		leaveHandler.RegisterRoutes(r)

		notificationshandler.NewHandler(a.Notifications).RegisterRoutes(r)
		audithandler.NewHandler(a.Audit, perms).RegisterRoutes(r)
	})

	return router
}

// Run serves until SIGINT or SIGTERM, then drains in-flight requests for up
// to ShutdownTimeout.
func Run() error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	srv.RegisterOnShutdown(app.CloseFeeds)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("leaveflow listening", "addr", cfg.Addr, "env", cfg.Environment, "inMemory", cfg.InMemory())
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

	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
		return err
	}
	slog.Info("server exited gracefully")
	return nil
}
