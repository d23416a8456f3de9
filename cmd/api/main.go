package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/auth"
	"agent-console/internal/backend"
	"agent-console/internal/config"
	"agent-console/internal/connection"
	"agent-console/internal/console"
	"agent-console/internal/events"
	"agent-console/internal/httpapi"
	"agent-console/internal/metrics"
	"agent-console/internal/reporting"
	"agent-console/internal/telephony"
	"agent-console/pkg/logger"
	"agent-console/pkg/middleware"
	"agent-console/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stdout, cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Journal: Postgres when configured, memory otherwise.
	var (
		db          *sql.DB
		journalRepo audit.Repository = audit.NewMemoryRepo()
	)
	if cfg.HasDB() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := audit.NewPostgresRepo(db)
		if err := pg.EnsureSchema(rootCtx); err != nil {
			log.Error("journal schema init failed", "err", err)
			os.Exit(1)
		}
		journalRepo = pg
	} else {
		log.Warn("DB_HOST not set, journal kept in memory")
	}
	journal := audit.NewService(journalRepo)

	// Connect lock: Redis when configured so replicas share it.
	var locker console.Locker = console.NewMemoryLocker()
	if cfg.HasRedis() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = console.NewRedisLocker(rdb)
	}

	api, err := backend.New(backend.Options{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Tokens:  backend.TokenFunc(auth.Token),
	})
	if err != nil {
		log.Error("backend client init failed", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	hub := events.NewHub(log, events.Options{CheckOrigin: allowOrigins(cfg.App.AllowedOrigins)})

	sessions, err := console.NewManager(console.Options{
		API:       api,
		Confirmer: telephony.NewSimulatedTransport(telephony.SimulatedOptions{}),
		Connect: connection.Options{
			SettleDelay:  cfg.Connect.SettleDelay,
			PollInterval: cfg.Connect.PollInterval,
			Timeout:      cfg.Connect.Timeout,
		},
		Publisher: hub,
		Journal:   journal,
		Metrics:   m,
		Locker:    locker,
		IdleTTL:   cfg.Sessions.IdleTTL,
		Log:       log,
	})
	if err != nil {
		log.Error("console init failed", "err", err)
		os.Exit(1)
	}
	reconciler, err := sessions.StartReconciler(cfg.Sessions.ReconcileSchedule)
	if err != nil {
		log.Error("reconciler init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Sessions: sessions,
			Branches: api,
			Reports:  reporting.NewService(journal),
			Events:   hub,
		},
		authMW:  auth.RequireAccessToken(authManager),
		metrics: m,
		db:      db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           middleware.CORS(cfg.App.AllowedOrigins)(r),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// connect?wait=true blocks for up to the connect timeout
		WriteTimeout: cfg.Connect.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	<-reconciler.Stop().Done()
	// tear down every agent's links before the process exits
	sessions.Close()
	hub.Close()
	log.Info("shutdown complete")
}

// allowOrigins checks websocket handshakes against the CORS allow list.
func allowOrigins(origins []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
