package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchline/internal/auth"
	"matchline/internal/config"
	"matchline/internal/directory"
	"matchline/internal/guardian"
	"matchline/internal/httpapi"
	"matchline/internal/notify"
	"matchline/internal/provider"
	"matchline/internal/quota"
	"matchline/internal/session"
	"matchline/pkg/logger"
	"matchline/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Missing .env is fine; containers set env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	dir := directory.NewPostgresDirectory(db)

	hub := notify.NewHub(log)
	go hub.Run()

	presence := notify.NewPresenceAggregator(hub, rdb, dir, 5*time.Minute)
	hub.OnConnect(func(userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := presence.Touch(ctx, userID); err != nil {
			log.Debug("presence touch failed", "user_id", userID, "err", err)
		}
	})

	channels := []notify.Channel{
		notify.NewSocketChannel(hub),
		notify.NewRoomChannel(hub),
		notify.NewLegacyChannel(rdb),
		notify.NewBroadcastChannel(rdb),
	}
	dispatcher := notify.NewDispatcher(
		notify.NewRedisEnvelopeRepo(rdb, notify.EnvelopeRetention(cfg.Notify.EnvelopeTTL)),
		channels,
		presence,
		cfg.Notify.EnvelopeTTL,
		log,
	)

	var oversight guardian.Notifier = guardian.NopNotifier{}
	if cfg.Guardian.AMQPURL != "" {
		amqpNotifier, err := guardian.NewAMQPNotifier(cfg.Guardian.AMQPURL, cfg.Guardian.Exchange)
		if err != nil {
			log.Error("guardian amqp init failed", "err", err)
			os.Exit(1)
		}
		defer amqpNotifier.Close()
		oversight = amqpNotifier
	}

	rooms, err := provider.NewStaticProvider("static", cfg.Call.RoomURLTemplate)
	if err != nil {
		log.Error("room provider init failed", "err", err)
		os.Exit(1)
	}

	quotaSvc := quota.NewService(quota.NewPostgresRepo(db), cfg.Quota.CapSeconds, quota.Period(cfg.Quota.Period))
	orchestrator := session.NewOrchestrator(
		session.NewPostgresStore(db),
		quotaSvc,
		dir,
		rooms,
		dispatcher,
		oversight,
		cfg.Call.RingTimeout,
		log,
	)

	// Periodic sweep converts overdue ringing sessions to missed even when
	// nobody reads them.
	go func() {
		ticker := time.NewTicker(cfg.Call.RingTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := orchestrator.ExpireStaleRinging(rootCtx)
				if err != nil {
					log.Error("ringing sweep failed", "err", err)
				} else if n > 0 {
					log.Info("ringing sweep", "expired", n)
				}
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:   authManager,
		Calls:  orchestrator,
		Quota:  quotaSvc,
		Notify: dispatcher,
		Hub:    hub,
		DB:     db,
		RDB:    rdb,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), cfg.IsProduction())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
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
}
