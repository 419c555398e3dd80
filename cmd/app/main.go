package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"points_ledger/internal/config"
	"points_ledger/internal/connection"
	"points_ledger/internal/db"
	"points_ledger/internal/events"
	httpServer "points_ledger/internal/http"
	"points_ledger/internal/http/handlers"
	"points_ledger/internal/http/middleware"
	"points_ledger/internal/jobs"
	"points_ledger/internal/ledger"
	"points_ledger/internal/localstore"
	"points_ledger/internal/logger"
	"points_ledger/internal/migrations"
	"points_ledger/internal/mirror"
	"points_ledger/internal/repository"
	"points_ledger/internal/service"
	"points_ledger/internal/store"
	"points_ledger/internal/store/memstore"
	"points_ledger/internal/syncengine"
	"points_ledger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

const version = "1.0.0"

func main() {
	memory := flag.Bool("memory", false, "run against the in-memory store")
	flag.Parse()

	var opts []config.Option
	if *memory {
		opts = append(opts, config.InMemory())
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		logger.Fatal("load config", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	service.InitJWT(cfg.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outbox publisher: JetStream when configured, log otherwise
	var publisher events.Publisher = events.LogPublisher{}
	if cfg.NATSURL != "" {
		np, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Fatal("connect nats", "error", err)
		}
		defer np.Close()
		publisher = np
	}

	// Redis backs the read mirror and the rate limiter
	var rdb *redis.Client
	var m mirror.Mirror = mirror.NewMemoryMirror()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, mirror pushes will retry", "error", err)
		}
		m = mirror.NewRedisMirror(rdb)
	}

	var st store.Store
	var stopOutbox func()
	if cfg.Memory {
		ms := memstore.New()
		ms.OnCommit(jobs.PublishCommitted(publisher))
		st = ms
		logger.Info("running with in-memory store")
	} else {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			logger.Fatal("apply migrations", "error", err)
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("connect database", "error", err)
		}
		defer pool.Close()
		if err := jobs.Migrate(ctx, pool); err != nil {
			logger.Fatal("apply river migrations", "error", err)
		}

		client, err := jobs.NewClient(pool, publisher, cfg.Workers)
		if err != nil {
			logger.Fatal("create outbox client", "error", err)
		}
		if err := client.Start(ctx); err != nil {
			logger.Fatal("start outbox client", "error", err)
		}
		stopOutbox = func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Stop(sctx); err != nil {
				logger.Warn("outbox client stop", "error", err)
			}
		}

		ps := repository.NewPostgresStore(pool)
		ps.SetEnqueue(jobs.InsertTxFunc(client))
		st = ps
	}

	bus := events.NewBus()
	core := ledger.NewCore(st, bus)
	detach := mirror.NewProjector(m).Attach(bus)
	defer detach()

	rules := cfg.Rules()
	claims := service.NewClaimService(core, rules)
	withdrawals := service.NewWithdrawalService(core, rules)
	referrals := service.NewReferralService(core, rules)
	vip := service.NewVIPService(core)

	local, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		logger.Fatal("open local store", "path", cfg.LocalStorePath, "error", err)
	}
	defer local.Close()
	cache, err := localstore.NewCache(local, cfg.CacheMaxAge)
	if err != nil {
		logger.Fatal("open local cache", "error", err)
	}

	queue := localstore.NewQueue(local)

	monitor := connection.NewMonitor(st, cfg.PollInterval)
	engine := syncengine.New(core, monitor, cache, queue, m, bus, cfg.Sync())
	engine.SetCreditHealer(referrals)
	engine.Start(ctx)
	monitor.Start(ctx)

	netSignals := make(chan os.Signal, 1)
	signal.Notify(netSignals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(netSignals)
	go monitor.FollowSignals(ctx, netSignals)

	hub := ws.NewHub(engine)
	h := &handlers.Handler{
		Store:       st,
		Engine:      engine,
		Claims:      claims,
		Withdrawals: withdrawals,
		Referrals:   referrals,
		VIP:         vip,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	httpServer.RegisterRoutes(r, httpServer.Options{
		Handler:        h,
		Health:         handlers.NewHealthHandler(st, monitor, version),
		Hub:            hub,
		Limiter:        middleware.NewRateLimiter(rdb),
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins,
		APIRateLimit:   cfg.APIRateLimit,
		APIRateWindow:  cfg.APIRateWindow,
	})

	// CORS for the frontend on a different domain
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Admin-Token"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "memory", cfg.Memory)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	monitor.Stop()
	engine.Stop()
	if stopOutbox != nil {
		stopOutbox()
	}
	if n, err := queue.Len(); err == nil && n > 0 {
		logger.Warn("pending operations kept for next start", "count", n)
	}

	logger.Info("server exited")
}
