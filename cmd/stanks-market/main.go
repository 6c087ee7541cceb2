package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stanksmarket/internal/api"
	"stanksmarket/internal/config"
	"stanksmarket/internal/db"
	"stanksmarket/internal/market"
	"stanksmarket/internal/publish"
	"stanksmarket/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadEngineFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	var st market.Store
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, int32(cfg.Market.Workers)+10)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool, logger)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
		st = pg
	default:
		st = store.NewMemory()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []market.Option{market.WithMetrics(market.NewMetrics(reg))}

	if cfg.RedisAddr != "" {
		r, err := publish.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, "")
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer r.Close()
		opts = append(opts, market.WithPublisher(r))
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := publish.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Error("kafka writer failed", "err", err)
			os.Exit(1)
		}
		defer k.Close()
		opts = append(opts, market.WithPublisher(k))
	}

	engine := market.NewEngine(st, cfg.Market, logger, opts...)
	if cfg.SeedStocks {
		if err := engine.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}
	if err := engine.Load(ctx); err != nil {
		logger.Error("load market failed", "err", err)
		os.Exit(1)
	}

	if cfg.RunOnce {
		if _, err := engine.Tick(ctx, time.Now()); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("market run-once completed")
		return
	}

	server := api.New(api.Config{AdminToken: cfg.AdminToken, Gatherer: reg}, logger, engine)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	clockDone := make(chan struct{})
	go func() {
		defer close(clockDone)
		_ = engine.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.AdminToken == "" {
		logger.Warn("STANKS_ADMIN_TOKEN is empty; admin routes are disabled")
	}
	logger.Info("stanks market listening", "addr", cfg.Addr, "store", cfg.Store)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		stop()
		<-clockDone
		os.Exit(1)
	}
	<-clockDone
}
