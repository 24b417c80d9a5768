package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teamtf/scrim-bot/internal/adapter/announce"
	appcfg "github.com/teamtf/scrim-bot/internal/config"
	"github.com/teamtf/scrim-bot/internal/lifecycle"
	"github.com/teamtf/scrim-bot/internal/locks"
	"github.com/teamtf/scrim-bot/internal/mapcat"
	"github.com/teamtf/scrim-bot/internal/msgcat"
	"github.com/teamtf/scrim-bot/internal/obslog"
	rconcfg "github.com/teamtf/scrim-bot/internal/rcon"
	"github.com/teamtf/scrim-bot/internal/rgl"
	"github.com/teamtf/scrim-bot/internal/serveme"
	"github.com/teamtf/scrim-bot/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres when configured, in-memory otherwise (dev / smoke runs).
	var db store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("postgres init failed", zap.Error(err))
		}
	} else {
		obslog.L().Warn("DATABASE_URL not set, using in-memory store")
		db = store.NewMemory()
	}
	defer func() { _ = db.Close() }()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		obslog.L().Fatal("redis ping failed", zap.Error(err))
	}
	cancel()

	catalog, err := mapcat.Load(cfg.MapCatalogPath)
	if err != nil {
		obslog.L().Fatal("map catalog load failed", zap.Error(err))
	}

	messages, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		obslog.L().Fatal("message catalog load failed", zap.Error(err))
	}
	notifier := announce.NewNotifier(announce.NewFormatter(messages), announce.NewOutbox(rdb))

	rglClient := rgl.NewClient(cfg.RGLBaseURL, cfg.RGLSiteURL)
	manager := lifecycle.NewManager(lifecycle.Options{
		Store:          db,
		Reservations:   serveme.NewClient(cfg.ServemeBaseURL),
		Configurator:   rconcfg.NewConfigurator(),
		Results:        rgl.NewCache(rglClient, cfg.ResultCacheTTL, cfg.ProfileCacheTTL),
		Leases:         locks.NewManager(rdb, 30*time.Second),
		Maps:           catalog,
		Announcer:      notifier,
		ServerPrefixes: cfg.PreferredServerPrefixes,
		MaxConfigTries: cfg.ConfigMaxAttempts,
	})

	if err := manager.Reconcile(ctx); err != nil {
		obslog.L().Error("startup reconcile failed", zap.Error(err))
	}

	sweeper := lifecycle.NewSweeper(manager, cfg.SweepInterval, cfg.ScrimExpiryGrace)
	go sweeper.Run(ctx)

	obslog.L().Info("scrim-bot started",
		zap.String("serveme", cfg.ServemeBaseURL),
		zap.Duration("sweep_interval", cfg.SweepInterval))

	<-ctx.Done()
	obslog.L().Info("scrim-bot shutting down")
}
