package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crypto-market-analyzer/internal/api"
	"crypto-market-analyzer/internal/cache"
	"crypto-market-analyzer/internal/publisher"
	"crypto-market-analyzer/internal/refresh"
	"crypto-market-analyzer/internal/server"
	"crypto-market-analyzer/internal/service"
	"crypto-market-analyzer/pkg/ta"
)

func main() {
	cfg, err := service.LoadConfig("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}
	if err := service.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %s\n", err)
		os.Exit(1)
	}
	defer service.Logger.Sync()

	logger := service.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Invalid history timezone", zap.String("timezone", cfg.History.Timezone), zap.Error(err))
	}
	policy, err := refresh.ParsePolicy(cfg.Refresh.Policy)
	if err != nil {
		logger.Fatal("Invalid refresh policy", zap.Error(err))
	}

	// 1. 上游网关
	freshness := api.Freshness{MaxAge: cfg.Cache.Fresh, StaleWhileRevalidate: cfg.Cache.Stale}
	gateway := api.NewGateway(api.GatewayParams{
		BaseURL:   cfg.Exchange.RESTURL,
		Timeout:   cfg.Exchange.Timeout,
		Freshness: freshness,
		Logger:    logger,
	})

	// 2. 可选的 Redis 中间缓存，不可用时直接回源
	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		store := cache.NewRedisStore(cache.NewRedisClient(cfg.Cache.RedisAddr, cfg.Cache.Password, cfg.Cache.DB))
		defer store.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := store.Ping(pingCtx); err != nil {
			logger.Warn("Redis unavailable, continuing without response cache",
				zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		} else {
			responseCache = cache.NewResponseCache(store, cfg.Cache.Fresh, cfg.Cache.Stale, logger)
			logger.Info("Response cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
		}
		pingCancel()
	}

	// 3. 周期结果的订阅方
	hub := server.NewHub(logger)
	publishers := []publisher.Publisher{hub, publisher.NewLogPublisher(logger)}
	if cfg.Kafka.Enabled {
		kafkaPub := publisher.NewKafkaPublisher(publisher.NewKafkaWriter(publisher.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}), logger)
		defer kafkaPub.Close()
		publishers = append(publishers, kafkaPub)
		logger.Info("Kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// 4. 定时刷新
	scheduler := refresh.NewScheduler(refresh.Params{
		Source:     gateway,
		QuoteAsset: cfg.Exchange.QuoteAsset,
		Interval:   cfg.Refresh.Interval,
		Policy:     policy,
		Publishers: publishers,
		Logger:     logger,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// 5. HTTP / WebSocket
	httpServer := server.NewServer(server.Params{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Market:          gateway,
		Snapshots:       scheduler,
		Cache:           responseCache,
		Hub:             hub,
		Calculator:      ta.NewCalculator(logger.Sugar()),
		HistoryInterval: cfg.History.Interval,
		HistoryLimit:    cfg.History.Limit,
		Location:        loc,
		Logger:          logger,
	})

	logger.Info("Starting market analyzer",
		zap.String("exchange", cfg.Exchange.RESTURL),
		zap.Duration("refresh_interval", cfg.Refresh.Interval),
		zap.Int("port", cfg.Server.Port))

	if err := httpServer.Run(ctx); err != nil {
		logger.Error("Server run error", zap.Error(err))
	}

	responseCache.Wait()
	logger.Info("Server shutdown gracefully")
}
