package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/blockrun/proxy/internal/config"
	"github.com/blockrun/proxy/internal/dedup"
	"github.com/blockrun/proxy/internal/dispatcher"
	"github.com/blockrun/proxy/internal/gatewayhttp"
	"github.com/blockrun/proxy/internal/router"
	"github.com/blockrun/proxy/internal/scorer"
	"github.com/blockrun/proxy/internal/selector"
	"github.com/blockrun/proxy/internal/telemetry"
	"github.com/blockrun/proxy/internal/types"
	"github.com/blockrun/proxy/internal/wallet"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	keyFile := flag.String("key-file", "", "path to the wallet key file (defaults to wallet.DefaultKeyPath under $HOME)")
	port := flag.Int("port", 0, "override the configured listen port (0 keeps proxy.yaml's value)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if envDir := os.Getenv("BLOCKRUN_CONFIG_DIR"); envDir != "" {
		*configDir = envDir
	}

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	keyHex := os.Getenv("BLOCKRUN_WALLET_KEY")
	if keyHex == "" {
		var err error
		keyHex, err = wallet.LoadKey(*keyFile)
		if err != nil {
			logger.Error("no wallet key available; set BLOCKRUN_WALLET_KEY or generate one with cmd/walletgen", "error", err)
			os.Exit(1)
		}
	}
	signer, err := wallet.NewSecp256k1Signer(keyHex)
	if err != nil {
		logger.Error("failed to load wallet key", "error", err)
		os.Exit(1)
	}
	logger.Info("wallet loaded", "address", signer.Address())

	redisAddr := cfg.Dedup.RedisAddr
	if envAddr := os.Getenv("BLOCKRUN_REDIS_ADDR"); envAddr != "" {
		redisAddr = envAddr
	}

	var mirror dedup.Mirror
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("dedup redis mirror not reachable, continuing with in-memory cache only", "error", err)
		} else {
			mirror = dedup.NewRedisMirror(rdb, cfg.Dedup.RedisKeyPrefix)
			logger.Info("dedup redis mirror connected", "addr", redisAddr)
		}
	}
	cache := dedup.New(cfg.Dedup.TTL, cfg.Dedup.Capacity, mirror)

	facade := router.NewFacade(
		scorer.New(),
		loader.Scoring,
		loader.Overrides,
		func() selector.Config {
			routing := loader.Routing()
			pricing := loader.Pricing()
			return selector.Config{
				Tiers:           routing.TierConfigSet(),
				EcoTiers:        routing.EcoTierConfigSet(),
				PremiumTiers:    routing.PremiumTierConfigSet(),
				AgenticTiers:    routing.AgenticTierConfigSet(),
				Pricing:         pricing.Models,
				BaselineModel:   routing.BaselineModel,
				ContextWindowOf: pricing.ContextWindowOracle(),
			}
		},
	)
	health := router.NewHealthTracker(3, time.Minute)
	health.SetLogger(logger)

	metrics := telemetry.NewMetrics()

	dispatch := &dispatcher.Dispatcher{
		Cache:   cache,
		Signer:  signer,
		Client:  http.DefaultClient,
		Router:  facade,
		Health:  health,
		Metrics: metrics,
		Logger:  logger,
		Config:  func() config.DispatchConfig { return loader.Config().Dispatch },
		CompressionConfig: func() types.CompressionConfig {
			return types.DefaultCompressionConfig()
		},
	}

	handler := gatewayhttp.NewHandler(dispatch, signer, loader.Pricing, version)
	mux := gatewayhttp.NewRouter(handler)

	listenPort := cfg.Server.Port
	if envPort := os.Getenv("BLOCKRUN_PROXY_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			listenPort = p
		} else {
			logger.Warn("ignoring invalid BLOCKRUN_PROXY_PORT", "value", envPort)
		}
	}
	if *port != 0 {
		listenPort = *port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, listenPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsPort := cfg.Telemetry.MetricsPort
	if envPort := os.Getenv("BLOCKRUN_METRICS_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			metricsPort = p
		} else {
			logger.Warn("ignoring invalid BLOCKRUN_METRICS_PORT", "value", envPort)
		}
	}
	if metricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, metricsPort)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
		go func() {
			logger.Info("metrics server starting", "addr", metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("proxy stopped")
}
