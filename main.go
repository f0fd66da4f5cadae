package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution-core/internal/api"
	"execution-core/internal/engine"
	"execution-core/internal/events"
	"execution-core/internal/execution"
	"execution-core/internal/hub"
	"execution-core/internal/monitor"
	"execution-core/internal/registry"
	"execution-core/internal/rules"
	"execution-core/internal/strategy"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/binance/futures"
	"execution-core/pkg/exchanges/common"
	marketbinance "execution-core/pkg/market/binance"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[BOOT] config load failed: %v", err)
	}
	log.Printf("[BOOT] starting execution core v%s on port %s (testnet=%v)", version, cfg.Port, cfg.BinanceTestnet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[BOOT] db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("[BOOT] db migrations failed: %v", err)
	}

	// One throttle for the whole process: every REST call shares the
	// venue's rate budget.
	throttle := common.NewThrottle(cfg.GatewayCallsPerSec, cfg.GatewayBurst, cfg.GatewayWeightLimit, time.Minute)

	gateway := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	}, throttle)
	gateway.StartTimeSync(ctx)

	rulesCache := rules.NewCache(gateway, cfg.RulesRefreshInterval)
	rulesCache.Start(ctx)
	for _, symbol := range cfg.Symbols {
		if _, err := rulesCache.Get(ctx, symbol); err != nil {
			log.Printf("[BOOT] preload rules for %s: %v", symbol, err)
		}
	}

	stream := marketbinance.NewStreamClient(cfg.BinanceTestnet)
	priceHub := hub.New(ctx, stream, bus)

	exec := execution.New(gateway, rulesCache, bus, database)
	jobRegistry := registry.New()
	svc := engine.New(ctx, exec, jobRegistry, bus, priceHub)

	metrics := monitor.NewSystemMetrics(throttle)
	metrics.Collect(ctx, bus)

	presets, err := strategy.LoadPresets(cfg.StrategyPresetPath)
	if err != nil {
		log.Fatalf("[BOOT] strategy presets: %v", err)
	}
	svc.LoadPresets(presets)

	server := api.NewServer(svc, priceHub, bus, database, metrics, api.SystemMeta{
		Venue:   "binance-usdt-futures",
		Testnet: cfg.BinanceTestnet,
		Symbols: cfg.Symbols,
		Version: version,
	}, cfg.JWTSecret)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + cfg.Port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[BOOT] received %v, shutting down", sig)
	case err := <-errCh:
		log.Printf("[BOOT] http server stopped: %v", err)
	}

	// Orderly shutdown: stop every job first so positions get flattened
	// and resting orders canceled before the process exits.
	svc.Shutdown()
	cancel()
	log.Printf("[BOOT] bye")
}
