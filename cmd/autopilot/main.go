package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wealthkit/autopilot/internal/config"
	"github.com/wealthkit/autopilot/internal/engine"
	"github.com/wealthkit/autopilot/internal/events"
	"github.com/wealthkit/autopilot/internal/executor"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/model"
	"github.com/wealthkit/autopilot/internal/performance"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/postgres"
	"github.com/wealthkit/autopilot/internal/pricing"
	"github.com/wealthkit/autopilot/internal/queue"
	"github.com/wealthkit/autopilot/internal/rules"
	"github.com/wealthkit/autopilot/internal/server"
)

const (
	_engineCfgFilePath = "./configs/engine.yaml"
)

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Debug)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadEngineConfig(_engineCfgFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			zapLogger.Fatalf("%s: can't load engine cfg", err)
		}
		zapLogger.Warnf("%s: using default config", err)
		cfg = config.DefaultEngineConfig()
	}

	pgConfig := postgres.NewConfigFromEnv().Setup()
	zapLogger.Debugf("trying to connect to db with: %s", pgConfig)
	db, err := postgres.NewDB(pgConfig)
	if err != nil {
		zapLogger.Fatalf("%s: can't connect to db", err)
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		zapLogger.Fatalf("%s: can't migrate db", err)
	}

	repo := portfolio.NewRepository(db, zapLogger)
	if err := repo.LoadFromDB(ctx); err != nil {
		zapLogger.Fatalf("%s: can't load portfolios", err)
	}

	priceSource, err := buildPriceSource(ctx, cfg.Pricing, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't build price source", err)
	}

	m := metrics.NewRegistry()
	m.ActivePortfolios.Set(float64(len(repo.ActiveIDs())))

	bus := events.NewBus(zapLogger)
	sink := events.Fanout(events.NewLogSink(zapLogger), bus)
	go watchApprovals(ctx, zapLogger, bus.Subscribe())

	tradeQueue := queue.NewTradeQueue(zapLogger)
	rulesEngine := rules.NewEngine(cfg.Rules, cfg.Universe, repo, tradeQueue, sink, m, zapLogger)
	exec := executor.NewExecutor(cfg.Executor, repo, tradeQueue, priceSource, sink, m, zapLogger)
	tracker := performance.NewTracker(cfg.Performance, repo, priceSource, zapLogger)

	eng := engine.New(cfg, repo, tradeQueue, rulesEngine, exec, tracker, sink, m, zapLogger)
	sched := engine.NewScheduler(cfg.Cycles, eng, zapLogger)

	handler := server.NewHandler(eng, db, priceSource, m, probeSymbol(cfg.Universe), zapLogger)
	srv := server.NewHTTPServer(ctx, cfg.Server.Port, server.NewRouter(handler))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		repo.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	zapLogger.Infof("autopilot listening on :%s", cfg.Server.Port)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zapLogger.Errorf("%s: server stopped", err)
	}

	zapLogger.Infoln("start graceful shutdown")
	wg.Wait()
}

// buildPriceSource assembles the configured source, wrapped with the
// redis quote cache when enabled. In simulated mode a background loop
// keeps the walk moving.
func buildPriceSource(ctx context.Context, cfg config.PricingConfig, zapLogger logger.Logger) (pricing.PriceSource, error) {
	var source pricing.PriceSource
	switch cfg.Mode {
	case config.PricingSimulated:
		sim := pricing.NewSimulatedSource(cfg.Simulated, zapLogger)
		go runSimulatedTicks(ctx, sim)
		source = sim
	case config.PricingHTTP:
		source = pricing.NewHTTPSource(cfg.Quotes, zapLogger)
	default:
		return nil, errors.New("unknown pricing mode " + string(cfg.Mode))
	}

	if !cfg.Cache.Enabled {
		return source, nil
	}

	cache, err := pricing.NewQuoteCache(cfg.Cache, zapLogger)
	if err != nil {
		return nil, err
	}
	return pricing.NewCachedSource(cache, source, zapLogger), nil
}

func runSimulatedTicks(ctx context.Context, sim *pricing.SimulatedSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			sim.Advance()
		}
	}
}

// watchApprovals surfaces trades waiting for the owner's decision. This
// is where a notification integration would hang off the event bus.
func watchApprovals(ctx context.Context, zapLogger logger.Logger, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if e.Type == model.EventApprovalRequired {
				zapLogger.Infof("portfolio %s is waiting for approval: %+v", e.PortfolioID, e.Payload)
			}
		}
	}
}

func probeSymbol(u config.UniverseConfig) string {
	if sym, ok := u.ProxyFor(model.Stocks); ok {
		return sym
	}

	symbols := make([]string, 0, len(u.Assets))
	for sym := range u.Assets {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)
	if len(symbols) > 0 {
		return symbols[0]
	}
	return ""
}
