package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonfabric/agent-engine/internal/api"
	"github.com/tonfabric/agent-engine/internal/chain"
	"github.com/tonfabric/agent-engine/internal/config"
	"github.com/tonfabric/agent-engine/internal/decision"
	"github.com/tonfabric/agent-engine/internal/feed"
	"github.com/tonfabric/agent-engine/internal/logger"
	"github.com/tonfabric/agent-engine/internal/metrics"
	"github.com/tonfabric/agent-engine/internal/scheduler"
	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/fees"
	"github.com/tonfabric/agent-engine/pkg/registry"
	"github.com/tonfabric/agent-engine/pkg/store/memory"
	"github.com/tonfabric/agent-engine/pkg/store/postgres"
	"github.com/tonfabric/agent-engine/pkg/store/redisstore"
	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
	"github.com/tonfabric/agent-engine/pkg/wallet"
)

func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg := logger.New(cfg.LogLevel)
	lg.Info().Msg("Starting agent engine")

	bus := events.NewBus(events.DefaultBuffer, lg)
	bus.OnDrop(func(types.Event) { metrics.EventsDropped.Inc() })
	defer bus.Close()

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		walletStore   wallet.Store
		strategyStore strategy.Store
		feeStore      fees.Store
		registryStore registry.Store
	)
	if cfg.HasDatabase() {
		db, err := postgres.Connect(postgres.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Name:     cfg.DBName,
		})
		if err != nil {
			lg.Fatal().Err(err).Msg("Failed to connect to database")
		}
		walletStore = postgres.NewWalletStore(db)
		strategyStore = postgres.NewStrategyStore(db)
		feeStore = postgres.NewFeeStore(db)
		registryStore = postgres.NewRegistryStore(db)
		lg.Info().Msg("Using PostgreSQL stores")
	} else {
		walletStore = memory.NewWalletStore()
		strategyStore = memory.NewStrategyStore()
		feeStore = memory.NewFeeStore()
		registryStore = memory.NewRegistryStore()
		lg.Warn().Msg("No database configured, using in-memory stores")
	}

	// Custody hot paths live in Redis.
	redisClient, err := redisstore.NewClient(cfg.RedisURL, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	walletMgr := wallet.NewManager(walletStore, bus, lg)
	feeMgr := fees.NewManager(fees.Config{
		PerformanceFeeBps:        cfg.PerformanceFeeBps,
		ProtocolFeeBps:           cfg.ProtocolFeeBps,
		MarketplaceCommissionBps: cfg.MarketplaceCommissionBps,
		ReferralCommissionBps:    cfg.ReferralCommissionBps,
		TreasuryAddress:          cfg.TreasuryAddress,
		ProtocolAddress:          cfg.ProtocolAddress,
	}, feeStore, bus, lg)
	reg := registry.New(registryStore, bus, lg)

	executor := strategy.NewExecutor(strategyStore, walletMgr, bus, nil, lg)
	executor.SetTimeout(cfg.ExecutionTimeout)

	// Trading logics. The decision logic only comes up when an OpenAI key is
	// configured.
	executor.RegisterLogic("dca", &strategy.DCALogic{})
	executor.RegisterLogic("rebalance", &strategy.RebalanceLogic{})
	if cfg.OpenAIKey != "" {
		provider, err := decision.NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, lg)
		if err != nil {
			lg.Fatal().Err(err).Msg("Failed to build decision provider")
		}
		executor.RegisterLogic("decision", &strategy.DecisionLogic{
			Provider:         provider,
			MinConfidenceBps: 6000,
		})
	}

	backend := chain.NewSimulatedBackend(lg)
	market := chain.NewSimulatedMarket(big.NewInt(5_000_000_000), 50)

	sched := scheduler.New(executor, walletMgr, market, cfg.SchedulerTick, lg)
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			lg.Error().Err(err).Msg("Scheduler shutdown failed")
		}
	}()

	go metrics.Observe(bus)

	feedServer := feed.NewServer(bus, lg)
	go func() {
		lg.Info().Str("addr", cfg.FeedListenAddr).Msg("Event feed listening")
		if err := http.ListenAndServe(cfg.FeedListenAddr, feedServer); err != nil {
			lg.Error().Err(err).Msg("Event feed server stopped")
		}
	}()

	go func() {
		addr := ":" + cfg.MetricsPort
		lg.Info().Str("addr", addr).Msg("Metrics listening")
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			lg.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiServer := api.NewServer(cfg.APIListenAddr, api.Deps{
		Wallets:  walletMgr,
		Executor: executor,
		FeeMgr:   feeMgr,
		Registry: reg,
		Tracker:  sched,
		Backend:  backend,
		Sessions: redisstore.NewSessionStore(redisClient),
		Ledger:   redisstore.NewSpendLedger(redisClient),
	}, lg)
	if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Fatal().Err(err).Msg("API server failed")
	}
	lg.Info().Msg("Shutting down")
}
