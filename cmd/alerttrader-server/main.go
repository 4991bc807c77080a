package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"alerttrader/internal/api"
	"alerttrader/internal/broker"
	"alerttrader/internal/broker/bitfinex"
	"alerttrader/internal/broker/drivewealth"
	"alerttrader/internal/broker/itbit"
	"alerttrader/internal/config"
	"alerttrader/internal/domain"
	"alerttrader/internal/engine"
	"alerttrader/internal/httpapi"
	"alerttrader/internal/store"
	"alerttrader/internal/util"
)

const version = "0.1.0"

func main() {
	cfgPath := "config/alerttrader.yaml"
	if p := os.Getenv("ALERTTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLoggerWithOptions(util.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	var (
		creds interface {
			engine.CredentialStore
			httpapi.Store
		}
		logs    engine.OrderLogs
		archive *store.ParquetArchive
	)
	if cfg.Storage.SQLitePath != "" {
		sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite: %w", err)
		}
		defer sqlite.Close()
		creds = sqlite
		logs = append(logs, sqlite)
	} else {
		mem := store.NewMemoryStore()
		creds = mem
		logs = append(logs, mem)
		logger.Warn("no sqlite_path configured; services are kept in memory")
	}
	if cfg.Storage.DataDir != "" {
		archive = store.NewParquetArchive(cfg.Storage.DataDir)
		logs = append(logs, archive)
	}

	eng := engine.NewEngine(registry, engine.Options{
		Credentials: creds,
		OrderLog:    logs,
		Allocation:  allocationPolicy(cfg),
		Logger:      logger,
	})

	brokers := make([]string, 0, len(registry.Types()))
	for _, t := range registry.Types() {
		brokers = append(brokers, string(t))
	}

	rest := httpapi.NewServer(eng, creds, logger, version, brokers)
	if archive != nil {
		rest.WithArchive(archive)
	}
	intents := api.NewIntentService(eng, version, brokers)
	srv := api.NewServer(cfg.Server, rest.Handler(), intents, logger)

	logger.Info("alerttrader-server starting",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"paper_mode", cfg.Trading.PaperMode,
		"brokers", brokers,
	)
	return srv.ListenAndServe(ctx)
}

// buildRegistry creates one client per venue. In paper mode every broker
// type is routed to the simulator.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*engine.Registry, error) {
	b := cfg.Brokers
	transport := func(name string, v config.Venue) broker.TransportOptions {
		return broker.TransportOptions{
			Timeout:       b.Timeout,
			RatePerSecond: v.RatePerSecond,
			Burst:         v.Burst,
			Logger:        logger.With("venue", name),
		}
	}

	dwMin, err := b.DriveWealth.Minimum()
	if err != nil {
		return nil, fmt.Errorf("drivewealth min_notional: %w", err)
	}
	bfxMin, err := b.Bitfinex.Minimum()
	if err != nil {
		return nil, fmt.Errorf("bitfinex min_notional: %w", err)
	}
	itbMin, err := b.ItBit.Minimum()
	if err != nil {
		return nil, fmt.Errorf("itbit min_notional: %w", err)
	}
	alpMin, err := b.Alpaca.Minimum()
	if err != nil {
		return nil, fmt.Errorf("alpaca min_notional: %w", err)
	}

	sim, err := simulator(cfg.Trading.Paper)
	if err != nil {
		return nil, err
	}

	registry := engine.NewRegistry(
		drivewealth.New(drivewealth.Options{
			BaseURL:     b.DriveWealth.BaseURL,
			MinNotional: dwMin,
			Transport:   transport("drivewealth", b.DriveWealth),
		}),
		bitfinex.New(bitfinex.Options{
			BaseURL:     b.Bitfinex.BaseURL,
			MinNotional: bfxMin,
			Transport:   transport("bitfinex", b.Bitfinex),
		}),
		itbit.New(itbit.Options{
			BaseURL:     b.ItBit.BaseURL,
			MinNotional: itbMin,
			Transport:   transport("itbit", b.ItBit),
		}),
		broker.NewAlpacaBroker(b.Alpaca.BaseURL, b.Alpaca.DataURL, alpMin, b.Timeout),
		sim,
	)
	if cfg.Trading.PaperMode {
		registry.RouteAll(sim)
	}
	return registry, nil
}

// simulator builds the paper broker from its configured seed.
func simulator(paper config.PaperConfig) (*broker.SimulatorBroker, error) {
	sim := broker.NewSimulatorBroker()
	for currency, amount := range paper.StartingBalances {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("paper starting balance %s: %w", currency, err)
		}
		sim.Seed(currency, d)
	}
	for symbol, q := range paper.Quotes {
		pair, err := parsePair(symbol)
		if err != nil {
			return nil, err
		}
		bid, err := decimal.NewFromString(q.Bid)
		if err != nil {
			return nil, fmt.Errorf("paper quote %s bid: %w", symbol, err)
		}
		ask, err := decimal.NewFromString(q.Ask)
		if err != nil {
			return nil, fmt.Errorf("paper quote %s ask: %w", symbol, err)
		}
		sim.SetQuote(pair, bid, ask)
	}
	return sim, nil
}

func parsePair(s string) (domain.SymbolPair, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok || base == "" || quote == "" {
		return domain.SymbolPair{}, fmt.Errorf("paper quote %q: want BASE/QUOTE", s)
	}
	return domain.SymbolPair{Base: base, Quote: quote}, nil
}

func allocationPolicy(cfg *config.Config) *engine.AllocationPolicy {
	b := cfg.Brokers
	return engine.NewAllocationPolicy(map[domain.BrokerType]float64{
		domain.BrokerDriveWealth: b.DriveWealth.AllocationPercent,
		domain.BrokerBitfinex:    b.Bitfinex.AllocationPercent,
		domain.BrokerItBit:       b.ItBit.AllocationPercent,
		domain.BrokerAlpaca:      b.Alpaca.AllocationPercent,
	}, cfg.Trading.DefaultAllocationPercent)
}
