package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lendpool/config"
	"lendpool/core/events"
	"lendpool/crypto"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	"lendpool/rpc"
	"lendpool/rpc/modules"
	"lendpool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to lendpoold config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("lendpoold", cfg.Env, cfg.LogFile)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("lendpoold", cfg.Env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("open ledger database: %v", err)
	}
	defer db.Close()

	journal, err := events.OpenJournal(filepath.Join(cfg.DataDir, "events.db"), logger)
	if err != nil {
		log.Fatalf("open event journal: %v", err)
	}
	defer func() { _ = journal.Close() }()

	registry, err := lending.NewRegistry(db)
	if err != nil {
		log.Fatalf("load asset registry: %v", err)
	}
	registry.SetEmitter(journal)
	for _, asset := range cfg.Assets {
		if err := registry.SetAllowedAsset(asset.Symbol, asset.PriceFeed); err != nil {
			log.Fatalf("register asset %s: %v", asset.Symbol, err)
		}
	}

	aggregator := oracle.NewAggregator(cfg.Oracle.Priority, time.Duration(cfg.Oracle.MaxQuoteAgeSeconds)*time.Second)
	if len(cfg.Oracle.ManualRates) > 0 {
		manual := oracle.NewManualOracle()
		for feed, rate := range cfg.Oracle.ManualRates {
			if err := manual.SetDecimal(feed, rate, time.Now().UTC()); err != nil {
				log.Fatalf("seed manual rate for %s: %v", feed, err)
			}
		}
		aggregator.Register("manual", manual)
	}
	for name, endpoint := range cfg.Oracle.HTTPEndpoints {
		aggregator.Register(name, oracle.NewHTTPOracle(nil, endpoint, os.Getenv("LENDPOOL_ORACLE_API_KEY")))
	}

	poolAddr, err := resolvePoolAddress(cfg.PoolAddress, cfg.DataDir)
	if err != nil {
		log.Fatalf("resolve pool address: %v", err)
	}
	logger.Info("pool custody address", "address", poolAddr.String())

	store := lending.NewStore(db)
	risk := lending.NewRiskEngine(registry, aggregator, lending.RiskParameters{
		LiquidationThresholdPct: cfg.Risk.LiquidationThresholdPct,
		LiquidationBonusPct:     cfg.Risk.LiquidationBonusPct,
	})
	bank := lending.NewBank(db, poolAddr)
	engine := lending.NewEngine(store, registry, risk, bank)
	engine.SetEmitter(journal)
	engine.SetPauses(lending.ActionPauses{
		Deposit:   cfg.Pauses.Deposit,
		Withdraw:  cfg.Pauses.Withdraw,
		Borrow:    cfg.Pauses.Borrow,
		Repay:     cfg.Pauses.Repay,
		Liquidate: cfg.Pauses.Liquidate,
	})

	server := rpc.NewServer(modules.NewLendingModule(engine, registry, journal), logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendpoold listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "err", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve rpc: %v", err)
		}
	}
}

// resolvePoolAddress decodes the configured custody address or, when unset,
// loads the pool key from the data-dir keystore, generating one on first run.
func resolvePoolAddress(configured, dataDir string) (crypto.Address, error) {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return crypto.DecodeAddress(trimmed)
	}
	key, err := crypto.LoadOrCreateKeystore(
		filepath.Join(dataDir, "pool-keystore.json"),
		os.Getenv("LENDPOOL_KEYSTORE_PASSPHRASE"),
	)
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}
