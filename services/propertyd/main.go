package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	coreconfig "drems/config"
	"drems/core/events"
	"drems/native/bridge"
	"drems/native/collateral"
	"drems/native/pricefeed"
	"drems/native/rent"
	"drems/native/schedule"
	"drems/native/valuation"
	"drems/observability/logging"
	telemetry "drems/observability/otel"
	"drems/services/propertyd/automation"
	"drems/services/propertyd/config"
	"drems/services/propertyd/server"
	"drems/storage"
)

// collateralModuleAddress is the account that holds locked position collateral.
var collateralModuleAddress = common.HexToAddress("0x00000000000000000000000000000000d4e35001")

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/propertyd/config.yaml", "path to propertyd config")
	flag.Parse()

	svcCfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	core, err := coreconfig.Load(svcCfg.CorePath)
	if err != nil {
		log.Fatalf("load core config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("DREMS_ENV"))
	if env == "" {
		env = core.Environment
	}
	logger := logging.SetupWithFile("propertyd", env, logging.FileConfig{
		Path:       core.Log.FilePath,
		MaxSizeMB:  core.Log.MaxSizeMB,
		MaxBackups: core.Log.MaxBackups,
		MaxAgeDays: core.Log.MaxAgeDays,
		Compress:   core.Log.Compress,
	})

	insecure := core.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "propertyd",
		Environment: env,
		Endpoint:    core.Telemetry.Endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(core.Telemetry.Headers),
		Metrics:     core.Telemetry.Metrics,
		Traces:      core.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(core.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	store, err := storage.NewStore(filepath.Join(core.DataDir, "drems.db"), nil)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	bus := events.NewBus()

	oracle := pricefeed.NewAggregator(nil, core.Staleness())
	for _, feed := range core.Pricefeed.Feeds {
		name := strings.TrimSpace(feed.Name)
		if name == "" || strings.TrimSpace(feed.URL) == "" {
			continue
		}
		key := strings.TrimSpace(os.Getenv(feed.APIKeyEnv))
		oracle.Register(name, pricefeed.NewFeedAdapter(nil, feed.URL, key))
		logger.Info("registered price feed", "name", name, logging.MaskField("apiKey", key))
	}

	engine := collateral.NewEngine(collateralModuleAddress, collateral.RiskParameters{
		MinHealthFactorBps:      core.Risk.MinHealthFactorBps,
		LiquidationThresholdBps: core.Risk.LiquidationThresholdBps,
	})
	engine.SetState(store)
	engine.SetEmitter(bus)

	ledger := bridge.NewLedger(store, bridge.FeeSchedule{
		FlatFee:  core.FlatFee(),
		PerChain: core.PerChainFees(),
	})
	ledger.SetEmitter(bus)

	processor := rent.NewProcessor(store)
	processor.SetEmitter(bus)

	platform := rent.NewPlatformClient(nil, core.Sources.Platform.BaseURL, core.Sources.Platform.APIKey())
	stripe := rent.NewStripeClient(nil, core.Sources.Stripe.BaseURL, core.Sources.Stripe.APIKey())
	collector := rent.NewCollector(platform, stripe, platform, platform, rent.WithCollectLogger(logger))

	fetcher := valuation.NewFetcher(
		valuation.NewZillowClient(nil, core.Sources.Zillow.BaseURL, core.Sources.Zillow.APIKey()),
		valuation.NewRentalClient(nil, core.Sources.Rental.BaseURL, core.Sources.Rental.APIKey()),
		valuation.NewMarketClient(nil, core.Sources.Market.BaseURL, core.Sources.Market.APIKey()),
		valuation.WithLogger(logger),
		valuation.WithRateLimit(rate.NewLimiter(rate.Limit(5), 10)),
	)

	properties := make([]automation.Property, 0, len(core.Properties))
	for _, property := range core.Properties {
		expected := new(big.Int).Mul(new(big.Int).SetUint64(property.ExpectedRentUSD), big.NewInt(1e18))
		properties = append(properties, automation.Property{ID: property.ID, ExpectedRent: expected})
	}
	runner := automation.NewRunner(automation.Config{
		Properties: properties,
		Schedules:  store,
		Intervals: schedule.Intervals{
			Rent:        time.Duration(core.Schedule.RentIntervalHours) * time.Hour,
			Valuation:   time.Duration(core.Schedule.ValuationIntervalHours) * time.Hour,
			Maintenance: time.Duration(core.Schedule.MaintenanceIntervalHours) * time.Hour,
		},
		Tick:       time.Duration(core.Schedule.TickSeconds) * time.Second,
		Collector:  collector,
		Processor:  processor,
		Fetcher:    fetcher,
		Valuations: store,
		Logger:     logger,
	})

	api := server.New(ledger, engine, oracle, store, store, store, bus, logger)
	httpServer := &http.Server{
		Addr:              svcCfg.ListenAddress,
		Handler:           otelhttp.NewHandler(api.Router(), "propertyd"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if svcCfg.Automation.Enabled {
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("automation loop stopped", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("propertyd listening", "address", svcCfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(svcCfg.Shutdown.GraceSeconds)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}
