// Package app wires together the configuration, storage, clients, and
// services that make up tradesim — the shared core used by
// cmd/tradesim-server. Wiring order matters: config, then logger, then
// storage, then clients, then services, handed back as one App struct.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/kdalton/tradesim/internal/clients/provider"
	"github.com/kdalton/tradesim/internal/common"
	"github.com/kdalton/tradesim/internal/interfaces"
	"github.com/kdalton/tradesim/internal/ratelimit"
	"github.com/kdalton/tradesim/internal/services/marketdata"
	"github.com/kdalton/tradesim/internal/services/portfolio"
	"github.com/kdalton/tradesim/internal/services/refresher"
	"github.com/kdalton/tradesim/internal/services/trade"
	"github.com/kdalton/tradesim/internal/storage/hotcache"
	surrealstore "github.com/kdalton/tradesim/internal/storage/surrealdb"
)

// App holds every initialized component and is the shared core used by
// cmd/tradesim-server.
type App struct {
	Config *common.Config
	Logger *common.Logger

	db    *surrealdb.DB
	cache interfaces.HotCache

	Ledger     interfaces.PortfolioRepository
	Prices     interfaces.PriceRepository
	Engine     interfaces.MarketDataEngine
	Trades     interfaces.TradeExecutionService
	Portfolios *portfolio.Service

	scheduler     *refresher.CronScheduler
	refreshJob    *refresher.Job
	refreshCancel func()
	StartupTime   time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration, connects storage and provider clients, and
// wires the core services together. configPath may be empty, in which case
// the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	configPath = common.ResolveConfigPath(configPath)

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	ctx := context.Background()

	db, err := surrealstore.Connect(ctx, logger, config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect warm store: %w", err)
	}

	ledgerStore := surrealstore.NewLedgerStore(db, logger, common.RealClock{})
	priceStore := surrealstore.NewPriceStore(db, logger, common.RealClock{})

	hotCachePath := config.Storage.HotCachePath
	if hotCachePath != "" && !filepath.IsAbs(hotCachePath) {
		hotCachePath = filepath.Join(getBinaryDir(), hotCachePath)
	}
	durableCache, err := hotcache.NewDurableCache(logger, hotCachePath, common.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hot cache: %w", err)
	}

	primary := provider.NewEODHDProvider(config.Provider.APIKey,
		provider.WithBaseURL(config.Provider.BaseURL),
		provider.WithLogger(logger),
		provider.WithTimeout(config.Provider.Timeout()),
	)

	var marketDataProvider interfaces.MarketDataProvider = primary
	if config.Provider.SecondaryAPIKey != "" {
		secondary := provider.NewEODHDProvider(config.Provider.SecondaryAPIKey,
			provider.WithBaseURL(config.Provider.BaseURL),
			provider.WithLogger(logger),
			provider.WithTimeout(config.Provider.Timeout()),
		)
		marketDataProvider = provider.NewFallbackProvider(primary, secondary, logger)
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: config.RateLimit.PerMinute,
		PerDay:    config.RateLimit.PerDay,
	}, common.RealClock{})

	calendar := common.NewMarketCalendar(config.Market.CloseTimeUTC, config.Market.Holidays)

	engineCfg := marketdata.Config{
		CurrentTTL:      time.Duration(config.Cache.CurrentTTLSeconds) * time.Second,
		ProviderTimeout: config.Provider.Timeout(),
	}
	engine := marketdata.New(durableCache, priceStore, marketDataProvider, limiter, calendar, common.RealClock{}, logger, engineCfg)

	tradeService := trade.New(ledgerStore, engine, common.RealClock{}, logger)
	portfolioService := portfolio.New(ledgerStore, engine, common.RealClock{}, logger)

	refreshCfg := refresher.Config{
		CronExpr:       config.Scheduler.Cron,
		LookbackWindow: time.Duration(config.Scheduler.ActiveWindowDays) * 24 * time.Hour,
	}
	refreshJob := refresher.New(priceStore, engine, limiter, common.RealClock{}, logger, refreshCfg)
	scheduler := refresher.NewCronScheduler(logger)

	a := &App{
		Config:      config,
		Logger:      logger,
		db:          db,
		cache:       durableCache,
		Ledger:      ledgerStore,
		Prices:      priceStore,
		Engine:      engine,
		Trades:      tradeService,
		Portfolios:  portfolioService,
		scheduler:   scheduler,
		refreshJob:  refreshJob,
		StartupTime: startupStart,
	}

	logger.Info().Str("startup", time.Since(startupStart).String()).Msg("app initialized")

	return a, nil
}

// StartRefresher registers the refresh job on the cron scheduler. Call
// once after NewApp succeeds.
func (a *App) StartRefresher() error {
	cancel, err := a.refreshJob.Register(a.scheduler)
	if err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}
	a.refreshCancel = cancel
	return nil
}

// RefresherStatus reports the refresh job's observable run state.
func (a *App) RefresherStatus() refresher.Status {
	return a.refreshJob.Status()
}

// Close releases all resources held by the App. Shutdown order: stop
// accepting new refresh ticks, close the hot cache, close the warm store.
func (a *App) Close() {
	if a.refreshCancel != nil {
		a.refreshCancel()
		a.refreshCancel = nil
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
	if a.cache != nil {
		a.cache.Close()
		a.cache = nil
	}
	if a.db != nil {
		a.db.Close(context.Background())
		a.db = nil
	}
}
