package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"tradegovernor/config"
	"tradegovernor/internal/adapters/logger"
	"tradegovernor/internal/adapters/paperbroker"
	"tradegovernor/internal/adapters/retrybroker"
	"tradegovernor/internal/adapters/sqlite"
	"tradegovernor/internal/app"
	"tradegovernor/internal/exitintent"
	"tradegovernor/internal/liquidity"
	"tradegovernor/internal/portfolio"
	"tradegovernor/internal/reconcile"
	"tradegovernor/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Trade Ledger (Database Adapter)
	ledger, err := sqlite.NewLedger(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trade ledger")
		log.Fatalf("FATAL: Failed to initialize trade ledger: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing trade ledger")
		}
	}()

	// 4. Initialize Broker (paper adapter behind the retry decorator; a live
	// adapter implementing ports.Broker slots in here unchanged)
	paper := paperbroker.New(cfg.InitialEquity, cfg.InitialEquity)
	broker, err := retrybroker.New(paper, retrybroker.Config{
		Timeout:   cfg.BrokerTimeout,
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize broker")
		log.Fatalf("FATAL: Failed to initialize broker: %v", err)
	}

	// 5. Initialize Portfolio Ledger
	state, err := portfolio.New(portfolio.Config{
		InitialEquity: cfg.InitialEquity,
		Logger:        appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize portfolio state")
		log.Fatalf("FATAL: Failed to initialize portfolio state: %v", err)
	}

	// 6. Initialize Risk Manager
	riskMgr, err := risk.NewManager(risk.Config{
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		DailyLossLimit:       cfg.DailyLossLimit,
		MaxTradesPerDay:      cfg.MaxTradesPerDay,
		RiskPerTrade:         cfg.RiskPerTrade,
		MaxRiskPerSymbol:     cfg.MaxRiskPerSymbol,
		MaxPortfolioHeat:     cfg.MaxPortfolioHeat,
		Logger:               appLogger,
	}, state)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	// 7. Initialize Exit Intent Tracker
	tracker, err := exitintent.NewTracker(exitintent.Config{
		FilePath: cfg.IntentsPath,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exit intent tracker")
		log.Fatalf("FATAL: Failed to initialize exit intent tracker: %v", err)
	}

	// 8. Initialize Liquidity Manager
	reserves, err := liquidity.NewReserveStore(cfg.ReservePath, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize reserve store")
		log.Fatalf("FATAL: Failed to initialize reserve store: %v", err)
	}
	liq, err := liquidity.NewManager(liquidity.Config{
		Mode:              cfg.Mode,
		CashBufferPct:     cfg.CashBufferPct,
		MaxPortfolioHeat:  cfg.MaxPortfolioHeat,
		TargetCash:        cfg.TargetCash,
		ReserveExpiryDays: cfg.ReserveExpiryDays,
		Logger:            appLogger,
	}, state, broker, ledger, reserves)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize liquidity manager")
		log.Fatalf("FATAL: Failed to initialize liquidity manager: %v", err)
	}

	// 9. Initialize Account Reconciler
	reconciler, err := reconcile.NewReconciler(reconcile.Config{
		StaleOrderAge:    cfg.StaleOrderAge,
		MaxPortfolioHeat: cfg.MaxPortfolioHeat,
		CashBufferPct:    cfg.CashBufferPct,
		Logger:           appLogger,
	}, broker, state, riskMgr, ledger, liq)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize reconciler")
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	// 10. Initialize and start the Governor Service
	service, err := app.NewGovernorService(cfg, appLogger, broker, state, riskMgr, tracker, liq, reconciler, ledger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize governor service")
		log.Fatalf("FATAL: Failed to initialize governor service: %v", err)
	}

	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Governor service exited with error")
		log.Fatalf("Governor service exited with error: %v", err)
	}
	appLogger.Info(ctx, "Shutdown complete")
}
