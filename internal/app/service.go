package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradegovernor/config"
	"tradegovernor/internal/domain"
	"tradegovernor/internal/exitintent"
	"tradegovernor/internal/liquidity"
	"tradegovernor/internal/portfolio"
	"tradegovernor/internal/ports"
	"tradegovernor/internal/reconcile"
	"tradegovernor/internal/risk"
)

// Gate rejection codes applied before the risk manager ever sees a trade.
const (
	CodeSafeMode       = "GLOBAL_SAFE_MODE"
	CodeExternalSymbol = "EXTERNAL_SYMBOL"
	CodeNotReconciled  = "NOT_RECONCILED"
)

// GovernorService orchestrates the risk governor: startup and periodic
// reconciliation, the trade-approval gate, and the two-phase exit workflow.
// It serializes all mutating calls with its own mutex, satisfying the
// single-logical-thread contract the components require.
type GovernorService struct {
	cfg        *config.Config
	logger     ports.Logger
	broker     ports.Broker
	state      *portfolio.State
	riskMgr    *risk.Manager
	tracker    *exitintent.Tracker
	liq        *liquidity.Manager
	reconciler *reconcile.Reconciler
	ledger     ports.TradeLedger

	mu         sync.Mutex
	lastResult *reconcile.Result
}

// NewGovernorService creates the orchestrating service.
func NewGovernorService(
	cfg *config.Config,
	logger ports.Logger,
	broker ports.Broker,
	state *portfolio.State,
	riskMgr *risk.Manager,
	tracker *exitintent.Tracker,
	liq *liquidity.Manager,
	reconciler *reconcile.Reconciler,
	ledger ports.TradeLedger,
) (*GovernorService, error) {
	if cfg == nil || logger == nil || broker == nil || state == nil || riskMgr == nil ||
		tracker == nil || liq == nil || reconciler == nil || ledger == nil {
		return nil, fmt.Errorf("missing required dependencies for governor service")
	}
	return &GovernorService{
		cfg:        cfg,
		logger:     logger,
		broker:     broker,
		state:      state,
		riskMgr:    riskMgr,
		tracker:    tracker,
		liq:        liq,
		reconciler: reconciler,
		ledger:     ledger,
	}, nil
}

// Start runs startup reconciliation, then reconciles periodically until the
// context is cancelled or a shutdown signal arrives.
func (s *GovernorService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting risk governor...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	now := time.Now().UTC()
	s.mu.Lock()
	s.state.UpdateEquityAtDate(ctx, now)
	if err := s.liq.RestoreReserve(ctx, now); err != nil {
		s.logger.Error(ctx, err, "Failed to restore cash reserve, continuing without it")
	}
	if pending := s.tracker.IntentCount(); pending > 0 {
		s.logger.Info(ctx, "Pending exit intents restored", map[string]interface{}{"count": pending})
	}
	s.lastResult = s.reconciler.ReconcileOnStartup(ctx)
	s.mu.Unlock()
	s.publish(ctx, s.lastResult)

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Risk governor stopped.")
			return nil
		case <-ticker.C:
			s.mu.Lock()
			s.state.UpdateEquityAtDate(ctx, time.Now().UTC())
			s.lastResult = s.reconciler.ReconcileOnStartup(ctx)
			s.mu.Unlock()
			s.publish(ctx, s.lastResult)
		}
	}
}

// publish logs the reconciliation contract for the execution layer.
func (s *GovernorService) publish(ctx context.Context, result *reconcile.Result) {
	s.logger.Info(ctx, "Trading permission status", map[string]interface{}{
		"status":          result.Status,
		"safeMode":        result.SafeMode,
		"warnings":        result.Warnings,
		"errors":          result.Errors,
		"externalSymbols": result.ExternalSymbols,
	})
}

// Status returns the most recent reconciliation result, or nil before the
// first run.
func (s *GovernorService) Status() *reconcile.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// EvaluateTrade gates a proposed trade on the global permission status and
// the external-symbol block before handing it to the risk manager. Safe mode
// is an unconditional block on new entries regardless of sub-reason.
func (s *GovernorService) EvaluateTrade(ctx context.Context, symbol string, entryPrice float64, confidence int, currentPrices map[string]float64) domain.TradeDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.UpdateEquityAtDate(ctx, time.Now().UTC())

	if s.lastResult == nil {
		return domain.TradeDecision{
			Approved:   false,
			Reason:     "no reconciliation has run yet",
			ReasonCode: CodeNotReconciled,
		}
	}
	if s.lastResult.SafeMode || !s.lastResult.Status.AllowsEntries() {
		return domain.TradeDecision{
			Approved:   false,
			Reason:     fmt.Sprintf("new entries blocked, status %s", s.lastResult.Status),
			ReasonCode: CodeSafeMode,
		}
	}
	if s.reconciler.IsExternal(symbol) {
		return domain.TradeDecision{
			Approved:   false,
			Reason:     fmt.Sprintf("%s is held externally, duplicate buys blocked", symbol),
			ReasonCode: CodeExternalSymbol,
		}
	}

	return s.riskMgr.EvaluateTrade(ctx, symbol, entryPrice, confidence, currentPrices)
}

// OpenTrade records an approved entry in the portfolio ledger. The caller
// must have obtained an approval from EvaluateTrade first.
func (s *GovernorService) OpenTrade(ctx context.Context, symbol string, price float64, decision domain.TradeDecision) error {
	if !decision.Approved {
		return fmt.Errorf("open trade %s: decision was not approved: %w", symbol, ports.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.OpenTrade(ctx, symbol, time.Now().UTC(), price, decision.PositionSize, decision.RiskAmount, decision.Confidence)
	return nil
}

// RecordExitIntent stores an end-of-day exit decision for next-day execution.
func (s *GovernorService) RecordExitIntent(ctx context.Context, intent *domain.ExitIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.AddIntent(ctx, intent)
}

// ExecuteExit executes a previously recorded intent. The order is only
// placed inside its decision window: never on the decision day itself
// (unless the intent is immediate) and never while the market is closed.
func (s *GovernorService) ExecuteExit(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent := s.tracker.GetIntent(symbol)
	if intent == nil {
		return fmt.Errorf("execute exit %s: no pending intent: %w", symbol, ports.ErrNotFound)
	}

	now := time.Now().UTC()
	if !intent.IsForced() && domain.SameDay(intent.DecisionDate, now) {
		return fmt.Errorf("execute exit %s: decision window not open until next trading day", symbol)
	}

	clock, err := s.broker.GetClock(ctx)
	if err != nil {
		return fmt.Errorf("execute exit %s: clock unavailable: %w", symbol, err)
	}
	if !clock.IsOpen {
		return fmt.Errorf("execute exit %s: market closed", symbol)
	}

	order, err := s.broker.ClosePosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("execute exit %s: close failed: %w", symbol, err)
	}

	fillPrice := order.FilledPrice
	for s.state.HasPosition(symbol) {
		if fillPrice <= 0 {
			if lots := s.state.PositionsFor(symbol); len(lots) > 0 {
				fillPrice = lots[0].CurrentPrice
			}
		}
		trade, err := s.state.CloseTrade(ctx, symbol, now, fillPrice)
		if err != nil {
			break
		}
		trade.ExitType = intent.ExitType
		trade.Provisional = order.IsPending()
		if _, err := s.ledger.AddTrade(ctx, trade); err != nil {
			s.logger.Error(ctx, err, "Failed to record exit in trade ledger", map[string]interface{}{
				"symbol": symbol,
			})
		}
	}

	return s.tracker.MarkExecuted(ctx, symbol)
}
