package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/liquidity"
	"tradegovernor/internal/portfolio"
	"tradegovernor/internal/ports"
	"tradegovernor/internal/risk"
)

// Result is the reconciliation contract consumed by the execution layer.
// SafeMode=true is an unconditional block on new entries regardless of which
// sub-reason triggered it.
type Result struct {
	Status          domain.StartupStatus
	SafeMode        bool
	Warnings        []string
	Errors          []string
	ExternalSymbols []string
}

// Config holds configuration for the reconciler.
type Config struct {
	StaleOrderAge    time.Duration
	MaxPortfolioHeat float64
	CashBufferPct    float64
	Logger           ports.Logger
}

// Reconciler is the top-level orchestrator of truth reconciliation: it pulls
// the broker's authoritative state, cross-checks it against the local
// ledger, optionally triggers liquidation, and computes the global
// trading-permission status. It never lets an exception escape; any
// unhandled failure becomes FAILED/safe mode.
type Reconciler struct {
	cfg       Config
	broker    ports.Broker
	state     *portfolio.State
	riskMgr   *risk.Manager
	ledger    ports.TradeLedger
	liquidity *liquidity.Manager // Optional; nil disables auto-liquidation

	// Symbols held at the broker but opened outside this system. Remembered
	// across runs so duplicate-buy blocking survives the backfill.
	externals map[string]bool
}

// NewReconciler creates a reconciler. The liquidity manager may be nil.
func NewReconciler(cfg Config, broker ports.Broker, state *portfolio.State, riskMgr *risk.Manager, ledger ports.TradeLedger, liq *liquidity.Manager) (*Reconciler, error) {
	if cfg.Logger == nil || broker == nil || state == nil || riskMgr == nil || ledger == nil {
		return nil, fmt.Errorf("missing required dependencies for reconciler")
	}
	if cfg.StaleOrderAge <= 0 {
		cfg.StaleOrderAge = 60 * time.Minute
	}
	return &Reconciler{
		cfg:       cfg,
		broker:    broker,
		state:     state,
		riskMgr:   riskMgr,
		ledger:    ledger,
		liquidity: liq,
		externals: make(map[string]bool),
	}, nil
}

// run accumulates pipeline findings before the final status decision.
type run struct {
	now              time.Time
	snapshot         *ports.AccountSnapshot
	brokerPositions  []ports.BrokerPosition
	orders           []ports.BrokerOrder
	errors           []string
	seriousWarnings  []string
	externalWarnings []string
}

func (r *run) errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *run) warnf(format string, args ...interface{}) {
	r.seriousWarnings = append(r.seriousWarnings, fmt.Sprintf(format, args...))
}

// ReconcileOnStartup executes the full reconciliation pipeline once. It is
// idempotent: re-running against an unchanged broker/ledger state produces
// the same status and does not create duplicate ledger entries.
func (r *Reconciler) ReconcileOnStartup(ctx context.Context) (result *Result) {
	pass := &run{now: time.Now().UTC()}

	// Reconciliation must never crash the host process.
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.Logger.Error(ctx, fmt.Errorf("panic: %v", rec), "Reconciliation pipeline panicked")
			pass.errorf("reconciliation panicked: %v", rec)
			result = r.determineStatus(ctx, pass)
		}
	}()

	r.cfg.Logger.Info(ctx, "Starting account reconciliation")

	// 1. Account snapshot. Without it nothing downstream can be validated.
	snap, err := r.broker.GetAccountSnapshot(ctx)
	if err != nil {
		r.cfg.Logger.Error(ctx, err, "Failed to fetch account snapshot")
		pass.errorf("account snapshot fetch failed: %v", err)
		return r.determineStatus(ctx, pass)
	}
	pass.snapshot = snap

	// 2. Open positions.
	brokerPositions, err := r.broker.GetOpenPositions(ctx)
	if err != nil {
		r.cfg.Logger.Error(ctx, err, "Failed to fetch open positions")
		pass.errorf("open positions fetch failed: %v", err)
		return r.determineStatus(ctx, pass)
	}
	pass.brokerPositions = brokerPositions

	// 3. Open orders. Non-fatal: proceed with an empty list and a warning.
	orders, err := r.broker.GetOpenOrders(ctx)
	if err != nil {
		r.cfg.Logger.Warn(ctx, "Failed to fetch open orders, proceeding with empty list", map[string]interface{}{
			"error": err.Error(),
		})
		pass.warnf("open orders fetch failed, validated against empty list: %v", err)
		orders = nil
	}
	pass.orders = orders

	// 4-7. Validation steps.
	r.validatePositions(ctx, pass)
	r.validateBuyingPower(ctx, pass)
	r.validateOrders(ctx, pass)
	r.validateLedger(ctx, pass)

	return r.determineStatus(ctx, pass)
}

// validatePositions cross-references broker positions against the local
// ledger. A broker position absent from the ledger is an external position:
// it is backfilled so exposure accounting sees it, and its symbol (only that
// symbol, not the whole account) is blocked from duplicate buys.
func (r *Reconciler) validatePositions(ctx context.Context, pass *run) {
	for _, bp := range pass.brokerPositions {
		currentPrice := bp.AvgEntryPrice * (1 + bp.UnrealizedPNLPct)

		if r.state.HasPosition(bp.Symbol) {
			r.state.UpdatePrice(bp.Symbol, currentPrice)
			continue
		}

		// Backfill only symbols genuinely absent from the ledger, so a
		// repeated run cannot duplicate entries.
		r.externals[bp.Symbol] = true
		r.state.OpenTrade(ctx, bp.Symbol, pass.now, bp.AvgEntryPrice, bp.Qty, 0, 3)
		r.state.UpdatePrice(bp.Symbol, currentPrice)

		msg := fmt.Sprintf("external position %s (qty %.4f) backfilled into ledger", bp.Symbol, bp.Qty)
		pass.externalWarnings = append(pass.externalWarnings, msg)
		r.cfg.Logger.Warn(ctx, "External position detected", map[string]interface{}{
			"symbol":   bp.Symbol,
			"qty":      bp.Qty,
			"avgEntry": bp.AvgEntryPrice,
		})
	}
}

// validateBuyingPower syncs equity with the broker's view and checks
// account-level risk limits, optionally handing a cash/heat violation to the
// liquidity manager.
func (r *Reconciler) validateBuyingPower(ctx context.Context, pass *run) {
	snap := pass.snapshot

	if snap.Equity <= 0 {
		pass.errorf("broker reports non-positive equity %.2f", snap.Equity)
		return
	}

	localEquity := r.state.CurrentEquity()
	if localEquity > 0 && snap.Equity > 0 {
		drift := (snap.Equity - localEquity) / localEquity
		if drift > 0.05 || drift < -0.05 {
			pass.warnf("equity drift %.1f%% between ledger (%.2f) and broker (%.2f)", 100*drift, localEquity, snap.Equity)
		}
	}
	// The broker is authoritative for equity.
	r.state.SetEquity(snap.Equity)

	exposure := 0.0
	for _, pos := range r.state.OpenPositions() {
		exposure += pos.MarketValue()
	}
	if exposure > snap.Equity+snap.BuyingPower {
		pass.warnf("open exposure %.2f exceeds equity plus buying power %.2f", exposure, snap.Equity+snap.BuyingPower)
	}

	heat := r.state.PortfolioHeat(nil)
	heatExceeded := r.cfg.MaxPortfolioHeat > 0 && heat > r.cfg.MaxPortfolioHeat
	if heatExceeded {
		pass.warnf("portfolio heat %.2f%% exceeds limit %.2f%%", 100*heat, 100*r.cfg.MaxPortfolioHeat)
	}

	cashViolated := snap.Cash < -r.cfg.CashBufferPct*snap.Equity
	if cashViolated {
		pass.warnf("cash %.2f is negative beyond buffer", snap.Cash)
	}

	if r.liquidity != nil && (heatExceeded || cashViolated) {
		r.cfg.Logger.Warn(ctx, "Triggering liquidity manager from reconciliation", map[string]interface{}{
			"cash": snap.Cash,
			"heat": heat,
		})
		liqResult := r.liquidity.AssessAndLiquidate(ctx, snap.Cash, snap.Equity, 0, pass.now)
		if liqResult.Triggered && !liqResult.Resolved {
			pass.warnf("liquidation triggered but violations remain unresolved")
		}
	}
}

// validateOrders detects duplicate open orders (same symbol and side) and
// stale orders older than the configured threshold.
func (r *Reconciler) validateOrders(ctx context.Context, pass *run) {
	seen := make(map[string]string) // symbol+side -> first order ID
	for _, order := range pass.orders {
		key := order.Symbol + "/" + string(order.Side)
		if firstID, ok := seen[key]; ok {
			pass.warnf("duplicate open orders for %s %s (%s, %s)", order.Symbol, order.Side, firstID, order.ID)
		} else {
			seen[key] = order.ID
		}

		if age := pass.now.Sub(order.SubmittedAt); age > r.cfg.StaleOrderAge {
			pass.warnf("stale order %s for %s submitted %s ago", order.ID, order.Symbol, age.Round(time.Minute))
		}
	}
}

// validateLedger marks local positions absent from the broker as closed.
// The broker is the source of truth for what is actually held.
func (r *Reconciler) validateLedger(ctx context.Context, pass *run) {
	atBroker := make(map[string]bool, len(pass.brokerPositions))
	for _, bp := range pass.brokerPositions {
		atBroker[bp.Symbol] = true
	}

	for _, pos := range r.state.OpenPositions() {
		if atBroker[pos.Symbol] {
			continue
		}
		// OpenPositions lists one entry per lot; the close loop below
		// empties the whole symbol, so later lots of it are already gone.
		if !r.state.HasPosition(pos.Symbol) {
			continue
		}
		pass.warnf("ledger position %s not held at broker, marking closed", pos.Symbol)
		for r.state.HasPosition(pos.Symbol) {
			trade, err := r.state.CloseTrade(ctx, pos.Symbol, pass.now, pos.CurrentPrice)
			if err != nil {
				r.cfg.Logger.Error(ctx, err, "Failed to close orphaned ledger position", map[string]interface{}{
					"symbol": pos.Symbol,
				})
				break
			}
			trade.ExitType = domain.EmergencyExit
			if _, err := r.ledger.AddTrade(ctx, trade); err != nil {
				r.cfg.Logger.Error(ctx, err, "Failed to record orphaned position close", map[string]interface{}{
					"symbol": pos.Symbol,
				})
			}
		}
		delete(r.externals, pos.Symbol)
	}
}

// determineStatus applies the strict short-circuiting status hierarchy:
// any error wins, then account-level blocks, then any serious warning;
// external-position warnings gate at symbol granularity only and never
// demote an otherwise healthy account.
func (r *Reconciler) determineStatus(ctx context.Context, pass *run) *Result {
	result := &Result{
		Warnings:        append(append([]string{}, pass.seriousWarnings...), pass.externalWarnings...),
		Errors:          append([]string{}, pass.errors...),
		ExternalSymbols: r.externalSymbols(),
	}

	switch {
	case len(pass.errors) > 0:
		result.Status = domain.StatusFailed
		result.SafeMode = true
	case pass.snapshot != nil && (pass.snapshot.TradingBlocked || pass.snapshot.AccountBlocked):
		result.Status = domain.StatusExitOnly
		result.SafeMode = true
	case len(pass.seriousWarnings) > 0:
		result.Status = domain.StatusSafeMode
		result.SafeMode = true
	default:
		result.Status = domain.StatusReady
		result.SafeMode = false
	}

	r.cfg.Logger.Info(ctx, "Reconciliation complete", map[string]interface{}{
		"status":          result.Status,
		"safeMode":        result.SafeMode,
		"warnings":        len(result.Warnings),
		"errors":          len(result.Errors),
		"externalSymbols": result.ExternalSymbols,
	})
	return result
}

// externalSymbols returns the remembered external-symbol set, sorted.
func (r *Reconciler) externalSymbols() []string {
	out := make([]string, 0, len(r.externals))
	for symbol := range r.externals {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// IsExternal reports whether a symbol is blocked from duplicate buys because
// the broker holds it outside this system's ledger.
func (r *Reconciler) IsExternal(symbol string) bool {
	return r.externals[symbol]
}
