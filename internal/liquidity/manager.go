package liquidity

import (
	"context"
	"fmt"
	"time"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/portfolio"
	"tradegovernor/internal/ports"
)

// ViolationType identifies a detected account-health violation.
type ViolationType string

const (
	ViolationTargetCash   ViolationType = "TARGET_CASH"
	ViolationNegativeCash ViolationType = "NEGATIVE_CASH"
	ViolationHeat         ViolationType = "HEAT_EXCEEDED"
)

// Violation is one detected account-health problem with its deficit in
// dollars. Deficits across violation types are never compared directly; the
// governing trigger is used only for reporting.
type Violation struct {
	Type    ViolationType
	Deficit float64
	Detail  string
}

// SaleRecord is the outcome of one liquidation sale attempt.
type SaleRecord struct {
	Symbol      string
	Score       float64
	Qty         float64
	Price       float64
	Proceeds    float64
	OrderID     string
	Provisional bool // Order accepted but not yet filled
	Failed      bool
	Error       string
}

// Result is the full account of one liquidation pass.
type Result struct {
	Triggered  bool
	Governing  *Violation  // Largest-deficit violation that triggered the pass
	Violations []Violation // Every violation detected at the start
	Sales      []SaleRecord
	CashFreed  float64 // Confirmed fills only
	Resolved   bool    // No violation remained when the loop stopped
	Reserve    *domain.CashReserve
}

// Config holds configuration for the liquidity manager.
type Config struct {
	Mode              domain.TradeMode
	CashBufferPct     float64 // Tolerated negative cash as a fraction of equity
	MaxPortfolioHeat  float64
	TargetCash        float64 // Manual cash floor; <= 0 disables
	ReserveExpiryDays int
	Logger            ports.Logger
}

// Manager restores account health by selling open positions, least-regret
// first, until no violation remains.
type Manager struct {
	cfg      Config
	state    *portfolio.State
	broker   ports.Broker
	ledger   ports.TradeLedger
	reserves *ReserveStore
}

// NewManager creates a liquidity manager.
func NewManager(cfg Config, state *portfolio.State, broker ports.Broker, ledger ports.TradeLedger, reserves *ReserveStore) (*Manager, error) {
	if cfg.Logger == nil || state == nil || broker == nil || ledger == nil || reserves == nil {
		return nil, fmt.Errorf("missing required dependencies for liquidity manager")
	}
	if cfg.ReserveExpiryDays <= 0 {
		cfg.ReserveExpiryDays = 3
	}
	return &Manager{cfg: cfg, state: state, broker: broker, ledger: ledger, reserves: reserves}, nil
}

// RestoreReserve reloads a persisted cash reserve into the portfolio ledger
// at startup. Expired reserves are deleted by the store.
func (m *Manager) RestoreReserve(ctx context.Context, today time.Time) error {
	reserve, err := m.reserves.Load(ctx, today)
	if err != nil {
		return err
	}
	if reserve != nil {
		m.state.SetCashReserve(reserve)
		m.cfg.Logger.Info(ctx, "Cash reserve restored from disk", map[string]interface{}{
			"amount": reserve.Amount,
			"expiry": reserve.ExpiryDate.Format("2006-01-02"),
		})
	}
	return nil
}

// AssessAndLiquidate detects account-health violations and, if any exist,
// sells positions lowest-score-first until a re-check against the running
// state shows no remaining violation. All errors inside the pass are
// converted into per-sale records; the pass itself never panics out and
// always returns a non-nil result.
func (m *Manager) AssessAndLiquidate(ctx context.Context, cash, equity, targetCash float64, now time.Time) (result *Result) {
	result = &Result{}

	defer func() {
		if r := recover(); r != nil {
			m.cfg.Logger.Error(ctx, fmt.Errorf("panic: %v", r), "Liquidation pass panicked")
			result.Resolved = false
		}
	}()

	// Day mode closes every position at end of session anyway; forced
	// liquidation would only duplicate those exits.
	if m.cfg.Mode == domain.ModeDay {
		m.cfg.Logger.Debug(ctx, "Liquidity check skipped in day mode")
		return result
	}
	if targetCash <= 0 {
		targetCash = m.cfg.TargetCash
	}

	heat := m.state.PortfolioHeat(nil)
	violations := m.detectViolations(cash, equity, heat, targetCash)
	result.Violations = violations
	if len(violations) == 0 {
		return result
	}

	// Every violation is logged, not just the governing one.
	governing := violations[0]
	for i, v := range violations {
		m.cfg.Logger.Warn(ctx, "Account-health violation detected", map[string]interface{}{
			"type":    v.Type,
			"deficit": v.Deficit,
			"detail":  v.Detail,
		})
		if v.Deficit > governing.Deficit {
			governing = violations[i]
		}
	}
	result.Triggered = true
	result.Governing = &governing

	scored := ScorePositions(m.state.OpenPositions(), now)
	// runningCash includes pending-fill proceeds and only decides when the
	// loop stops, so an unsettled order is not compounded by selling yet
	// another position. confirmedCash counts settled fills only and is what
	// Resolved is judged against.
	runningCash := cash
	confirmedCash := cash
	soldSymbols := make(map[string]bool)

	for _, sp := range scored {
		if soldSymbols[sp.Symbol] {
			continue
		}
		// Same-day entries cannot be sold again today in swing mode.
		if m.cfg.Mode == domain.ModeSwing && domain.SameDay(sp.Position.EntryTime, now) {
			m.cfg.Logger.Debug(ctx, "Skipping same-day entry in liquidation", map[string]interface{}{
				"symbol": sp.Symbol,
			})
			continue
		}

		// Re-detect against the running state before each sale so a sale
		// that already restored health stops the loop. A sale resolving one
		// violation type but not another keeps the loop selling.
		remaining := m.detectViolations(runningCash, m.state.CurrentEquity(), m.state.PortfolioHeat(nil), targetCash)
		if len(remaining) == 0 {
			break
		}

		sale := m.sellSymbol(ctx, sp, now)
		result.Sales = append(result.Sales, sale)
		if sale.Failed {
			continue
		}
		soldSymbols[sp.Symbol] = true
		runningCash += sale.Proceeds
		if !sale.Provisional {
			confirmedCash += sale.Proceeds
			result.CashFreed += sale.Proceeds
		}
	}

	remaining := m.detectViolations(confirmedCash, m.state.CurrentEquity(), m.state.PortfolioHeat(nil), targetCash)
	result.Resolved = len(remaining) == 0

	// Withhold the freed cash so it cannot be redeployed before the health
	// issue is confirmed resolved.
	if result.CashFreed > 0 {
		reserve := &domain.CashReserve{
			Amount:     result.CashFreed,
			SetDate:    domain.Day(now),
			ExpiryDate: domain.Day(now).AddDate(0, 0, m.cfg.ReserveExpiryDays),
			Reason:     fmt.Sprintf("liquidity exit after %s violation, freed %.2f", governing.Type, result.CashFreed),
		}
		m.state.SetCashReserve(reserve)
		if err := m.reserves.Save(ctx, reserve); err != nil {
			m.cfg.Logger.Error(ctx, err, "Failed to persist cash reserve after liquidation")
		}
		result.Reserve = reserve
	}

	m.cfg.Logger.Info(ctx, "Liquidation pass finished", map[string]interface{}{
		"governing": governing.Type,
		"sales":     len(result.Sales),
		"cashFreed": result.CashFreed,
		"resolved":  result.Resolved,
	})
	return result
}

// detectViolations checks every violation type independently against the
// given cash/equity/heat view and returns all of them.
func (m *Manager) detectViolations(cash, equity, heat, targetCash float64) []Violation {
	var out []Violation

	if targetCash > 0 && cash < targetCash {
		out = append(out, Violation{
			Type:    ViolationTargetCash,
			Deficit: targetCash - cash,
			Detail:  fmt.Sprintf("cash %.2f below manual target %.2f", cash, targetCash),
		})
	}

	// Negative cash is tolerated inside a small buffer to avoid churning on
	// rounding-level overdrafts.
	buffer := m.cfg.CashBufferPct * equity
	if cash < -buffer {
		out = append(out, Violation{
			Type:    ViolationNegativeCash,
			Deficit: -cash,
			Detail:  fmt.Sprintf("cash %.2f below buffer %.2f", cash, -buffer),
		})
	}

	if m.cfg.MaxPortfolioHeat > 0 && heat > m.cfg.MaxPortfolioHeat {
		out = append(out, Violation{
			Type:    ViolationHeat,
			Deficit: (heat - m.cfg.MaxPortfolioHeat) * equity,
			Detail:  fmt.Sprintf("heat %.2f%% above limit %.2f%%", 100*heat, 100*m.cfg.MaxPortfolioHeat),
		})
	}
	return out
}

// sellSymbol closes the symbol's full broker position, then closes every
// local lot for it, recording each in the trade ledger with a liquidity
// exit type. A pending (unfilled) order is recorded distinctly as
// provisional, never as a confirmed completion.
func (m *Manager) sellSymbol(ctx context.Context, sp domain.ScoredPosition, now time.Time) SaleRecord {
	sale := SaleRecord{
		Symbol: sp.Symbol,
		Score:  sp.Score,
	}

	order, err := m.broker.ClosePosition(ctx, sp.Symbol)
	if err != nil {
		m.cfg.Logger.Error(ctx, err, "Liquidation sale failed at broker", map[string]interface{}{
			"symbol": sp.Symbol,
		})
		sale.Failed = true
		sale.Error = err.Error()
		return sale
	}
	sale.OrderID = order.OrderID

	fillPrice := order.FilledPrice
	if fillPrice <= 0 {
		fillPrice = sp.Position.CurrentPrice
	}
	sale.Price = fillPrice

	switch {
	case order.IsFilled():
		m.cfg.Logger.Info(ctx, "Liquidation sale filled", map[string]interface{}{
			"symbol":  sp.Symbol,
			"orderID": order.OrderID,
			"price":   fillPrice,
		})
	case order.IsPending():
		// The cash is not settled yet; record provisionally so the
		// freed-cash accounting and resolution never treat it as settled.
		sale.Provisional = true
		m.cfg.Logger.Warn(ctx, "Liquidation order pending, recording provisional sale", map[string]interface{}{
			"symbol":  sp.Symbol,
			"orderID": order.OrderID,
			"status":  order.Status,
		})
	default:
		sale.Failed = true
		sale.Error = fmt.Sprintf("unexpected order status %q", order.Status)
		m.cfg.Logger.Error(ctx, fmt.Errorf("order status %q", order.Status), "Liquidation sale in unexpected state", map[string]interface{}{
			"symbol":  sp.Symbol,
			"orderID": order.OrderID,
		})
		return sale
	}

	// The broker closes the whole symbol position, so every local lot for
	// the symbol closes with it.
	for m.state.HasPosition(sp.Symbol) {
		trade, err := m.state.CloseTrade(ctx, sp.Symbol, now, fillPrice)
		if err != nil {
			m.cfg.Logger.Error(ctx, err, "Failed to close local lot after liquidation sale", map[string]interface{}{
				"symbol": sp.Symbol,
			})
			break
		}
		sale.Qty += trade.Size
		sale.Proceeds += trade.Size * fillPrice

		trade.ExitType = domain.LiquidityExit
		trade.Provisional = sale.Provisional
		if _, err := m.ledger.AddTrade(ctx, trade); err != nil {
			m.cfg.Logger.Error(ctx, err, "Failed to record liquidation exit in trade ledger", map[string]interface{}{
				"symbol": sp.Symbol,
			})
		}
	}
	return sale
}
