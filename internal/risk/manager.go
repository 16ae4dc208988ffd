package risk

import (
	"context"
	"fmt"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/portfolio"
	"tradegovernor/internal/ports"
)

// Rejection reason codes, stable for reporting and rejection breakdowns.
const (
	CodeConsecutiveLosses = "CONSECUTIVE_LOSS_LIMIT"
	CodeDailyLoss         = "DAILY_LOSS_LIMIT"
	CodeDailyTradeCap     = "DAILY_TRADE_LIMIT"
	CodeInvalidEntryPrice = "INVALID_ENTRY_PRICE"
	CodeSymbolExposure    = "SYMBOL_EXPOSURE_LIMIT"
	CodePortfolioHeat     = "PORTFOLIO_HEAT_LIMIT"
)

// confidenceMultipliers scales risk per trade by signal confidence 1-5.
// Out-of-range confidence is clamped to 1.0 with a warning, never an error.
var confidenceMultipliers = map[int]float64{
	1: 0.5,
	2: 0.75,
	3: 1.0,
	4: 1.25,
	5: 1.5,
}

// Config holds the risk limits applied to every proposed trade.
type Config struct {
	MaxConsecutiveLosses int
	DailyLossLimit       float64 // Fraction of start-of-day equity
	MaxTradesPerDay      int
	RiskPerTrade         float64 // Fraction of equity
	MaxRiskPerSymbol     float64 // Fraction of equity
	MaxPortfolioHeat     float64 // Fraction of equity
	Logger               ports.Logger
}

// Stats accumulates evaluation outcomes for approval-rate reporting.
type Stats struct {
	Evaluated  int
	Approved   int
	Rejections map[string]int // keyed by reason code
}

// ApprovalRate returns approved/evaluated, or 0 before any evaluation.
func (s Stats) ApprovalRate() float64 {
	if s.Evaluated == 0 {
		return 0
	}
	return float64(s.Approved) / float64(s.Evaluated)
}

// Manager is the trade approval gate. It only reads the portfolio ledger;
// the caller is responsible for calling OpenTrade after an approval.
type Manager struct {
	cfg   Config
	state *portfolio.State
	stats Stats
}

// NewManager creates a risk manager over the given portfolio ledger.
func NewManager(cfg Config, state *portfolio.State) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if state == nil {
		return nil, fmt.Errorf("portfolio state is required for risk manager")
	}
	if cfg.MaxConsecutiveLosses <= 0 || cfg.MaxTradesPerDay <= 0 {
		return nil, fmt.Errorf("loss and trade limits must be positive")
	}
	if cfg.DailyLossLimit <= 0 || cfg.RiskPerTrade <= 0 || cfg.MaxRiskPerSymbol <= 0 || cfg.MaxPortfolioHeat <= 0 {
		return nil, fmt.Errorf("fractional risk limits must be positive")
	}
	return &Manager{
		cfg:   cfg,
		state: state,
		stats: Stats{Rejections: make(map[string]int)},
	}, nil
}

// EvaluateTrade evaluates a proposed trade against the layered limit set.
// Checks run in strict order and the first failing check rejects and
// short-circuits, so kill-switches always win over position-specific limits.
func (m *Manager) EvaluateTrade(ctx context.Context, symbol string, entryPrice float64, confidence int, currentPrices map[string]float64) domain.TradeDecision {
	m.stats.Evaluated++

	// 1. Consecutive-loss kill-switch.
	if losses := m.state.ConsecutiveLosses(); losses >= m.cfg.MaxConsecutiveLosses {
		return m.reject(ctx, symbol, CodeConsecutiveLosses,
			fmt.Sprintf("%d consecutive losses reached limit %d", losses, m.cfg.MaxConsecutiveLosses))
	}

	// 2. Daily-loss kill-switch.
	daily := m.state.Daily()
	if daily.StartEquity > 0 && daily.PNL/daily.StartEquity <= -m.cfg.DailyLossLimit {
		return m.reject(ctx, symbol, CodeDailyLoss,
			fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%",
				-100*daily.PNL/daily.StartEquity, 100*m.cfg.DailyLossLimit))
	}

	// 3. Daily trade-count cap.
	if daily.TradesOpened >= m.cfg.MaxTradesPerDay {
		return m.reject(ctx, symbol, CodeDailyTradeCap,
			fmt.Sprintf("daily trade limit reached (%d/%d)", daily.TradesOpened, m.cfg.MaxTradesPerDay))
	}

	// 4. Position sizing.
	if entryPrice <= 0 {
		return m.reject(ctx, symbol, CodeInvalidEntryPrice,
			fmt.Sprintf("entry price must be positive, got %f", entryPrice))
	}
	multiplier, ok := confidenceMultipliers[confidence]
	if !ok {
		m.cfg.Logger.Warn(ctx, "Confidence out of range, clamping multiplier to 1.0", map[string]interface{}{
			"symbol":     symbol,
			"confidence": confidence,
		})
		multiplier = 1.0
	}
	equity := m.state.CurrentEquity()
	riskAmount := equity * m.cfg.RiskPerTrade * multiplier
	positionSize := riskAmount / entryPrice
	proposedValue := positionSize * entryPrice

	// 5. Per-symbol exposure cap.
	if equity > 0 {
		existing := m.state.SymbolExposure(symbol, currentPrices)
		if (existing+proposedValue)/equity > m.cfg.MaxRiskPerSymbol {
			return m.reject(ctx, symbol, CodeSymbolExposure,
				fmt.Sprintf("symbol exposure %.2f%% would exceed limit %.2f%%",
					100*(existing+proposedValue)/equity, 100*m.cfg.MaxRiskPerSymbol))
		}
	}

	// 6. Portfolio-heat cap.
	heat := m.state.PortfolioHeat(currentPrices)
	addedHeat := 0.0
	if equity > 0 {
		addedHeat = riskAmount / equity
	}
	if heat+addedHeat > m.cfg.MaxPortfolioHeat {
		return m.reject(ctx, symbol, CodePortfolioHeat,
			fmt.Sprintf("portfolio heat %.2f%% would exceed limit %.2f%%",
				100*(heat+addedHeat), 100*m.cfg.MaxPortfolioHeat))
	}

	m.stats.Approved++
	m.cfg.Logger.Debug(ctx, "Trade approved", map[string]interface{}{
		"symbol":       symbol,
		"positionSize": positionSize,
		"riskAmount":   riskAmount,
		"confidence":   confidence,
	})
	return domain.TradeDecision{
		Approved:     true,
		PositionSize: positionSize,
		RiskAmount:   riskAmount,
		Confidence:   confidence,
		Reason:       "approved",
	}
}

func (m *Manager) reject(ctx context.Context, symbol, code, reason string) domain.TradeDecision {
	m.stats.Rejections[code]++
	m.cfg.Logger.Info(ctx, "Trade rejected", map[string]interface{}{
		"symbol": symbol,
		"code":   code,
		"reason": reason,
	})
	return domain.TradeDecision{
		Approved:   false,
		Reason:     reason,
		ReasonCode: code,
	}
}

// Stats returns a copy of the accumulated evaluation statistics.
func (m *Manager) Stats() Stats {
	out := Stats{
		Evaluated:  m.stats.Evaluated,
		Approved:   m.stats.Approved,
		Rejections: make(map[string]int, len(m.stats.Rejections)),
	}
	for code, n := range m.stats.Rejections {
		out.Rejections[code] = n
	}
	return out
}
