package portfolio

import (
	"context"
	"fmt"
	"time"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/ports"
)

// DailyStats holds the counters that reset on day rollover.
type DailyStats struct {
	Date         time.Time // Day the counters belong to (UTC midnight)
	PNL          float64   // Realized P&L closed today
	TradesOpened int
	TradesClosed int
	StartEquity  float64 // Equity at the start of the day
}

// State is the position ledger: the single mutable source of truth for open
// exposure. Risk and liquidity components read it and call its mutating
// methods; they never touch its internal maps directly. State performs no
// internal locking; the calling orchestrator serializes mutating calls.
type State struct {
	logger ports.Logger

	positions map[string]*positionQueue
	closed    []*domain.ClosedTrade

	currentEquity float64
	initialEquity float64

	daily             DailyStats
	consecutiveLosses int

	reserve *domain.CashReserve
}

// Config holds configuration for the portfolio state.
type Config struct {
	InitialEquity float64
	Logger        ports.Logger
}

// New creates an empty portfolio ledger.
func New(cfg Config) (*State, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for portfolio state")
	}
	if cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("initial equity must be positive, got %f", cfg.InitialEquity)
	}
	return &State{
		logger:        cfg.Logger,
		positions:     make(map[string]*positionQueue),
		closed:        make([]*domain.ClosedTrade, 0),
		currentEquity: cfg.InitialEquity,
		initialEquity: cfg.InitialEquity,
		daily: DailyStats{
			StartEquity: cfg.InitialEquity,
		},
	}, nil
}

// OpenTrade appends a new lot to the symbol's FIFO queue and increments the
// daily-opened counter. Approval is the risk manager's job; no rejection
// logic lives here.
func (s *State) OpenTrade(ctx context.Context, symbol string, at time.Time, price, size, riskAmount float64, confidence int) *domain.OpenPosition {
	pos := &domain.OpenPosition{
		Symbol:       symbol,
		EntryTime:    at,
		EntryPrice:   price,
		Size:         size,
		RiskAmount:   riskAmount,
		Confidence:   confidence,
		CurrentPrice: price,
	}

	q, ok := s.positions[symbol]
	if !ok {
		q = &positionQueue{}
		s.positions[symbol] = q
	}
	q.push(pos)
	s.daily.TradesOpened++

	s.logger.Debug(ctx, "Opened position lot", map[string]interface{}{
		"symbol":     symbol,
		"price":      price,
		"size":       size,
		"riskAmount": riskAmount,
		"confidence": confidence,
		"lots":       q.len(),
	})
	return pos
}

// CloseTrade pops the oldest lot for the symbol, realizes its P&L into
// equity and the daily counters, updates the consecutive-loss counter, and
// appends a closed-trade record. Returns ports.ErrNoOpenPosition when no lot
// exists for the symbol; callers must check, but this is not fatal.
func (s *State) CloseTrade(ctx context.Context, symbol string, at time.Time, price float64) (*domain.ClosedTrade, error) {
	q, ok := s.positions[symbol]
	if !ok || q.empty() {
		return nil, fmt.Errorf("close %s: %w", symbol, ports.ErrNoOpenPosition)
	}

	pos := q.popOldest()
	if q.empty() {
		delete(s.positions, symbol)
	}

	pnl := (price - pos.EntryPrice) * pos.Size
	returnPct := 0.0
	if pos.EntryPrice != 0 {
		returnPct = (price - pos.EntryPrice) / pos.EntryPrice
	}

	s.currentEquity += pnl
	s.daily.PNL += pnl
	s.daily.TradesClosed++

	if returnPct < 0 {
		s.consecutiveLosses++
	} else {
		s.consecutiveLosses = 0
	}

	trade := &domain.ClosedTrade{
		Symbol:     symbol,
		EntryTime:  pos.EntryTime,
		ExitTime:   at,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Size:       pos.Size,
		PNL:        pnl,
		ReturnPct:  returnPct,
		Confidence: pos.Confidence,
	}
	s.closed = append(s.closed, trade)

	s.logger.Debug(ctx, "Closed position lot", map[string]interface{}{
		"symbol":            symbol,
		"pnl":               pnl,
		"returnPct":         returnPct,
		"equity":            s.currentEquity,
		"consecutiveLosses": s.consecutiveLosses,
	})
	return trade, nil
}

// UpdatePrice sets the current price on every open lot of the symbol.
// This is the only mutation path for open lots.
func (s *State) UpdatePrice(symbol string, price float64) {
	if q, ok := s.positions[symbol]; ok {
		for _, pos := range q.lots {
			pos.CurrentPrice = price
		}
	}
}

// PortfolioHeat recomputes total risk at stake divided by current equity.
// Always derived from live data, never cached. Equity at or below zero
// returns full heat (1.0) rather than dividing by zero.
func (s *State) PortfolioHeat(currentPrices map[string]float64) float64 {
	for symbol, price := range currentPrices {
		s.UpdatePrice(symbol, price)
	}
	if s.currentEquity <= 0 {
		return 1.0
	}
	totalRisk := 0.0
	for _, q := range s.positions {
		for _, pos := range q.lots {
			totalRisk += pos.RiskAmount
		}
	}
	return totalRisk / s.currentEquity
}

// AvailableCapital returns equity minus the market value of all open lots
// minus any active cash reserve, floored at zero.
func (s *State) AvailableCapital(today time.Time) float64 {
	open := 0.0
	for _, q := range s.positions {
		for _, pos := range q.lots {
			open += pos.MarketValue()
		}
	}
	available := s.currentEquity - open
	if s.reserve.ActiveOn(today) {
		available -= s.reserve.Amount
	}
	if available < 0 {
		return 0
	}
	return available
}

// UpdateEquityAtDate performs the explicit day-rollover check. Daily
// counters reset exactly once when the evaluation date advances; the
// consecutive-loss counter survives rollover. An expired cash reserve is
// dropped here as well.
func (s *State) UpdateEquityAtDate(ctx context.Context, today time.Time) {
	day := domain.Day(today)
	if s.daily.Date.IsZero() {
		s.daily.Date = day
		s.daily.StartEquity = s.currentEquity
		return
	}
	if !day.After(s.daily.Date) {
		return
	}

	s.logger.Info(ctx, "Day rollover, resetting daily counters", map[string]interface{}{
		"previousDay": s.daily.Date.Format("2006-01-02"),
		"newDay":      day.Format("2006-01-02"),
		"dailyPNL":    s.daily.PNL,
	})
	s.daily = DailyStats{
		Date:        day,
		StartEquity: s.currentEquity,
	}

	if s.reserve.ExpiredOn(today) {
		s.logger.Info(ctx, "Cash reserve expired, releasing", map[string]interface{}{
			"amount": s.reserve.Amount,
			"expiry": s.reserve.ExpiryDate.Format("2006-01-02"),
		})
		s.reserve = nil
	}
}

// SymbolExposure returns the current market value of all open lots for the
// symbol, with prices refreshed from the supplied map when present.
func (s *State) SymbolExposure(symbol string, currentPrices map[string]float64) float64 {
	if price, ok := currentPrices[symbol]; ok {
		s.UpdatePrice(symbol, price)
	}
	q, ok := s.positions[symbol]
	if !ok {
		return 0
	}
	total := 0.0
	for _, pos := range q.lots {
		total += pos.MarketValue()
	}
	return total
}

// OpenPositions returns a flattened snapshot of every open lot, oldest lot
// first within each symbol.
func (s *State) OpenPositions() []*domain.OpenPosition {
	out := make([]*domain.OpenPosition, 0)
	for _, q := range s.positions {
		out = append(out, q.lots...)
	}
	return out
}

// PositionsFor returns the open lots for one symbol, oldest first.
func (s *State) PositionsFor(symbol string) []*domain.OpenPosition {
	q, ok := s.positions[symbol]
	if !ok {
		return nil
	}
	out := make([]*domain.OpenPosition, len(q.lots))
	copy(out, q.lots)
	return out
}

// HasPosition reports whether any open lot exists for the symbol.
func (s *State) HasPosition(symbol string) bool {
	q, ok := s.positions[symbol]
	return ok && !q.empty()
}

// PositionCount returns the total number of open lots across all symbols.
func (s *State) PositionCount() int {
	n := 0
	for _, q := range s.positions {
		n += q.len()
	}
	return n
}

// CurrentEquity returns the current account equity per the ledger.
func (s *State) CurrentEquity() float64 { return s.currentEquity }

// InitialEquity returns the equity the ledger started with.
func (s *State) InitialEquity() float64 { return s.initialEquity }

// SetEquity overwrites equity from an authoritative broker snapshot.
// Reconciliation is the only expected caller.
func (s *State) SetEquity(equity float64) { s.currentEquity = equity }

// ConsecutiveLosses returns the current run of losing closes.
func (s *State) ConsecutiveLosses() int { return s.consecutiveLosses }

// Daily returns a copy of the daily counters.
func (s *State) Daily() DailyStats { return s.daily }

// ClosedTrades returns the closed-trade history, oldest first.
func (s *State) ClosedTrades() []*domain.ClosedTrade {
	out := make([]*domain.ClosedTrade, len(s.closed))
	copy(out, s.closed)
	return out
}

// SetCashReserve installs (or replaces) the active cash reserve.
func (s *State) SetCashReserve(r *domain.CashReserve) { s.reserve = r }

// CashReserve returns the reserve if it is active on the given day, else nil.
func (s *State) CashReserve(today time.Time) *domain.CashReserve {
	if s.reserve.ActiveOn(today) {
		return s.reserve
	}
	return nil
}
