package domain

import "time"

// OpenPosition represents a single open lot held in the portfolio ledger.
// Multiple lots per symbol are legal and are closed oldest-first.
type OpenPosition struct {
	Symbol       string    // Trading symbol (e.g., "AAPL")
	EntryTime    time.Time // Timestamp when the lot was entered
	EntryPrice   float64   // Price at which the lot was entered
	Size         float64   // Number of shares/units
	RiskAmount   float64   // Dollars at stake for this lot
	Confidence   int       // Signal-quality score 1-5 attached at entry
	CurrentPrice float64   // Last known price, maintained via UpdatePrice
}

// UnrealizedPNL returns the mark-to-market profit for this lot.
func (p *OpenPosition) UnrealizedPNL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * p.Size
}

// UnrealizedPNLPct returns the mark-to-market return as a fraction of entry.
func (p *OpenPosition) UnrealizedPNLPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// MarketValue returns the current notional value of the lot.
func (p *OpenPosition) MarketValue() float64 {
	return p.CurrentPrice * p.Size
}

// HoldingDays returns the number of whole calendar days the lot has been open.
func (p *OpenPosition) HoldingDays(today time.Time) int {
	d := DaysBetween(p.EntryTime, today)
	if d < 0 {
		return 0
	}
	return d
}

// ClosedTrade is the permanent record of a closed lot, appended to the
// trade ledger when a position is closed.
type ClosedTrade struct {
	ID          int64     // Unique identifier (assigned by the ledger)
	Symbol      string    // Trading symbol
	EntryTime   time.Time // Timestamp when the lot was entered
	ExitTime    time.Time // Timestamp when the lot was closed
	EntryPrice  float64   // Entry price
	ExitPrice   float64   // Exit price
	Size        float64   // Number of shares/units
	PNL         float64   // Realized profit: (exit - entry) * size
	ReturnPct   float64   // Realized return as a fraction of entry
	Confidence  int       // Confidence carried from the open lot
	ExitType    ExitType  // Why the lot was closed
	Provisional bool      // True when the closing order was pending, not confirmed filled
}
