package domain

// TradeDecision is the outcome of a risk evaluation for a proposed trade.
// It is a transient value object, produced by the risk manager and consumed
// by the execution layer; it is never persisted.
type TradeDecision struct {
	Approved     bool
	PositionSize float64 // Shares/units to buy when approved
	RiskAmount   float64 // Dollars at stake when approved
	Confidence   int     // Confidence the sizing was based on
	Reason       string  // Human-readable explanation
	ReasonCode   string  // Stable code for rejection accounting
}

// ScoreBreakdown holds the per-component sub-scores behind a liquidation
// priority score. Each component is on the 0-100 scale before weighting.
type ScoreBreakdown struct {
	PNL        float64
	Staleness  float64
	Confidence float64
	Size       float64
}

// ScoredPosition is an open position annotated with its liquidation priority.
// Lower scores sell first. Computed fresh on each liquidity pass and never
// persisted.
type ScoredPosition struct {
	Symbol    string
	Score     float64
	Breakdown ScoreBreakdown
	Notional  float64
	Position  *OpenPosition
}
