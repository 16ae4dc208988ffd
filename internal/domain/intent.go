package domain

import "time"

// ExitIntent records a decision to exit a position, made after market close
// and executed only inside a bounded window the next trading day. At most
// one intent exists per symbol; a newer decision overwrites an older one.
type ExitIntent struct {
	Symbol       string          `json:"symbol"`
	State        ExitIntentState `json:"state"`
	DecisionTime time.Time       `json:"decision_timestamp"`
	DecisionDate time.Time       `json:"decision_date"`
	ExitType     ExitType        `json:"exit_type"`
	Reason       string          `json:"exit_reason"`
	EntryDate    time.Time       `json:"entry_date"`
	HoldingDays  int             `json:"holding_days"`
	Confidence   int             `json:"confidence"`
	Urgency      Urgency         `json:"urgency"`
}

// IsForced reports whether the intent demands an unconditional exit.
func (i *ExitIntent) IsForced() bool {
	return i.State == ForceExit || i.Urgency == UrgencyImmediate
}
