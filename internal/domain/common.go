package domain

import "time"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// StartupStatus is the global trading-permission status published by
// reconciliation. The execution layer gates all trading on it.
type StartupStatus string

const (
	// StatusReady allows new entries and exits.
	StatusReady StartupStatus = "READY"
	// StatusSafeMode blocks new entries; exits remain permitted.
	StatusSafeMode StartupStatus = "SAFE_MODE"
	// StatusExitOnly blocks new entries due to account-level flags.
	StatusExitOnly StartupStatus = "EXIT_ONLY"
	// StatusFailed blocks all trading.
	StatusFailed StartupStatus = "FAILED"
	// StatusUnknown is the zero value before any reconciliation has run.
	StatusUnknown StartupStatus = "UNKNOWN"
)

// AllowsEntries reports whether new positions may be opened under this status.
func (s StartupStatus) AllowsEntries() bool {
	return s == StatusReady
}

// AllowsExits reports whether positions may still be closed under this status.
func (s StartupStatus) AllowsExits() bool {
	switch s {
	case StatusReady, StatusSafeMode, StatusExitOnly:
		return true
	}
	return false
}

// ExitIntentState is the state of a pending two-phase exit decision.
type ExitIntentState string

const (
	ExitPlanned ExitIntentState = "EXIT_PLANNED"
	ForceExit   ExitIntentState = "FORCE_EXIT"
)

// ExitType classifies why a position is (or will be) closed.
type ExitType string

const (
	SwingExit     ExitType = "SWING_EXIT"
	EmergencyExit ExitType = "EMERGENCY_EXIT"
	LiquidityExit ExitType = "LIQUIDITY_EXIT"
)

// Urgency indicates how soon a planned exit must execute.
type Urgency string

const (
	UrgencyEOD       Urgency = "eod"
	UrgencyImmediate Urgency = "immediate"
)

// TradeMode distinguishes swing trading (positions held overnight) from
// day trading (all positions closed every session).
type TradeMode string

const (
	ModeSwing TradeMode = "swing"
	ModeDay   TradeMode = "day"
)

// Day truncates a timestamp to its UTC calendar day (midnight).
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// DaysBetween returns the number of whole calendar days from a to b.
// Negative if b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
