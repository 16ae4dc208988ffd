package domain

import "time"

// CashReserve is a time-boxed withholding of freshly-freed capital set after
// a forced liquidation. While active it reduces available capital, preventing
// the freed cash from being immediately redeployed into a new position.
type CashReserve struct {
	Amount     float64   `json:"amount"`
	SetDate    time.Time `json:"set_date"`
	ExpiryDate time.Time `json:"expiry_date"`
	Reason     string    `json:"reason"`
}

// ActiveOn reports whether the reserve still applies on the given day.
// The reserve holds through its expiry day inclusive.
func (r *CashReserve) ActiveOn(today time.Time) bool {
	if r == nil || r.Amount <= 0 {
		return false
	}
	return !Day(today).After(Day(r.ExpiryDate))
}

// ExpiredOn reports whether the reserve has lapsed by the given day.
func (r *CashReserve) ExpiredOn(today time.Time) bool {
	return r != nil && Day(today).After(Day(r.ExpiryDate))
}
