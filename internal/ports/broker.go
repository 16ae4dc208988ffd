package ports

import (
	"context"
	"strings"
	"time"

	"tradegovernor/internal/domain"
)

// AccountSnapshot is the broker's authoritative view of the account.
type AccountSnapshot struct {
	Status           string  // Account status (e.g., "ACTIVE")
	Equity           float64 // Total account equity
	Cash             float64 // Settled cash (can be negative on margin)
	BuyingPower      float64 // Available buying power
	Multiplier       int     // Margin multiplier (1 = cash account)
	TradingBlocked   bool    // Broker has blocked order submission
	AccountBlocked   bool    // Broker has blocked the account entirely
	PatternDayTrader bool    // PDT flag set by the broker
}

// BrokerPosition is an open position as reported by the broker.
type BrokerPosition struct {
	Symbol           string
	Qty              float64
	AvgEntryPrice    float64
	UnrealizedPNLPct float64
}

// BrokerOrder is an open (unfilled) order as reported by the broker.
type BrokerOrder struct {
	ID          string
	Symbol      string
	Side        domain.OrderSide
	Qty         float64
	Status      string
	SubmittedAt time.Time
}

// OrderResult holds the essential details returned after submitting an order.
type OrderResult struct {
	OrderID     string
	Status      string // Broker order status (e.g., "filled", "new", "pending_new")
	FilledQty   float64
	FilledPrice float64
	Side        domain.OrderSide
}

// IsFilled reports whether the order is confirmed fully filled.
func (r *OrderResult) IsFilled() bool {
	return strings.EqualFold(r.Status, "filled")
}

// IsPending reports whether the order was accepted but is not yet filled.
func (r *OrderResult) IsPending() bool {
	switch strings.ToLower(r.Status) {
	case "new", "pending_new", "accepted", "partially_filled":
		return true
	}
	return false
}

// MarketClock is the broker's view of the trading session.
type MarketClock struct {
	IsOpen    bool
	Timestamp time.Time
	NextOpen  time.Time
	NextClose time.Time
}

// Broker defines the capability interface the risk governor requires from a
// broker adapter. Differences between broker SDK shapes are resolved once,
// inside the adapter, never in reconciliation logic.
type Broker interface {
	// GetAccountSnapshot retrieves the authoritative account state.
	GetAccountSnapshot(ctx context.Context) (*AccountSnapshot, error)
	// GetOpenPositions retrieves all open positions held at the broker.
	GetOpenPositions(ctx context.Context) ([]BrokerPosition, error)
	// GetOpenOrders retrieves all open (unfilled) orders.
	GetOpenOrders(ctx context.Context) ([]BrokerOrder, error)
	// ClosePosition submits a market order closing the full position for symbol.
	ClosePosition(ctx context.Context, symbol string) (*OrderResult, error)
	// GetClock retrieves the current market session clock.
	GetClock(ctx context.Context) (*MarketClock, error)
}
