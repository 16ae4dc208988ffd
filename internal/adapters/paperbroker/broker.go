package paperbroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/ports"
)

// Broker is a deterministic in-memory implementation of ports.Broker used
// for tests and paper-trading wiring. All state is settable.
type Broker struct {
	mu sync.Mutex

	snapshot  ports.AccountSnapshot
	positions map[string]ports.BrokerPosition
	orders    []ports.BrokerOrder
	prices    map[string]float64
	clock     ports.MarketClock

	// PendingFills makes ClosePosition return accepted-but-unfilled orders.
	PendingFills bool

	// Injectable failures, checked before each corresponding call.
	FailSnapshot  error
	FailPositions error
	FailOrders    error
	FailClose     error
	FailClock     error
}

// New creates a paper broker with an active, unblocked account.
func New(equity, cash float64) *Broker {
	return &Broker{
		snapshot: ports.AccountSnapshot{
			Status:      "ACTIVE",
			Equity:      equity,
			Cash:        cash,
			BuyingPower: cash,
			Multiplier:  1,
		},
		positions: make(map[string]ports.BrokerPosition),
		prices:    make(map[string]float64),
		clock: ports.MarketClock{
			IsOpen:    true,
			Timestamp: time.Now().UTC(),
		},
	}
}

// SetSnapshot replaces the account snapshot.
func (b *Broker) SetSnapshot(snap ports.AccountSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = snap
}

// SetPosition installs (or replaces) a broker-held position.
func (b *Broker) SetPosition(pos ports.BrokerPosition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.Symbol] = pos
}

// RemovePosition deletes a broker-held position.
func (b *Broker) RemovePosition(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, symbol)
}

// SetOrders replaces the open-order list.
func (b *Broker) SetOrders(orders []ports.BrokerOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = orders
}

// SetPrice sets the fill price used when closing a symbol.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetClock replaces the market clock.
func (b *Broker) SetClock(clock ports.MarketClock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// GetAccountSnapshot returns the configured account snapshot.
func (b *Broker) GetAccountSnapshot(ctx context.Context) (*ports.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSnapshot != nil {
		return nil, b.FailSnapshot
	}
	snap := b.snapshot
	return &snap, nil
}

// GetOpenPositions returns all configured positions.
func (b *Broker) GetOpenPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPositions != nil {
		return nil, b.FailPositions
	}
	out := make([]ports.BrokerPosition, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out, nil
}

// GetOpenOrders returns the configured open orders.
func (b *Broker) GetOpenOrders(ctx context.Context) ([]ports.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailOrders != nil {
		return nil, b.FailOrders
	}
	out := make([]ports.BrokerOrder, len(b.orders))
	copy(out, b.orders)
	return out, nil
}

// ClosePosition fills (or pends) a market order closing the full position.
func (b *Broker) ClosePosition(ctx context.Context, symbol string) (*ports.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailClose != nil {
		return nil, b.FailClose
	}

	pos, ok := b.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("close %s: %w", symbol, ports.ErrPositionNotFound)
	}

	price, ok := b.prices[symbol]
	if !ok {
		price = pos.AvgEntryPrice * (1 + pos.UnrealizedPNLPct)
	}

	result := &ports.OrderResult{
		OrderID: uuid.NewString(),
		Side:    domain.Sell,
	}
	if b.PendingFills {
		result.Status = "pending_new"
		return result, nil
	}

	delete(b.positions, symbol)
	b.snapshot.Cash += pos.Qty * price

	result.Status = "filled"
	result.FilledQty = pos.Qty
	result.FilledPrice = price
	return result, nil
}

// GetClock returns the configured market clock.
func (b *Broker) GetClock(ctx context.Context) (*ports.MarketClock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailClock != nil {
		return nil, b.FailClock
	}
	clock := b.clock
	return &clock, nil
}

var _ ports.Broker = (*Broker)(nil)
