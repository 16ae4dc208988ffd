package ports

import (
	"context"

	"tradegovernor/internal/domain"
)

// TradeLedger defines the interface for the permanent record of closed trades.
// The liquidity manager records forced exits here and reconciliation checks
// it against the broker's view.
type TradeLedger interface {
	// AddTrade saves a new closed-trade record and returns its assigned ID.
	AddTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error)
	// GetTradesForSymbol retrieves all recorded trades for a symbol,
	// most recent first.
	GetTradesForSymbol(ctx context.Context, symbol string) ([]*domain.ClosedTrade, error)
	// GetAllTrades retrieves every recorded trade, most recent first.
	GetAllTrades(ctx context.Context) ([]*domain.ClosedTrade, error)
	// CountToday counts trades whose exit falls on the current day.
	CountToday(ctx context.Context) (int, error)
}
