package liquidity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegovernor/internal/adapters/paperbroker"
	"tradegovernor/internal/domain"
	"tradegovernor/internal/portfolio"
	"tradegovernor/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockLedger records trades in memory.
type mockLedger struct {
	trades []*domain.ClosedTrade
}

func (m *mockLedger) AddTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error) {
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockLedger) GetTradesForSymbol(ctx context.Context, symbol string) ([]*domain.ClosedTrade, error) {
	var out []*domain.ClosedTrade
	for _, tr := range m.trades {
		if tr.Symbol == symbol {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *mockLedger) GetAllTrades(ctx context.Context) ([]*domain.ClosedTrade, error) {
	return m.trades, nil
}

func (m *mockLedger) CountToday(ctx context.Context) (int, error) {
	return len(m.trades), nil
}

var _ ports.TradeLedger = (*mockLedger)(nil)

type fixture struct {
	mgr    *Manager
	state  *portfolio.State
	broker *paperbroker.Broker
	ledger *mockLedger
	store  *ReserveStore
}

func setupFixture(t *testing.T, cfg Config, equity float64) *fixture {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = &mockLogger{}
	}
	state, err := portfolio.New(portfolio.Config{InitialEquity: equity, Logger: &mockLogger{}})
	require.NoError(t, err)

	broker := paperbroker.New(equity, equity)
	ledger := &mockLedger{}
	store, err := NewReserveStore(filepath.Join(t.TempDir(), "reserve.json"), &mockLogger{})
	require.NoError(t, err)

	mgr, err := NewManager(cfg, state, broker, ledger, store)
	require.NoError(t, err)
	return &fixture{mgr: mgr, state: state, broker: broker, ledger: ledger, store: store}
}

// openHeld opens a lot entered before today so swing-mode liquidation may
// sell it, and mirrors it at the broker.
func (f *fixture) openHeld(ctx context.Context, symbol string, price, size, risk float64, confidence int, now time.Time) {
	f.state.OpenTrade(ctx, symbol, now.AddDate(0, 0, -5), price, size, risk, confidence)
	f.broker.SetPosition(ports.BrokerPosition{Symbol: symbol, Qty: size, AvgEntryPrice: price})
	f.broker.SetPrice(symbol, price)
}

func swingConfig() Config {
	return Config{
		Mode:              domain.ModeSwing,
		CashBufferPct:     0.01,
		MaxPortfolioHeat:  0.10,
		ReserveExpiryDays: 3,
		Logger:            &mockLogger{},
	}
}

func TestAssessAndLiquidate_NoViolation(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 10, 1000, 3, now)

	result := f.mgr.AssessAndLiquidate(ctx, 50000, 100000, 0, now)
	assert.False(t, result.Triggered)
	assert.Empty(t, result.Sales)
	assert.Equal(t, 1, f.state.PositionCount())
}

func TestAssessAndLiquidate_DayModeNoOp(t *testing.T) {
	ctx := context.Background()
	cfg := swingConfig()
	cfg.Mode = domain.ModeDay
	f := setupFixture(t, cfg, 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 10, 1000, 3, now)

	// Even with negative cash nothing is sold in day mode.
	result := f.mgr.AssessAndLiquidate(ctx, -50000, 100000, 0, now)
	assert.False(t, result.Triggered)
	assert.Empty(t, result.Sales)
	assert.Equal(t, 1, f.state.PositionCount())
}

func TestAssessAndLiquidate_NegativeCashInsideBufferTolerated(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 10, 1000, 3, now)

	// Buffer is 1% of equity = 1000; -500 stays inside it.
	result := f.mgr.AssessAndLiquidate(ctx, -500, 100000, 0, now)
	assert.False(t, result.Triggered)

	result = f.mgr.AssessAndLiquidate(ctx, -1500, 100000, 0, now)
	assert.True(t, result.Triggered)
	require.NotNil(t, result.Governing)
	assert.Equal(t, ViolationNegativeCash, result.Governing.Type)
}

func TestAssessAndLiquidate_SellsLowestScoreFirstAndStops(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()

	// MSFT scores lower than AAPL (deep loss, stale, low confidence) and
	// must sell first. Its proceeds alone clear the cash deficit, so AAPL
	// survives the pass.
	f.state.OpenTrade(ctx, "AAPL", now.AddDate(0, 0, -1), 100, 50, 1000, 5)
	f.broker.SetPosition(ports.BrokerPosition{Symbol: "AAPL", Qty: 50, AvgEntryPrice: 100})
	f.broker.SetPrice("AAPL", 112)
	f.state.UpdatePrice("AAPL", 112)

	f.state.OpenTrade(ctx, "MSFT", now.AddDate(0, 0, -25), 100, 50, 1000, 1)
	f.broker.SetPosition(ports.BrokerPosition{Symbol: "MSFT", Qty: 50, AvgEntryPrice: 100})
	f.broker.SetPrice("MSFT", 88)
	f.state.UpdatePrice("MSFT", 88)

	// Cash -2000 against a 1000 buffer; MSFT frees 50*88 = 4400.
	result := f.mgr.AssessAndLiquidate(ctx, -2000, 100000, 0, now)
	require.True(t, result.Triggered)
	require.Len(t, result.Sales, 1)
	assert.Equal(t, "MSFT", result.Sales[0].Symbol)
	assert.InDelta(t, 4400.0, result.Sales[0].Proceeds, 1e-9)
	assert.True(t, result.Resolved)
	assert.InDelta(t, 4400.0, result.CashFreed, 1e-9)

	assert.True(t, f.state.HasPosition("AAPL"))
	assert.False(t, f.state.HasPosition("MSFT"))

	// The forced exit lands in the ledger with the liquidity exit type.
	require.Len(t, f.ledger.trades, 1)
	assert.Equal(t, domain.LiquidityExit, f.ledger.trades[0].ExitType)
	assert.False(t, f.ledger.trades[0].Provisional)
}

func TestAssessAndLiquidate_SkipsSameDayEntries(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()

	// The only position was entered today; swing mode may not sell it.
	f.state.OpenTrade(ctx, "AAPL", now, 100, 10, 1000, 3)
	f.broker.SetPosition(ports.BrokerPosition{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 100})
	f.broker.SetPrice("AAPL", 100)

	result := f.mgr.AssessAndLiquidate(ctx, -5000, 100000, 0, now)
	assert.True(t, result.Triggered)
	assert.Empty(t, result.Sales)
	assert.False(t, result.Resolved)
	assert.True(t, f.state.HasPosition("AAPL"))
}

func TestAssessAndLiquidate_TargetCashViolation(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 50, 1000, 3, now)

	result := f.mgr.AssessAndLiquidate(ctx, 1000, 100000, 4000, now)
	require.True(t, result.Triggered)
	require.NotNil(t, result.Governing)
	assert.Equal(t, ViolationTargetCash, result.Governing.Type)
	require.Len(t, result.Sales, 1)
	assert.InDelta(t, 5000.0, result.Sales[0].Proceeds, 1e-9)
	assert.True(t, result.Resolved)
}

func TestAssessAndLiquidate_GoverningIsLargestDeficit(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 100, 1000, 3, now)

	// Cash -3000 (negative-cash deficit 3000) while also below a manual
	// target of 2000 (deficit 5000). The target-cash violation governs.
	result := f.mgr.AssessAndLiquidate(ctx, -3000, 100000, 2000, now)
	require.True(t, result.Triggered)
	assert.Len(t, result.Violations, 2)
	assert.Equal(t, ViolationTargetCash, result.Governing.Type)
	assert.InDelta(t, 5000.0, result.Governing.Deficit, 1e-9)
}

func TestAssessAndLiquidate_PendingFillIsProvisional(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 50, 1000, 3, now)
	f.openHeld(ctx, "MSFT", 100, 50, 1000, 5, now)
	// Push AAPL underwater so it scores below MSFT and sells first.
	f.state.UpdatePrice("AAPL", 90)
	f.broker.SetPrice("AAPL", 90)
	f.broker.PendingFills = true

	result := f.mgr.AssessAndLiquidate(ctx, -2000, 100000, 0, now)
	require.True(t, result.Triggered)
	require.Len(t, result.Sales, 1)
	assert.Equal(t, "AAPL", result.Sales[0].Symbol)
	assert.True(t, result.Sales[0].Provisional)

	// The unsettled proceeds stop the loop, so MSFT is not sold on top of
	// an order that may still fill.
	assert.True(t, f.state.HasPosition("MSFT"))

	// But they never count as confirmed freed cash: no reserve, and the
	// pass does not report the deficit as resolved.
	assert.Equal(t, 0.0, result.CashFreed)
	assert.Nil(t, result.Reserve)
	assert.False(t, result.Resolved)

	// The local lot is closed so the position cannot be sold twice.
	assert.False(t, f.state.HasPosition("AAPL"))
	require.Len(t, f.ledger.trades, 1)
	assert.True(t, f.ledger.trades[0].Provisional)
}

// panicBroker is the paper broker with a close path that panics, as a
// buggy adapter might.
type panicBroker struct {
	*paperbroker.Broker
}

func (b *panicBroker) ClosePosition(ctx context.Context, symbol string) (*ports.OrderResult, error) {
	panic("close order serialization failed")
}

func TestAssessAndLiquidate_BrokerPanicReturnsResult(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 50, 1000, 3, now)

	mgr, err := NewManager(swingConfig(), f.state, &panicBroker{Broker: f.broker}, f.ledger, f.store)
	require.NoError(t, err)

	result := mgr.AssessAndLiquidate(ctx, -2000, 100000, 0, now)
	require.NotNil(t, result)
	assert.True(t, result.Triggered)
	assert.False(t, result.Resolved)
	assert.True(t, f.state.HasPosition("AAPL"))
}

func TestAssessAndLiquidate_BrokerFailureRecorded(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 50, 1000, 3, now)
	f.broker.FailClose = ports.ErrBrokerUnavailable

	result := f.mgr.AssessAndLiquidate(ctx, -2000, 100000, 0, now)
	require.True(t, result.Triggered)
	require.Len(t, result.Sales, 1)
	assert.True(t, result.Sales[0].Failed)
	assert.NotEmpty(t, result.Sales[0].Error)
	assert.False(t, result.Resolved)
	assert.True(t, f.state.HasPosition("AAPL"))
}

func TestAssessAndLiquidate_SetsAndPersistsReserve(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	now := time.Now().UTC()
	f.openHeld(ctx, "AAPL", 100, 50, 1000, 3, now)

	result := f.mgr.AssessAndLiquidate(ctx, -2000, 100000, 0, now)
	require.NotNil(t, result.Reserve)
	assert.InDelta(t, 5000.0, result.Reserve.Amount, 1e-9)
	assert.Equal(t, domain.Day(now), result.Reserve.SetDate)
	assert.Equal(t, domain.Day(now).AddDate(0, 0, 3), result.Reserve.ExpiryDate)

	// The reserve is live in the portfolio ledger and on disk.
	require.NotNil(t, f.state.CashReserve(now))
	loaded, err := f.store.Load(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.InDelta(t, 5000.0, loaded.Amount, 1e-9)
}

func TestRestoreReserve(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, swingConfig(), 100000)
	day := domain.Day(time.Now().UTC())

	reserve := &domain.CashReserve{
		Amount:     3000,
		SetDate:    day,
		ExpiryDate: day.AddDate(0, 0, 3),
		Reason:     "test",
	}
	require.NoError(t, f.store.Save(ctx, reserve))

	require.NoError(t, f.mgr.RestoreReserve(ctx, day))
	got := f.state.CashReserve(day)
	require.NotNil(t, got)
	assert.InDelta(t, 3000.0, got.Amount, 1e-9)
}

func TestReserveStore_ExpiredReserveDeletedOnLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reserve.json")
	store, err := NewReserveStore(path, &mockLogger{})
	require.NoError(t, err)

	day := domain.Day(time.Now().UTC())
	require.NoError(t, store.Save(ctx, &domain.CashReserve{
		Amount:     3000,
		SetDate:    day.AddDate(0, 0, -10),
		ExpiryDate: day.AddDate(0, 0, -7),
	}))

	loaded, err := store.Load(ctx, day)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "expired reserve file should be removed")
}

func TestReserveStore_MissingFile(t *testing.T) {
	store, err := NewReserveStore(filepath.Join(t.TempDir(), "reserve.json"), &mockLogger{})
	require.NoError(t, err)

	loaded, err := store.Load(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
