package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

var _ ports.Logger = (*mockLogger)(nil)

func defaultConfig() Config {
	return Config{
		MaxConsecutiveLosses: 3,
		DailyLossLimit:       0.03,
		MaxTradesPerDay:      5,
		RiskPerTrade:         0.02,
		MaxRiskPerSymbol:     0.20,
		MaxPortfolioHeat:     0.10,
		Logger:               &mockLogger{},
	}
}

func setupManager(t *testing.T, cfg Config, equity float64) (*Manager, *portfolio.State) {
	t.Helper()
	state, err := portfolio.New(portfolio.Config{InitialEquity: equity, Logger: &mockLogger{}})
	require.NoError(t, err)
	state.UpdateEquityAtDate(context.Background(), time.Now().UTC())
	mgr, err := NewManager(cfg, state)
	require.NoError(t, err)
	return mgr, state
}

func TestNewManager_Validation(t *testing.T) {
	state, err := portfolio.New(portfolio.Config{InitialEquity: 1000, Logger: &mockLogger{}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		state  *portfolio.State
	}{
		{name: "nil logger", mutate: func(c *Config) { c.Logger = nil }, state: state},
		{name: "nil state", mutate: func(c *Config) {}, state: nil},
		{name: "zero trade cap", mutate: func(c *Config) { c.MaxTradesPerDay = 0 }, state: state},
		{name: "zero heat limit", mutate: func(c *Config) { c.MaxPortfolioHeat = 0 }, state: state},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			_, err := NewManager(cfg, tt.state)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateTrade_ApprovedSizing(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t, defaultConfig(), 100000)

	// confidence 3 -> multiplier 1.0: risk = 100000 * 0.02 = 2000
	d := mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	require.True(t, d.Approved)
	assert.InDelta(t, 2000.0, d.RiskAmount, 1e-9)
	assert.InDelta(t, 20.0, d.PositionSize, 1e-9)
	assert.Equal(t, 3, d.Confidence)

	// confidence 5 -> multiplier 1.5
	d = mgr.EvaluateTrade(ctx, "AAPL", 100, 5, nil)
	require.True(t, d.Approved)
	assert.InDelta(t, 3000.0, d.RiskAmount, 1e-9)

	// confidence 1 -> multiplier 0.5
	d = mgr.EvaluateTrade(ctx, "AAPL", 100, 1, nil)
	require.True(t, d.Approved)
	assert.InDelta(t, 1000.0, d.RiskAmount, 1e-9)
}

func TestEvaluateTrade_ConfidenceClamped(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t, defaultConfig(), 100000)

	// Out-of-range confidence falls back to multiplier 1.0 rather than error.
	for _, confidence := range []int{0, 7, -2} {
		d := mgr.EvaluateTrade(ctx, "AAPL", 100, confidence, nil)
		require.True(t, d.Approved)
		assert.InDelta(t, 2000.0, d.RiskAmount, 1e-9)
	}
}

func TestEvaluateTrade_ConsecutiveLossKillSwitch(t *testing.T) {
	ctx := context.Background()
	mgr, state := setupManager(t, defaultConfig(), 100000)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		state.OpenTrade(ctx, "LOSS", now, 100, 1, 100, 3)
		_, err := state.CloseTrade(ctx, "LOSS", now, 90)
		require.NoError(t, err)
	}
	require.Equal(t, 3, state.ConsecutiveLosses())

	d := mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, CodeConsecutiveLosses, d.ReasonCode)
}

func TestEvaluateTrade_DailyLossLimit(t *testing.T) {
	ctx := context.Background()
	mgr, state := setupManager(t, defaultConfig(), 100000)
	now := time.Now().UTC()

	// One big loss of 3% of start-of-day equity trips the limit.
	state.OpenTrade(ctx, "BIG", now, 100, 30, 100, 3)
	_, err := state.CloseTrade(ctx, "BIG", now, 0)
	require.NoError(t, err)

	d := mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, CodeDailyLoss, d.ReasonCode)
}

func TestEvaluateTrade_DailyTradeCap(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.MaxTradesPerDay = 2
	mgr, state := setupManager(t, cfg, 100000)
	now := time.Now().UTC()

	state.OpenTrade(ctx, "A", now, 100, 1, 100, 3)
	state.OpenTrade(ctx, "B", now, 100, 1, 100, 3)

	d := mgr.EvaluateTrade(ctx, "C", 100, 3, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, CodeDailyTradeCap, d.ReasonCode)
}

func TestEvaluateTrade_InvalidEntryPrice(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t, defaultConfig(), 100000)

	for _, price := range []float64{0, -5} {
		d := mgr.EvaluateTrade(ctx, "AAPL", price, 3, nil)
		assert.False(t, d.Approved)
		assert.Equal(t, CodeInvalidEntryPrice, d.ReasonCode)
	}
}

func TestEvaluateTrade_SymbolExposureLimit(t *testing.T) {
	ctx := context.Background()
	mgr, state := setupManager(t, defaultConfig(), 100000)
	now := time.Now().UTC()

	// Existing AAPL market value 19000; the proposed 2000 pushes past 20%.
	state.OpenTrade(ctx, "AAPL", now, 100, 190, 500, 3)

	d := mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, CodeSymbolExposure, d.ReasonCode)

	// A different symbol is unaffected by AAPL's concentration.
	d = mgr.EvaluateTrade(ctx, "MSFT", 100, 3, nil)
	assert.True(t, d.Approved)
}

func TestEvaluateTrade_PortfolioHeatLimit(t *testing.T) {
	ctx := context.Background()
	mgr, state := setupManager(t, defaultConfig(), 100000)
	now := time.Now().UTC()

	// Current heat 9%; adding 2% would exceed the 10% cap.
	state.OpenTrade(ctx, "HOT", now, 100, 10, 9000, 3)

	d := mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, CodePortfolioHeat, d.ReasonCode)
}

func TestEvaluateTrade_CheckOrdering(t *testing.T) {
	ctx := context.Background()
	mgr, state := setupManager(t, defaultConfig(), 100000)
	now := time.Now().UTC()

	// Trip both the consecutive-loss kill-switch and the heat cap. The
	// kill-switch must be the reported rejection.
	state.OpenTrade(ctx, "HOT", now, 100, 10, 20000, 3)
	for i := 0; i < 3; i++ {
		state.OpenTrade(ctx, "LOSS", now, 100, 1, 100, 3)
		_, err := state.CloseTrade(ctx, "LOSS", now, 90)
		require.NoError(t, err)
	}

	d := mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	assert.False(t, d.Approved)
	assert.Equal(t, CodeConsecutiveLosses, d.ReasonCode)
}

func TestStats_RejectionBreakdown(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t, defaultConfig(), 100000)

	mgr.EvaluateTrade(ctx, "AAPL", 100, 3, nil)
	mgr.EvaluateTrade(ctx, "AAPL", 0, 3, nil)
	mgr.EvaluateTrade(ctx, "AAPL", -1, 3, nil)

	stats := mgr.Stats()
	assert.Equal(t, 3, stats.Evaluated)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 2, stats.Rejections[CodeInvalidEntryPrice])
	assert.InDelta(t, 1.0/3.0, stats.ApprovalRate(), 1e-9)
}
