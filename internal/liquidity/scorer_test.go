package liquidity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegovernor/internal/domain"
)

func TestScorePositions_HandComputedFixture(t *testing.T) {
	today := time.Date(2025, 6, 16, 15, 0, 0, 0, time.UTC)

	// AAPL: entered today, +12% unrealized, confidence 5, notional 5000.
	// Components: pnl 0 (profit target hit), staleness 100 (fresh),
	// confidence 100, size 0 (largest in batch).
	// Score = 0.35*0 + 0.25*100 + 0.25*100 + 0.15*0 = 50.
	aapl := &domain.OpenPosition{
		Symbol:       "AAPL",
		EntryTime:    today,
		EntryPrice:   100,
		Size:         5000.0 / 112.0,
		RiskAmount:   500,
		Confidence:   5,
		CurrentPrice: 112,
	}
	// MSFT: 25 days old, -12% unrealized, confidence 1, notional 2000.
	// Components: pnl 100 (deep loss), staleness 0 (expired), confidence 0,
	// size (1 - 2000/5000)*100 = 60.
	// Score = 0.35*100 + 0.25*0 + 0.25*0 + 0.15*60 = 44.
	msft := &domain.OpenPosition{
		Symbol:       "MSFT",
		EntryTime:    today.AddDate(0, 0, -25),
		EntryPrice:   100,
		Size:         2000.0 / 88.0,
		RiskAmount:   200,
		Confidence:   1,
		CurrentPrice: 88,
	}

	scored := ScorePositions([]*domain.OpenPosition{aapl, msft}, today)
	require.Len(t, scored, 2)

	// MSFT is the least-regret sale and comes first.
	assert.Equal(t, "MSFT", scored[0].Symbol)
	assert.InDelta(t, 44.0, scored[0].Score, 1e-9)
	assert.InDelta(t, 100.0, scored[0].Breakdown.PNL, 1e-9)
	assert.InDelta(t, 0.0, scored[0].Breakdown.Staleness, 1e-9)
	assert.InDelta(t, 0.0, scored[0].Breakdown.Confidence, 1e-9)
	assert.InDelta(t, 60.0, scored[0].Breakdown.Size, 1e-9)
	assert.InDelta(t, 2000.0, scored[0].Notional, 1e-9)

	assert.Equal(t, "AAPL", scored[1].Symbol)
	assert.InDelta(t, 50.0, scored[1].Score, 1e-9)
	assert.InDelta(t, 0.0, scored[1].Breakdown.PNL, 1e-9)
	assert.InDelta(t, 100.0, scored[1].Breakdown.Staleness, 1e-9)
	assert.InDelta(t, 100.0, scored[1].Breakdown.Confidence, 1e-9)
	assert.InDelta(t, 0.0, scored[1].Breakdown.Size, 1e-9)
}

func TestScorePositions_Empty(t *testing.T) {
	assert.Nil(t, ScorePositions(nil, time.Now().UTC()))
	assert.Nil(t, ScorePositions([]*domain.OpenPosition{}, time.Now().UTC()))
}

func TestScorePositions_TieBreakBySymbol(t *testing.T) {
	today := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	mk := func(symbol string) *domain.OpenPosition {
		return &domain.OpenPosition{
			Symbol:       symbol,
			EntryTime:    today.AddDate(0, 0, -5),
			EntryPrice:   100,
			Size:         10,
			Confidence:   3,
			CurrentPrice: 100,
		}
	}

	scored := ScorePositions([]*domain.OpenPosition{mk("ZZZ"), mk("AAA")}, today)
	require.Len(t, scored, 2)
	assert.Equal(t, scored[0].Score, scored[1].Score)
	assert.Equal(t, "AAA", scored[0].Symbol)
}

func TestPNLScore_LinearBand(t *testing.T) {
	tests := []struct {
		name   string
		pnlPct float64
		want   float64
	}{
		{name: "at profit target", pnlPct: 0.10, want: 0},
		{name: "above profit target", pnlPct: 0.25, want: 0},
		{name: "flat", pnlPct: 0.0, want: 50},
		{name: "at loss floor", pnlPct: -0.10, want: 100},
		{name: "below loss floor", pnlPct: -0.30, want: 100},
		{name: "mid band", pnlPct: 0.05, want: 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, pnlScore(tt.pnlPct), 1e-9)
		})
	}
}

func TestStalenessScore_Anchors(t *testing.T) {
	assert.InDelta(t, 100.0, stalenessScore(0), 1e-9)
	assert.InDelta(t, 50.0, stalenessScore(10), 1e-9)
	assert.InDelta(t, 0.0, stalenessScore(20), 1e-9)
	assert.InDelta(t, 0.0, stalenessScore(45), 1e-9)
}

func TestConfidenceScore_Clamped(t *testing.T) {
	assert.InDelta(t, 0.0, confidenceScore(1), 1e-9)
	assert.InDelta(t, 50.0, confidenceScore(3), 1e-9)
	assert.InDelta(t, 100.0, confidenceScore(5), 1e-9)
	// Out-of-range values clamp instead of escaping the 0-100 band.
	assert.InDelta(t, 0.0, confidenceScore(0), 1e-9)
	assert.InDelta(t, 100.0, confidenceScore(9), 1e-9)
}
