package liquidity

import (
	"sort"
	"time"

	"tradegovernor/internal/domain"
)

// Component weights of the liquidation priority score.
const (
	weightPNL        = 0.35
	weightStaleness  = 0.25
	weightConfidence = 0.25
	weightSize       = 0.15
)

// Anchor points for the linear component mappings.
const (
	pnlLockTarget   = 0.10 // At or above +10%: lock gains first (score 0)
	pnlLossFloor    = -0.10 // At or below -10%: avoid crystallizing big losses (score 100)
	maxStaleDays    = 20   // Holdings this old are expired: sell first (score 0)
	confidenceBase  = 1
	confidenceStep  = 25.0 // (confidence-1)*25 maps 1..5 onto 0..100
)

// ScorePositions scores every open lot 0-100 for liquidation priority and
// returns them ascending: the lowest score is the least-regret sale and
// sells first. Scores are recomputed fresh on every call; nothing here is
// persisted.
func ScorePositions(positions []*domain.OpenPosition, today time.Time) []domain.ScoredPosition {
	if len(positions) == 0 {
		return nil
	}

	// Size is normalized against the largest notional in the batch.
	maxNotional := 0.0
	for _, pos := range positions {
		if v := pos.MarketValue(); v > maxNotional {
			maxNotional = v
		}
	}

	scored := make([]domain.ScoredPosition, 0, len(positions))
	for _, pos := range positions {
		breakdown := domain.ScoreBreakdown{
			PNL:        pnlScore(pos.UnrealizedPNLPct()),
			Staleness:  stalenessScore(pos.HoldingDays(today)),
			Confidence: confidenceScore(pos.Confidence),
			Size:       sizeScore(pos.MarketValue(), maxNotional),
		}
		score := weightPNL*breakdown.PNL +
			weightStaleness*breakdown.Staleness +
			weightConfidence*breakdown.Confidence +
			weightSize*breakdown.Size

		scored = append(scored, domain.ScoredPosition{
			Symbol:    pos.Symbol,
			Score:     score,
			Breakdown: breakdown,
			Notional:  pos.MarketValue(),
			Position:  pos,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return scored[i].Symbol < scored[j].Symbol
	})
	return scored
}

// pnlScore maps unrealized return onto 0-100: profit-target reached sells
// first, deep losses are held to avoid crystallizing them.
func pnlScore(pnlPct float64) float64 {
	if pnlPct >= pnlLockTarget {
		return 0
	}
	if pnlPct <= pnlLossFloor {
		return 100
	}
	return (pnlLockTarget - pnlPct) / (pnlLockTarget - pnlLossFloor) * 100
}

// stalenessScore maps holding age onto 0-100: expired holdings sell first,
// fresh ones are kept.
func stalenessScore(holdingDays int) float64 {
	if holdingDays >= maxStaleDays {
		return 0
	}
	if holdingDays <= 0 {
		return 100
	}
	return (1 - float64(holdingDays)/float64(maxStaleDays)) * 100
}

// confidenceScore maps confidence 1..5 onto 0..100: low-confidence entries
// sell first.
func confidenceScore(confidence int) float64 {
	score := float64(confidence-confidenceBase) * confidenceStep
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// sizeScore maps notional onto 0-100 against the batch maximum: the largest
// position frees the most cash and sells first.
func sizeScore(notional, maxNotional float64) float64 {
	if maxNotional <= 0 {
		return 100
	}
	score := (1 - notional/maxNotional) * 100
	if score < 0 {
		return 0
	}
	return score
}
