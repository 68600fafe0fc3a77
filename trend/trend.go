package trend

import (
	"math"

	"perp-pilot/config"
	"perp-pilot/indicators"
	"perp-pilot/logging"
	"perp-pilot/models"
)

// Point budgets for the per-timeframe sub-scores. Stack + price + structure
// sum to 100; the conviction bonus is clamped so the total stays in range.
const (
	stackBudget     = 40.0
	priceBudget     = 30.0
	structureBudget = 30.0
	convictionCap   = 10.0
)

// Engine scores directional conviction per timeframe and combines the
// configured timeframes into one agreement-gated verdict.
type Engine struct {
	cfg    config.TrendConfig
	logger logging.LoggerInterface
}

// NewEngine creates a trend engine.
func NewEngine(cfg config.TrendConfig, logger logging.LoggerInterface) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// ScoreTimeframe computes the directional score for one timeframe's candle
// window, roughly in [-100, 100]. Returns false when the window is too short
// for any required indicator.
func (e *Engine) ScoreTimeframe(candles []models.Candle) (float64, bool) {
	closes := models.Closes(candles)

	emaFast, okFast := indicators.EMA(closes, e.cfg.EMAFast)
	emaMid, okMid := indicators.EMA(closes, e.cfg.EMAMid)
	emaSlow, okSlow := indicators.EMA(closes, e.cfg.EMASlow)
	if !okFast || !okMid || !okSlow {
		return 0, false
	}
	price := closes[len(closes)-1]

	score := stackScore(emaFast, emaMid, emaSlow)
	score += priceScore(price, emaFast, emaMid, emaSlow)

	bullish, okBull := indicators.IsBullishStructure(candles, e.cfg.StructureLookback)
	bearish, okBear := indicators.IsBearishStructure(candles, e.cfg.StructureLookback)
	if !okBull || !okBear {
		return 0, false
	}
	if bullish {
		score += structureBudget
	} else if bearish {
		score -= structureBudget
	}

	// Distance from the mid EMA as a conviction bonus in the direction the
	// price already leans, capped so the bonus cannot dominate.
	if emaMid > 0 {
		distPct := (price - emaMid) / emaMid * 100
		bonus := math.Max(-convictionCap, math.Min(convictionCap, distPct*2))
		score += bonus
	}

	return math.Max(-100, math.Min(100, score)), true
}

// Evaluate combines the configured timeframes into one verdict. A direction
// is only allowed when every timeframe individually agrees on sign and the
// weighted magnitude clears the strong-trend threshold; any disagreement or
// missing window forces NONE.
func (e *Engine) Evaluate(byTimeframe map[string][]models.Candle) models.TrendVerdict {
	verdict := models.TrendVerdict{
		Allowed:      models.NoTrade,
		PerTimeframe: make(map[string]float64, len(e.cfg.Timeframes)),
	}

	var weightedSum, weightTotal float64
	positive, negative := 0, 0
	for i, tf := range e.cfg.Timeframes {
		candles, ok := byTimeframe[tf]
		if !ok {
			e.logger.Debug("trend: timeframe %s missing, verdict NONE", tf)
			return verdict
		}
		score, ok := e.ScoreTimeframe(candles)
		if !ok {
			e.logger.Debug("trend: timeframe %s has insufficient history, verdict NONE", tf)
			return verdict
		}
		verdict.PerTimeframe[tf] = score
		weightedSum += score * e.cfg.Weights[i]
		weightTotal += e.cfg.Weights[i]
		switch {
		case score > 0:
			positive++
		case score < 0:
			negative++
		}
	}

	verdict.Score = weightedSum / weightTotal

	// The agreement gate: one dissenting timeframe blocks trading even when
	// the weighted average looks strong.
	allLong := positive == len(e.cfg.Timeframes)
	allShort := negative == len(e.cfg.Timeframes)
	switch {
	case allLong && verdict.Score >= e.cfg.StrongThreshold:
		verdict.Allowed = models.LongOnly
	case allShort && verdict.Score <= -e.cfg.StrongThreshold:
		verdict.Allowed = models.ShortOnly
	}
	return verdict
}

// stackScore awards the full stacking budget when the EMAs are fully ordered
// fast > mid > slow (or inverted), half when only partially ordered.
func stackScore(fast, mid, slow float64) float64 {
	switch {
	case fast > mid && mid > slow:
		return stackBudget
	case fast < mid && mid < slow:
		return -stackBudget
	case fast > mid || mid > slow:
		return stackBudget / 2
	default:
		return -stackBudget / 2
	}
}

// priceScore splits the price-position budget evenly across the three EMAs.
func priceScore(price, fast, mid, slow float64) float64 {
	per := priceBudget / 3
	var score float64
	for _, ema := range []float64{fast, mid, slow} {
		if price > ema {
			score += per
		} else if price < ema {
			score -= per
		}
	}
	return score
}
