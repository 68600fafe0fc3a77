package signal

import (
	"fmt"
	"math"
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

// Context carries everything a strategy variant needs besides the entry
// timeframe candles.
type Context struct {
	Symbol      string
	Verdict     models.TrendVerdict
	FundingRate float64
	Now         time.Time
}

// variant is one pure entry strategy: candles in, signal or nil out. The
// near-duplicate momentum/breakout/volume bots collapse into these.
type variant func(g *Generator, candles []models.Candle, ctx Context) *models.Signal

// Generator finds concrete, timed entries on the fastest timeframe once the
// trend engine has allowed a direction.
type Generator struct {
	cfg    config.SignalConfig
	logger logging.LoggerInterface

	variants map[models.Strategy]variant
	order    []models.Strategy
}

// NewGenerator creates a signal generator with all strategy variants enabled.
func NewGenerator(cfg config.SignalConfig, logger logging.LoggerInterface) *Generator {
	g := &Generator{cfg: cfg, logger: logger}
	g.variants = map[models.Strategy]variant{
		models.StrategyPullback:    (*Generator).pullback,
		models.StrategyMomentum:    (*Generator).momentum,
		models.StrategyBreakout:    (*Generator).breakout,
		models.StrategyVolumeSpike: (*Generator).volumeSpike,
	}
	g.order = []models.Strategy{
		models.StrategyPullback,
		models.StrategyMomentum,
		models.StrategyBreakout,
		models.StrategyVolumeSpike,
	}
	return g
}

// Evaluate dispatches the strategy variants and returns the best entry that
// clears the configured confidence floor, or nil when no variant qualifies.
// Only called when the trend verdict is not NONE.
func (g *Generator) Evaluate(candles []models.Candle, ctx Context) *models.Signal {
	if ctx.Verdict.Allowed == models.NoTrade {
		return nil
	}

	var best *models.Signal
	for _, name := range g.order {
		s := g.variants[name](g, candles, ctx)
		if s == nil {
			continue
		}
		if best == nil || s.Confidence > best.Confidence {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	if best.Confidence < g.cfg.MinConfidence {
		g.logger.Debug("signal: best candidate %s confidence %.0f below floor %.0f",
			best.Strategy, best.Confidence, g.cfg.MinConfidence)
		return nil
	}
	return best
}

// allowedSide maps the verdict to the trade side.
func allowedSide(v models.TrendVerdict) models.Side {
	if v.Allowed == models.ShortOnly {
		return models.Short
	}
	return models.Long
}

// finish fills in the price levels common to every variant and clamps
// confidence into [0, 100].
func (g *Generator) finish(s *models.Signal, entry float64) *models.Signal {
	s.EntryPrice = entry
	if s.Side == models.Long {
		s.StopLoss = entry * (1 - g.cfg.StopLossPct)
		s.TakeProfit = entry * (1 + g.cfg.TakeProfitPct)
	} else {
		s.StopLoss = entry * (1 + g.cfg.StopLossPct)
		s.TakeProfit = entry * (1 - g.cfg.TakeProfitPct)
	}
	s.Confidence = math.Max(0, math.Min(100, s.Confidence))
	return s
}

// fundingAdjust converts the funding rate into a signed confidence increment:
// funding that pays the position's side over the expected hold adds points,
// funding that costs it subtracts them. Capped at +-10.
func (g *Generator) fundingAdjust(s *models.Signal, funding float64) {
	if funding == 0 {
		return
	}
	// Positive funding flows from longs to shorts.
	edgeBp := funding * 10000
	if s.Side == models.Long {
		edgeBp = -edgeBp
	}
	pts := math.Max(-10, math.Min(10, edgeBp*g.cfg.FundingWeight))
	if pts == 0 {
		return
	}
	s.Confidence += pts
	if pts > 0 {
		s.Reasons = append(s.Reasons, fmt.Sprintf("funding pays %s (%.4f%%): +%.1f", s.Side, funding*100, pts))
	} else {
		s.Reasons = append(s.Reasons, fmt.Sprintf("funding costs %s (%.4f%%): %.1f", s.Side, funding*100, pts))
	}
}

// trendBase converts the combined trend score into the variant's starting
// confidence, capped at 25 points.
func trendBase(score float64) float64 {
	return math.Min(math.Abs(score)/4, 25)
}

// candlesInFavor reports whether the last two candles closed in the trade's
// direction.
func candlesInFavor(candles []models.Candle, side models.Side) bool {
	if len(candles) < 2 {
		return false
	}
	a := candles[len(candles)-2]
	b := candles[len(candles)-1]
	if side == models.Long {
		return a.Close > a.Open && b.Close > b.Open
	}
	return a.Close < a.Open && b.Close < b.Open
}
