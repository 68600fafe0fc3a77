package signal

import (
	"fmt"
	"math"

	"perp-pilot/indicators"
	"perp-pilot/models"
)

// pullback is the primary variant: enter with the larger trend on a retrace
// toward the entry-timeframe slow EMA, never chasing an extended move.
func (g *Generator) pullback(candles []models.Candle, ctx Context) *models.Signal {
	side := allowedSide(ctx.Verdict)
	closes := models.Closes(candles)

	emaFast, okFast := indicators.EMA(closes, g.cfg.EMAFast)
	emaSlow, okSlow := indicators.EMA(closes, g.cfg.EMASlow)
	if !okFast || !okSlow {
		return nil
	}
	price := closes[len(closes)-1]

	// Local alignment with the larger trend.
	if side == models.Long && emaFast <= emaSlow {
		return nil
	}
	if side == models.Short && emaFast >= emaSlow {
		return nil
	}

	s := &models.Signal{
		Strategy:    models.StrategyPullback,
		Side:        side,
		Confidence:  trendBase(ctx.Verdict.Score),
		TrendScore:  ctx.Verdict.Score,
		FundingRate: ctx.FundingRate,
		Time:        ctx.Now,
		Reasons: []string{
			fmt.Sprintf("trend score %.1f allows %s: +%.1f", ctx.Verdict.Score, side, trendBase(ctx.Verdict.Score)),
			fmt.Sprintf("EMA%d/%d aligned %s", g.cfg.EMAFast, g.cfg.EMASlow, side),
		},
	}

	// Distance-to-slow-EMA bands: closer means a better entry; beyond the
	// outer band the move is too extended to join safely.
	distPct := math.Abs(price-emaSlow) / emaSlow * 100
	switch {
	case distPct <= g.cfg.PullbackInnerPct:
		s.Confidence += 25
		s.Reasons = append(s.Reasons, fmt.Sprintf("pullback to EMA%d (%.2f%% away): +25", g.cfg.EMASlow, distPct))
	case distPct <= g.cfg.PullbackOuterPct/2:
		s.Confidence += 15
		s.Reasons = append(s.Reasons, fmt.Sprintf("near EMA%d (%.2f%% away): +15", g.cfg.EMASlow, distPct))
	case distPct <= g.cfg.PullbackOuterPct:
		s.Confidence += 10
		s.Reasons = append(s.Reasons, fmt.Sprintf("within outer band (%.2f%% away): +10", distPct))
	default:
		g.logger.Debug("signal: price %.2f%% from EMA%d, too extended", distPct, g.cfg.EMASlow)
		return nil
	}

	rsi, okRSI := indicators.RSI(closes, g.cfg.RSIPeriod)
	if !okRSI {
		return nil
	}
	// Exhaustion veto: never buy into an overbought market or short into an
	// oversold one.
	if side == models.Long && rsi >= g.cfg.RSIExhausted {
		return nil
	}
	if side == models.Short && rsi <= 100-g.cfg.RSIExhausted {
		return nil
	}
	if inPullbackZone(rsi, side, g.cfg.RSIPullbackLow, g.cfg.RSIPullbackHigh) {
		s.Confidence += 20
		s.Reasons = append(s.Reasons, fmt.Sprintf("RSI %.1f in pullback zone: +20", rsi))
	}

	if ratio, ok := indicators.VolumeRatio(candles, g.cfg.VolumeLookback); ok && ratio >= 1.0 {
		pts := 10.0
		if ratio >= g.cfg.VolumeSurge {
			pts = 15
		}
		s.Confidence += pts
		s.Reasons = append(s.Reasons, fmt.Sprintf("volume %.2fx average: +%.0f", ratio, pts))
	}

	if candlesInFavor(candles, side) {
		s.Confidence += 10
		s.Reasons = append(s.Reasons, "last two candles confirm: +10")
	}

	g.fundingAdjust(s, ctx.FundingRate)
	return g.finish(s, price)
}

// momentum enters on a fresh fast/slow EMA cross in the trend's direction
// backed by above-average volume.
func (g *Generator) momentum(candles []models.Candle, ctx Context) *models.Signal {
	side := allowedSide(ctx.Verdict)
	closes := models.Closes(candles)
	if len(closes) < 2 {
		return nil
	}

	emaFast, okFast := indicators.EMA(closes, g.cfg.EMAFast)
	emaSlow, okSlow := indicators.EMA(closes, g.cfg.EMASlow)
	prevFast, okPrevFast := indicators.EMA(closes[:len(closes)-1], g.cfg.EMAFast)
	prevSlow, okPrevSlow := indicators.EMA(closes[:len(closes)-1], g.cfg.EMASlow)
	if !okFast || !okSlow || !okPrevFast || !okPrevSlow {
		return nil
	}

	crossedUp := prevFast <= prevSlow && emaFast > emaSlow
	crossedDown := prevFast >= prevSlow && emaFast < emaSlow
	if side == models.Long && !crossedUp {
		return nil
	}
	if side == models.Short && !crossedDown {
		return nil
	}

	price := closes[len(closes)-1]
	s := &models.Signal{
		Strategy:    models.StrategyMomentum,
		Side:        side,
		Confidence:  trendBase(ctx.Verdict.Score) + 30,
		TrendScore:  ctx.Verdict.Score,
		FundingRate: ctx.FundingRate,
		Time:        ctx.Now,
		Reasons: []string{
			fmt.Sprintf("trend score %.1f allows %s: +%.1f", ctx.Verdict.Score, side, trendBase(ctx.Verdict.Score)),
			fmt.Sprintf("fresh EMA%d/%d cross %s: +30", g.cfg.EMAFast, g.cfg.EMASlow, side),
		},
	}

	ratio, ok := indicators.VolumeRatio(candles, g.cfg.VolumeLookback)
	if !ok || ratio < 1.0 {
		// A cross on thin volume is noise, not momentum.
		return nil
	}
	pts := math.Min(20, ratio*10)
	s.Confidence += pts
	s.Reasons = append(s.Reasons, fmt.Sprintf("volume %.2fx average: +%.0f", ratio, pts))

	if candlesInFavor(candles, side) {
		s.Confidence += 10
		s.Reasons = append(s.Reasons, "last two candles confirm: +10")
	}

	g.fundingAdjust(s, ctx.FundingRate)
	return g.finish(s, price)
}

// breakout enters when the close clears the extreme of the preceding range
// on surging volume.
func (g *Generator) breakout(candles []models.Candle, ctx Context) *models.Signal {
	side := allowedSide(ctx.Verdict)
	lookback := g.cfg.BreakoutLookback
	if len(candles) < lookback+1 {
		return nil
	}

	window := candles[len(candles)-1-lookback : len(candles)-1]
	price := candles[len(candles)-1].Close

	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	for i, c := range window {
		highs[i] = c.High
		lows[i] = c.Low
	}

	broke := false
	switch side {
	case models.Long:
		broke = price > indicators.MaxSlice(highs)
	case models.Short:
		broke = price < indicators.MinSlice(lows)
	}
	if !broke {
		return nil
	}

	ratio, ok := indicators.VolumeRatio(candles, g.cfg.VolumeLookback)
	if !ok || ratio < g.cfg.VolumeSurge {
		// Range breaks without volume behind them tend to be traps.
		return nil
	}

	s := &models.Signal{
		Strategy:    models.StrategyBreakout,
		Side:        side,
		Confidence:  trendBase(ctx.Verdict.Score) + 35,
		TrendScore:  ctx.Verdict.Score,
		FundingRate: ctx.FundingRate,
		Time:        ctx.Now,
		Reasons: []string{
			fmt.Sprintf("trend score %.1f allows %s: +%.1f", ctx.Verdict.Score, side, trendBase(ctx.Verdict.Score)),
			fmt.Sprintf("close broke %d-bar range %s: +35", lookback, side),
			fmt.Sprintf("volume %.2fx average confirms break", ratio),
		},
	}
	s.Confidence += math.Min(15, ratio*5)

	g.fundingAdjust(s, ctx.FundingRate)
	return g.finish(s, price)
}

// volumeSpike enters on an outsized volume bar whose candle closes in the
// trend's direction.
func (g *Generator) volumeSpike(candles []models.Candle, ctx Context) *models.Signal {
	side := allowedSide(ctx.Verdict)

	ratio, ok := indicators.VolumeRatio(candles, g.cfg.VolumeLookback)
	if !ok || ratio < 2*g.cfg.VolumeSurge {
		return nil
	}
	if !candlesInFavor(candles, side) {
		return nil
	}

	price := candles[len(candles)-1].Close
	s := &models.Signal{
		Strategy:    models.StrategyVolumeSpike,
		Side:        side,
		Confidence:  trendBase(ctx.Verdict.Score) + 30 + math.Min(20, ratio*5),
		TrendScore:  ctx.Verdict.Score,
		FundingRate: ctx.FundingRate,
		Time:        ctx.Now,
		Reasons: []string{
			fmt.Sprintf("trend score %.1f allows %s: +%.1f", ctx.Verdict.Score, side, trendBase(ctx.Verdict.Score)),
			fmt.Sprintf("volume spike %.2fx average with confirming candles", ratio),
		},
	}

	g.fundingAdjust(s, ctx.FundingRate)
	return g.finish(s, price)
}

// inPullbackZone reports whether RSI sits in the healthy-retrace band for the
// trade's side (the band mirrors for shorts).
func inPullbackZone(rsi float64, side models.Side, low, high float64) bool {
	if side == models.Long {
		return rsi >= low && rsi <= high
	}
	return rsi >= 100-high && rsi <= 100-low
}
