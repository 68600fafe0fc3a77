package signal

import (
	"math"
	"testing"
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

func testConfig() config.SignalConfig {
	return config.SignalConfig{
		Timeframe:        "5",
		CandleCount:      100,
		EMAFast:          3,
		EMASlow:          5,
		PullbackInnerPct: 1.0,
		PullbackOuterPct: 3.0,
		RSIPeriod:        5,
		RSIPullbackLow:   30,
		RSIPullbackHigh:  80,
		RSIExhausted:     85,
		VolumeLookback:   5,
		VolumeSurge:      1.5,
		MinConfidence:    70,
		StopLossPct:      0.02,
		TakeProfitPct:    0.06,
		BreakoutLookback: 5,
		FundingWeight:    0.5,
	}
}

func candlesFromCloses(closes, volumes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c - 0.3, // every candle closes green
			High:     c + 0.2,
			Low:      c - 0.5,
			Close:    c,
			Volume:   volumes[i],
		}
	}
	return out
}

func longVerdict(score float64) models.TrendVerdict {
	return models.TrendVerdict{Score: score, Allowed: models.LongOnly}
}

// Gently rising closes: EMA3 > EMA5, RSI ~75, price within 1% of EMA5.
var pullbackCloses = []float64{100, 101, 100.5, 101.5, 101, 102, 101.5, 102.5, 102, 103}

func surgeVolumes() []float64 {
	v := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 20}
	return v
}

func TestPullbackLongEmitsSignal(t *testing.T) {
	g := NewGenerator(testConfig(), logging.Nop{})
	candles := candlesFromCloses(pullbackCloses, surgeVolumes())

	s := g.Evaluate(candles, Context{
		Symbol:  "BTCUSDT",
		Verdict: longVerdict(80),
		Now:     time.Now(),
	})
	if s == nil {
		t.Fatalf("expected a pullback signal")
	}
	if s.Strategy != models.StrategyPullback {
		t.Errorf("expected PULLBACK, got %s", s.Strategy)
	}
	if s.Side != models.Long {
		t.Errorf("expected LONG, got %s", s.Side)
	}
	// trend base 20 + band 25 + RSI 20 + volume 15 + candles 10.
	if math.Abs(s.Confidence-90) > 1e-9 {
		t.Errorf("expected confidence 90, got %.2f", s.Confidence)
	}
	if math.Abs(s.StopLoss-103*0.98) > 1e-9 {
		t.Errorf("stop loss %.4f, want %.4f", s.StopLoss, 103*0.98)
	}
	if math.Abs(s.TakeProfit-103*1.06) > 1e-9 {
		t.Errorf("take profit %.4f, want %.4f", s.TakeProfit, 103*1.06)
	}
	if len(s.Reasons) == 0 {
		t.Errorf("expected contributing reasons to be recorded")
	}
}

func TestNeverEmitsBelowConfidenceFloor(t *testing.T) {
	cfg := testConfig()
	g := NewGenerator(cfg, logging.Nop{})

	// Flat volume, no candle confirmation, weak trend: every variant either
	// declines or stays far below the floor.
	closes := []float64{100, 101, 100.5, 101.5, 101, 102, 101.5, 102.5, 102, 102.6}
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 8}
	candles := candlesFromCloses(closes, volumes)
	for i := range candles {
		candles[i].Open = candles[i].Close + 0.1 // red candles, no confirmation
	}

	s := g.Evaluate(candles, Context{Verdict: longVerdict(40), Now: time.Now()})
	if s != nil && s.Confidence < cfg.MinConfidence {
		t.Fatalf("emitted signal with confidence %.1f below floor %.1f", s.Confidence, cfg.MinConfidence)
	}
}

func TestNoSignalWhenVerdictNone(t *testing.T) {
	g := NewGenerator(testConfig(), logging.Nop{})
	candles := candlesFromCloses(pullbackCloses, surgeVolumes())
	v := models.TrendVerdict{Score: 90, Allowed: models.NoTrade}
	if s := g.Evaluate(candles, Context{Verdict: v, Now: time.Now()}); s != nil {
		t.Fatalf("NONE verdict must not produce a signal, got %+v", s)
	}
}

func TestRSIExhaustionVeto(t *testing.T) {
	g := NewGenerator(testConfig(), logging.Nop{})
	// Strictly rising closes push RSI to 100; volume flat so no other variant
	// can qualify either.
	closes := []float64{100, 100.5, 101, 101.5, 102, 102.5, 103, 103.5, 104, 104.5}
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	candles := candlesFromCloses(closes, volumes)

	if s := g.Evaluate(candles, Context{Verdict: longVerdict(90), Now: time.Now()}); s != nil {
		t.Fatalf("expected exhaustion veto, got %s confidence %.1f", s.Strategy, s.Confidence)
	}
}

func TestTooExtendedVeto(t *testing.T) {
	g := NewGenerator(testConfig(), logging.Nop{})
	closes := append([]float64{}, pullbackCloses...)
	closes[len(closes)-1] = 120 // ~17% above the slow EMA
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	candles := candlesFromCloses(closes, volumes)

	s := g.Evaluate(candles, Context{Verdict: longVerdict(80), Now: time.Now()})
	if s != nil && s.Strategy == models.StrategyPullback {
		t.Fatalf("pullback must refuse an entry beyond the outer band")
	}
}

func TestFundingRateShiftsConfidence(t *testing.T) {
	g := NewGenerator(testConfig(), logging.Nop{})
	candles := candlesFromCloses(pullbackCloses, surgeVolumes())

	paid := g.Evaluate(candles, Context{Verdict: longVerdict(80), FundingRate: -0.0005, Now: time.Now()})
	charged := g.Evaluate(candles, Context{Verdict: longVerdict(80), FundingRate: 0.0005, Now: time.Now()})
	if paid == nil || charged == nil {
		t.Fatalf("both evaluations should emit")
	}
	if paid.Confidence <= charged.Confidence {
		t.Errorf("funding paying the side should score higher: paid %.1f charged %.1f",
			paid.Confidence, charged.Confidence)
	}
}

func TestShortMirror(t *testing.T) {
	g := NewGenerator(testConfig(), logging.Nop{})
	// Mirror of the long pullback ladder.
	closes := make([]float64, len(pullbackCloses))
	for i, c := range pullbackCloses {
		closes[i] = 200 - (c - 100)
	}
	volumes := surgeVolumes()
	candles := candlesFromCloses(closes, volumes)
	for i := range candles {
		candles[i].Open = candles[i].Close + 0.3 // red candles confirm the short
		candles[i].High = candles[i].Close + 0.5
		candles[i].Low = candles[i].Close - 0.2
	}

	v := models.TrendVerdict{Score: -80, Allowed: models.ShortOnly}
	s := g.Evaluate(candles, Context{Verdict: v, Now: time.Now()})
	if s == nil {
		t.Fatalf("expected a short signal on the mirrored ladder")
	}
	if s.Side != models.Short {
		t.Fatalf("expected SHORT, got %s", s.Side)
	}
	if s.StopLoss <= s.EntryPrice || s.TakeProfit >= s.EntryPrice {
		t.Errorf("short levels inverted: entry %.2f stop %.2f tp %.2f", s.EntryPrice, s.StopLoss, s.TakeProfit)
	}
}
