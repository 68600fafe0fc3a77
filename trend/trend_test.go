package trend

import (
	"testing"
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

func testConfig() config.TrendConfig {
	return config.TrendConfig{
		Timeframes:        []string{"15", "60", "240"},
		Weights:           []float64{1.0, 1.5, 2.5},
		EMAFast:           9,
		EMAMid:            21,
		EMASlow:           50,
		StructureLookback: 20,
		StrongThreshold:   40,
		CandleCount:       120,
	}
}

// trendingCandles builds a monotone price ladder: step > 0 rises, < 0 falls.
func trendingCandles(n int, start, step float64) []models.Candle {
	out := make([]models.Candle, n)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		out[i] = models.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     price,
			High:     price + 0.5,
			Low:      price - 0.5,
			Close:    price,
			Volume:   100,
		}
		price += step
	}
	return out
}

func TestScoreTimeframeUptrend(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	score, ok := e.ScoreTimeframe(trendingCandles(120, 100, 0.5))
	if !ok {
		t.Fatalf("expected a score for 120 bars")
	}
	if score <= 40 {
		t.Errorf("strong uptrend should score well above threshold, got %.1f", score)
	}
}

func TestScoreTimeframeDowntrend(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	score, ok := e.ScoreTimeframe(trendingCandles(120, 200, -0.5))
	if !ok {
		t.Fatalf("expected a score for 120 bars")
	}
	if score >= -40 {
		t.Errorf("strong downtrend should score deeply negative, got %.1f", score)
	}
}

func TestScoreTimeframeInsufficientData(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	if _, ok := e.ScoreTimeframe(trendingCandles(30, 100, 0.5)); ok {
		t.Errorf("expected no score with fewer bars than the slow EMA needs")
	}
}

func TestEvaluateAllAgreeLong(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	data := map[string][]models.Candle{
		"15":  trendingCandles(120, 100, 0.5),
		"60":  trendingCandles(120, 100, 0.8),
		"240": trendingCandles(120, 100, 1.0),
	}
	v := e.Evaluate(data)
	if v.Allowed != models.LongOnly {
		t.Fatalf("expected LONG_ONLY, got %s (score %.1f)", v.Allowed, v.Score)
	}
	if v.Score < 40 {
		t.Errorf("combined score %.1f below threshold yet direction allowed", v.Score)
	}
}

func TestEvaluateSingleDissenterForcesNone(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	data := map[string][]models.Candle{
		"15":  trendingCandles(120, 200, -0.5), // dissenting fast timeframe
		"60":  trendingCandles(120, 100, 0.8),
		"240": trendingCandles(120, 100, 1.0),
	}
	v := e.Evaluate(data)
	if v.Allowed != models.NoTrade {
		t.Fatalf("one dissenting timeframe must force NONE, got %s", v.Allowed)
	}
}

// Property from the agreement gate: whenever a direction is allowed, every
// per-timeframe score shares the same sign.
func TestEvaluateAllowedImpliesSignAgreement(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	cases := []map[string][]models.Candle{
		{
			"15":  trendingCandles(120, 100, 0.5),
			"60":  trendingCandles(120, 100, 0.8),
			"240": trendingCandles(120, 100, 1.0),
		},
		{
			"15":  trendingCandles(120, 300, -0.5),
			"60":  trendingCandles(120, 300, -0.8),
			"240": trendingCandles(120, 300, -1.0),
		},
		{
			"15":  trendingCandles(120, 100, 0.5),
			"60":  trendingCandles(120, 300, -0.8),
			"240": trendingCandles(120, 100, 1.0),
		},
		{
			"15":  trendingCandles(120, 100, 0.01),
			"60":  trendingCandles(120, 100, 0.02),
			"240": trendingCandles(120, 300, -1.0),
		},
	}
	for i, data := range cases {
		v := e.Evaluate(data)
		if v.Allowed == models.NoTrade {
			continue
		}
		sign := 0.0
		for tf, score := range v.PerTimeframe {
			if score == 0 {
				t.Errorf("case %d: timeframe %s scored 0 but direction allowed", i, tf)
			}
			if sign == 0 {
				sign = score
			} else if sign*score < 0 {
				t.Errorf("case %d: mixed signs with allowed direction %s", i, v.Allowed)
			}
		}
	}
}

func TestEvaluateMissingTimeframeForcesNone(t *testing.T) {
	e := NewEngine(testConfig(), logging.Nop{})
	data := map[string][]models.Candle{
		"15": trendingCandles(120, 100, 0.5),
		"60": trendingCandles(120, 100, 0.8),
	}
	if v := e.Evaluate(data); v.Allowed != models.NoTrade {
		t.Fatalf("missing timeframe must force NONE, got %s", v.Allowed)
	}
}
