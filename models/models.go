package models

import (
	"strings"
	"time"
)

// Side of a trade: LONG or SHORT.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// NormalizeSide maps exchange-flavored side strings to LONG/SHORT.
func NormalizeSide(side string) Side {
	switch strings.ToUpper(side) {
	case "BUY", "LONG":
		return Long
	case "SELL", "SHORT":
		return Short
	default:
		return ""
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Direction is the trade direction the larger timeframes permit.
type Direction string

const (
	LongOnly  Direction = "LONG_ONLY"
	ShortOnly Direction = "SHORT_ONLY"
	NoTrade   Direction = "NONE"
)

// Candle is one OHLCV bar. Immutable once produced by the data provider.
type Candle struct {
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Closes extracts the close series from a candle window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// TrendVerdict is recomputed fresh from market data on every evaluation and
// never persisted.
type TrendVerdict struct {
	Score        float64
	Allowed      Direction
	PerTimeframe map[string]float64 // timeframe -> individual score, for logging
}

// Strategy identifies which signal variant produced a signal.
type Strategy string

const (
	StrategyPullback    Strategy = "PULLBACK"
	StrategyMomentum    Strategy = "MOMENTUM"
	StrategyBreakout    Strategy = "BREAKOUT"
	StrategyVolumeSpike Strategy = "VOLUME_SPIKE"
)

// Signal is a concrete entry proposal. Created by the signal generator,
// consumed immediately, never mutated.
type Signal struct {
	Strategy    Strategy
	Side        Side
	Confidence  float64 // 0..100
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	Reasons     []string
	TrendScore  float64
	FundingRate float64
	Time        time.Time
}

// ExitReason labels why a position was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitTimeLimit    ExitReason = "TIME_EXIT"
)

// Position is the single open position. At most one exists at a time.
type Position struct {
	Side              Side      `json:"side"`
	EntryPrice        float64   `json:"entryPrice"`
	SizeCoins         float64   `json:"sizeCoins"`
	SizeUSD           float64   `json:"sizeUsd"`
	StopLoss          float64   `json:"stopLoss"`
	TakeProfit        float64   `json:"takeProfit"`
	TrailingActive    bool      `json:"trailingActive"`
	TrailingStop      float64   `json:"trailingStop"`
	HighestPrice      float64   `json:"highestPrice"`
	LowestPrice       float64   `json:"lowestPrice"`
	EntryTime         time.Time `json:"entryTime"`
	TrendScoreAtEntry float64   `json:"trendScoreAtEntry"`
}

// ProfitPct returns the unrealized move in the position's favor as a percent
// of entry (positive = in profit).
func (p *Position) ProfitPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == Long {
		return (price - p.EntryPrice) / p.EntryPrice * 100
	}
	return (p.EntryPrice - price) / p.EntryPrice * 100
}

// RealizedPnL returns the signed P&L of closing the position at price.
func (p *Position) RealizedPnL(price float64) float64 {
	if p.Side == Long {
		return (price - p.EntryPrice) * p.SizeCoins
	}
	return (p.EntryPrice - price) * p.SizeCoins
}

// RiskState is the process-wide trading ledger, persisted after every
// mutation and rolled at the local-day boundary.
type RiskState struct {
	DailyPnL          float64   `json:"dailyPnl"`
	DailyTrades       int       `json:"dailyTrades"`
	TotalTrades       int       `json:"totalTrades"`
	WinningTrades     int       `json:"winningTrades"`
	LosingTrades      int       `json:"losingTrades"`
	ConsecutiveLosses int       `json:"consecutiveLosses"`
	PausedUntil       time.Time `json:"pausedUntil,omitempty"`
	LastTradeTime     time.Time `json:"lastTradeTime,omitempty"`
	LastResetDate     string    `json:"lastResetDate"` // YYYY-MM-DD in the configured timezone
}

// WinRate returns the fraction of closed trades that won, 0 when no trades.
func (s RiskState) WinRate() float64 {
	closed := s.WinningTrades + s.LosingTrades
	if closed == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(closed)
}

// EventType labels structured events emitted to the alert sink.
type EventType string

const (
	EventEvaluation EventType = "EVALUATION"
	EventTradeOpen  EventType = "TRADE_OPEN"
	EventTradeClose EventType = "TRADE_CLOSE"
	EventStateLoss  EventType = "STATE_LOSS"
)

// Event is the structured record handed to the alert sink. Fire-and-forget:
// delivery failures never affect the trading loop.
type Event struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Type       EventType `json:"type"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Size       float64   `json:"size,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	Risk       RiskState `json:"risk"`
}
