// Package trader is the polling orchestrator: it ties the trend engine,
// signal generator, risk gate and exit machine together on two cadences and
// owns the single position slot.
package trader

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"perp-pilot/config"
	"perp-pilot/interfaces"
	"perp-pilot/logging"
	"perp-pilot/metrics"
	"perp-pilot/models"
	"perp-pilot/position"
	"perp-pilot/risk"
	"perp-pilot/signal"
	"perp-pilot/store"
	"perp-pilot/trend"
)

// LivePrice is an optional low-latency price source (websocket stream)
// consulted before falling back to REST on exit checks.
type LivePrice interface {
	LastPrice() (float64, time.Time)
}

// Trader runs the decision loop. Single logical thread: all state mutation
// happens on the loop goroutine, persistence is synchronous after every
// mutation.
type Trader struct {
	cfg    *config.Config
	logger logging.LoggerInterface

	market  interfaces.MarketData
	exec    interfaces.Execution
	alerter interfaces.Alerter

	trend   *trend.Engine
	signals *signal.Generator
	risk    *risk.Manager
	exits   *position.Manager
	store   *store.Store
	live    LivePrice // may be nil

	pos             *models.Position
	lastSignalCheck time.Time
}

// New wires the orchestrator, reloads persisted state and reconciles it
// against the exchange. A corrupt state file falls back to safe defaults and
// raises a STATE_LOSS alert instead of refusing to start.
func New(
	cfg *config.Config,
	logger logging.LoggerInterface,
	market interfaces.MarketData,
	exec interfaces.Execution,
	alerter interfaces.Alerter,
	st *store.Store,
	live LivePrice,
) (*Trader, error) {
	t := &Trader{
		cfg:     cfg,
		logger:  logger,
		market:  market,
		exec:    exec,
		alerter: alerter,
		store:   st,
		live:    live,
		trend:   trend.NewEngine(cfg.Trend, logger),
		signals: signal.NewGenerator(cfg.Signal, logger),
		exits:   position.NewManager(cfg.Exit, logger),
	}

	state, found, err := st.LoadRiskState()
	if err != nil {
		logger.Error("trader: risk state unreadable, resetting: %v", err)
		state = models.RiskState{}
		t.emit(models.Event{
			Type:   models.EventStateLoss,
			Symbol: cfg.Symbol,
			Reason: fmt.Sprintf("risk state corrupt, reset to defaults: %v", err),
		})
	} else if !found {
		logger.Info("trader: no risk state on disk, starting fresh")
	}

	t.risk, err = risk.NewManager(cfg.Risk, state, st, logger)
	if err != nil {
		return nil, fmt.Errorf("risk manager: %w", err)
	}

	if err := t.reloadPosition(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trader) reloadPosition() error {
	pos, err := t.store.LoadPosition()
	if err != nil {
		t.logger.Error("trader: position state unreadable, discarding: %v", err)
		t.emit(models.Event{
			Type:   models.EventStateLoss,
			Symbol: t.cfg.Symbol,
			Reason: fmt.Sprintf("position state corrupt, discarded: %v", err),
		})
		if err := t.store.ClearPosition(); err != nil {
			return fmt.Errorf("clear corrupt position: %w", err)
		}
		pos = nil
	}
	t.pos = pos

	ctx, cancel := t.callCtx(context.Background())
	defer cancel()
	t.reconcile(ctx)
	return nil
}

// reconcile cross-checks the persisted position against the exchange-side
// view. The exchange wins: a locally-recorded position the venue does not
// hold is dropped, a venue position with no local record is adopted with
// config-derived protective levels.
func (t *Trader) reconcile(ctx context.Context) {
	side, size, entry, err := t.exec.OpenSize(ctx, t.cfg.Symbol)
	if err != nil {
		t.logger.Warning("trader: reconciliation skipped, position query failed: %v", err)
		return
	}

	switch {
	case t.pos != nil && size == 0:
		t.logger.Warning("trader: local position not held on exchange, discarding local record")
		t.pos = nil
		if err := t.store.ClearPosition(); err != nil {
			t.logger.Error("trader: clear stale position: %v", err)
		}
	case t.pos == nil && size > 0:
		t.logger.Warning("trader: adopting untracked exchange position %s size=%f entry=%f", side, size, entry)
		now := time.Now()
		adopted := &models.Position{
			Side:       side,
			EntryPrice: entry,
			SizeCoins:  size,
			SizeUSD:    size * entry,
			EntryTime:  now,
		}
		if side == models.Long {
			adopted.StopLoss = entry * (1 - t.cfg.Signal.StopLossPct)
			adopted.TakeProfit = entry * (1 + t.cfg.Signal.TakeProfitPct)
			adopted.HighestPrice = entry
			adopted.LowestPrice = entry
		} else {
			adopted.StopLoss = entry * (1 + t.cfg.Signal.StopLossPct)
			adopted.TakeProfit = entry * (1 - t.cfg.Signal.TakeProfitPct)
			adopted.HighestPrice = entry
			adopted.LowestPrice = entry
		}
		t.pos = adopted
		if err := t.store.SavePosition(adopted); err != nil {
			t.logger.Error("trader: persist adopted position: %v", err)
		}
	case t.pos != nil && size > 0 && t.pos.SizeCoins != size:
		t.logger.Warning("trader: size drift local=%f exchange=%f, trusting exchange", t.pos.SizeCoins, size)
		t.pos.SizeCoins = size
		if err := t.store.SavePosition(t.pos); err != nil {
			t.logger.Error("trader: persist reconciled position: %v", err)
		}
	}
}

// Run drives both cadences until the context is cancelled. The fast ticker
// handles exit checks; entry evaluation piggybacks on it once the slower
// interval (with a little jitter to avoid thundering on candle boundaries)
// has elapsed and no position is open.
func (t *Trader) Run(ctx context.Context) {
	fast := time.Duration(t.cfg.PositionIntervalSec) * time.Second
	ticker := time.NewTicker(fast)
	defer ticker.Stop()

	t.logger.Info("trader: loop started, position cadence %s, signal cadence %ds",
		fast, t.cfg.SignalIntervalSec)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trader: loop stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			now := time.Now()
			if t.pos != nil {
				t.CheckPosition(ctx, now)
				continue
			}
			if t.signalDue(now) {
				t.lastSignalCheck = now
				t.EvaluateEntry(ctx, now)
			}
		}
	}
}

func (t *Trader) signalDue(now time.Time) bool {
	if t.lastSignalCheck.IsZero() {
		return true
	}
	interval := time.Duration(t.cfg.SignalIntervalSec) * time.Second
	jitter := time.Duration(rand.Int63n(int64(interval)/10 + 1))
	return now.Sub(t.lastSignalCheck) >= interval-jitter
}

// EvaluateEntry runs one full flat-side evaluation: risk pre-gate, trend
// verdict, signal generation, sizing, order submission.
func (t *Trader) EvaluateEntry(ctx context.Context, now time.Time) {
	if t.pos != nil {
		// Second-open attempts are a programming error; reject and keep
		// the existing position intact.
		t.logger.Error("trader: entry evaluation with open position, rejected")
		return
	}

	if ok, reason := t.risk.CanTrade(now, false); !ok {
		t.logger.Info("trader: entry denied: %s", reason)
		metrics.IncEvaluation("risk_denied")
		metrics.IncRiskDenial(reason)
		t.emit(models.Event{Type: models.EventEvaluation, Symbol: t.cfg.Symbol, Reason: "denied: " + reason})
		return
	}

	verdict, ok := t.fetchTrend(ctx)
	if !ok {
		metrics.IncEvaluation("data_error")
		return
	}
	metrics.SetTrendScore("weighted", verdict.Score)
	for tf, score := range verdict.PerTimeframe {
		metrics.SetTrendScore(tf, score)
	}

	if verdict.Allowed == models.NoTrade {
		t.logger.Debug("trader: trend verdict NONE (score %.1f)", verdict.Score)
		metrics.IncEvaluation("no_signal")
		t.emit(models.Event{
			Type:   models.EventEvaluation,
			Symbol: t.cfg.Symbol,
			Reason: fmt.Sprintf("trend NONE, weighted score %.1f", verdict.Score),
		})
		return
	}

	sig, ok := t.fetchSignal(ctx, verdict, now)
	if !ok {
		metrics.IncEvaluation("data_error")
		return
	}
	if sig == nil {
		t.logger.Debug("trader: no entry cleared the confidence floor")
		metrics.IncEvaluation("no_signal")
		t.emit(models.Event{
			Type:   models.EventEvaluation,
			Symbol: t.cfg.Symbol,
			Reason: fmt.Sprintf("trend %s but no signal", verdict.Allowed),
		})
		return
	}

	t.openTrade(ctx, sig, now)
}

func (t *Trader) fetchTrend(ctx context.Context) (models.TrendVerdict, bool) {
	byTimeframe := make(map[string][]models.Candle, len(t.cfg.Trend.Timeframes))
	for _, tf := range t.cfg.Trend.Timeframes {
		cctx, cancel := t.callCtx(ctx)
		candles, err := t.market.GetCandles(cctx, t.cfg.Symbol, tf, t.cfg.Trend.CandleCount)
		cancel()
		if err != nil {
			t.logger.Warning("trader: candles %sm unavailable, tick skipped: %v", tf, err)
			return models.TrendVerdict{}, false
		}
		byTimeframe[tf] = candles
	}
	return t.trend.Evaluate(byTimeframe), true
}

func (t *Trader) fetchSignal(ctx context.Context, verdict models.TrendVerdict, now time.Time) (*models.Signal, bool) {
	cctx, cancel := t.callCtx(ctx)
	candles, err := t.market.GetCandles(cctx, t.cfg.Symbol, t.cfg.Signal.Timeframe, t.cfg.Signal.CandleCount)
	cancel()
	if err != nil {
		t.logger.Warning("trader: entry candles unavailable, tick skipped: %v", err)
		return nil, false
	}

	cctx, cancel = t.callCtx(ctx)
	funding, err := t.market.GetFundingRate(cctx, t.cfg.Symbol)
	cancel()
	if err != nil {
		t.logger.Debug("trader: funding unavailable, assuming 0: %v", err)
		funding = 0
	}

	sig := t.signals.Evaluate(candles, signal.Context{
		Symbol:      t.cfg.Symbol,
		Verdict:     verdict,
		FundingRate: funding,
		Now:         now,
	})
	return sig, true
}

func (t *Trader) openTrade(ctx context.Context, sig *models.Signal, now time.Time) {
	cctx, cancel := t.callCtx(ctx)
	balance, err := t.exec.GetBalance(cctx)
	cancel()
	if err != nil {
		t.logger.Warning("trader: balance unavailable, entry skipped: %v", err)
		metrics.IncEvaluation("data_error")
		return
	}
	metrics.SetEquity(balance)

	sizeUSD, sizeCoins := t.risk.PositionSize(balance, sig.EntryPrice, sig.StopLoss)
	if sizeUSD == 0 {
		t.logger.Info("trader: entry denied: size below minimum order")
		metrics.IncEvaluation("risk_denied")
		metrics.IncRiskDenial("min_order")
		t.emit(models.Event{Type: models.EventEvaluation, Symbol: t.cfg.Symbol, Reason: "denied: size below minimum order"})
		return
	}

	cctx, cancel = t.callCtx(ctx)
	fill, err := t.exec.OpenPosition(cctx, t.cfg.Symbol, sig.Side, sizeCoins)
	cancel()
	if err != nil {
		// Order state is unknown; do not record a position, the next
		// reconciliation or entry tick resolves it.
		t.logger.Error("trader: open order failed: %v", err)
		metrics.IncEvaluation("exec_error")
		return
	}

	t.pos = position.Open(sig, fill, sizeUSD, sizeCoins, now)
	t.risk.MarkOpened(now)
	if err := t.store.SavePosition(t.pos); err != nil {
		t.logger.Error("trader: persist position: %v", err)
	}

	metrics.IncEvaluation("entered")
	t.logger.Info("trader: OPEN %s %s %.6f @ %.4f stop=%.4f target=%.4f conf=%.0f [%s]",
		sig.Side, t.cfg.Symbol, sizeCoins, fill, sig.StopLoss, sig.TakeProfit, sig.Confidence, sig.Strategy)
	t.emit(models.Event{
		Type:       models.EventTradeOpen,
		Symbol:     t.cfg.Symbol,
		Side:       sig.Side,
		Price:      fill,
		Size:       sizeCoins,
		Confidence: sig.Confidence,
		Reason:     fmt.Sprintf("%s: %v", sig.Strategy, sig.Reasons),
	})
}

// CheckPosition runs one fast-cadence exit check against the freshest price
// available.
func (t *Trader) CheckPosition(ctx context.Context, now time.Time) {
	if t.pos == nil {
		return
	}

	price, ok := t.currentPrice(ctx, now)
	if !ok {
		return
	}

	decision := t.exits.Tick(t.pos, price, now)
	if !decision.Exit {
		// Extremes and the trailing stop mutate on every tick; keep the
		// on-disk record in step.
		if err := t.store.SavePosition(t.pos); err != nil {
			t.logger.Error("trader: persist position: %v", err)
		}
		return
	}
	t.closeTrade(ctx, decision.Reason, now)
}

func (t *Trader) currentPrice(ctx context.Context, now time.Time) (float64, bool) {
	if t.live != nil {
		price, at := t.live.LastPrice()
		maxAge := 2 * time.Duration(t.cfg.PositionIntervalSec) * time.Second
		if price > 0 && now.Sub(at) <= maxAge {
			return price, true
		}
	}

	cctx, cancel := t.callCtx(ctx)
	defer cancel()
	price, err := t.market.GetPrice(cctx, t.cfg.Symbol)
	if err != nil {
		t.logger.Warning("trader: price unavailable, exit check skipped: %v", err)
		return 0, false
	}
	return price, true
}

func (t *Trader) closeTrade(ctx context.Context, reason models.ExitReason, now time.Time) {
	cctx, cancel := t.callCtx(ctx)
	fill, err := t.exec.ClosePosition(cctx, t.cfg.Symbol)
	cancel()
	if err != nil {
		// The position is still open risk; keep the record and retry on
		// the next fast tick.
		t.logger.Error("trader: close order failed, will retry: %v", err)
		return
	}

	pos := t.pos
	pnl := pos.RealizedPnL(fill)
	isWin := pnl > 0
	t.risk.RecordTrade(now, pnl, isWin)
	t.pos = nil
	if err := t.store.ClearPosition(); err != nil {
		t.logger.Error("trader: clear position: %v", err)
	}

	state := t.risk.State()
	metrics.IncExit(string(reason), string(pos.Side))
	if isWin {
		metrics.IncTrade("win")
	} else {
		metrics.IncTrade("loss")
	}
	metrics.SetDailyPnL(state.DailyPnL)
	metrics.SetConsecLosses(state.ConsecutiveLosses)

	t.logger.Info("trader: CLOSE %s %s @ %.4f pnl=%.4f (%s), day pnl %.4f, streak %d",
		pos.Side, t.cfg.Symbol, fill, pnl, reason, state.DailyPnL, state.ConsecutiveLosses)
	t.emit(models.Event{
		Type:   models.EventTradeClose,
		Symbol: t.cfg.Symbol,
		Side:   pos.Side,
		Price:  fill,
		Size:   pos.SizeCoins,
		Reason: string(reason),
		PnL:    pnl,
	})
}

// Position returns the currently tracked position, nil when flat.
func (t *Trader) Position() *models.Position {
	return t.pos
}

func (t *Trader) callCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(t.cfg.RequestTimeoutSec)*time.Second)
}

func (t *Trader) emit(event models.Event) {
	event.ID = uuid.NewString()
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if t.risk != nil {
		event.Risk = t.risk.State()
	}
	t.alerter.Notify(event)
}
