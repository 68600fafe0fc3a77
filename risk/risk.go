package risk

import (
	"fmt"
	"math"
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

// StatePersister saves the risk ledger after every mutation. The file store
// satisfies this; tests substitute an in-memory recorder.
type StatePersister interface {
	SaveRiskState(state models.RiskState) error
}

// Manager is the single authority for "can we trade right now" and "how big".
// It is the only writer of RiskState; every mutation is persisted
// synchronously so a crash never loses more than the in-flight tick.
type Manager struct {
	cfg    config.RiskConfig
	logger logging.LoggerInterface
	store  StatePersister
	state  models.RiskState
	loc    *time.Location
}

// NewManager creates a risk manager around a previously loaded state.
func NewManager(cfg config.RiskConfig, state models.RiskState, store StatePersister, logger logging.LoggerInterface) (*Manager, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("risk: bad timezone %q: %w", cfg.Timezone, err)
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		store:  store,
		state:  state,
		loc:    loc,
	}, nil
}

// State returns a snapshot of the current risk ledger.
func (m *Manager) State() models.RiskState {
	return m.state
}

// CanTrade runs the entry gate checks in order, short-circuiting on the
// first failure. The consecutive-loss check mutates: hitting the limit sets
// the pause. The returned reason is human-readable; a denial is normal
// control flow, not an error.
func (m *Manager) CanTrade(now time.Time, positionOpen bool) (bool, string) {
	m.rollDay(now)

	if !m.state.PausedUntil.IsZero() {
		if now.Before(m.state.PausedUntil) {
			remaining := m.state.PausedUntil.Sub(now).Round(time.Minute)
			return false, fmt.Sprintf("paused after loss streak, %s remaining", remaining)
		}
		// Pause elapsed: clear it and forgive the streak.
		m.state.PausedUntil = time.Time{}
		m.state.ConsecutiveLosses = 0
		m.persist()
		m.logger.Info("risk: pause elapsed, loss streak reset")
	}

	if m.state.DailyPnL <= -m.cfg.DailyLossLimit {
		return false, fmt.Sprintf("daily loss limit hit (%.2f <= -%.2f USD)", m.state.DailyPnL, m.cfg.DailyLossLimit)
	}

	if m.state.DailyTrades >= m.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade cap reached (%d/%d)", m.state.DailyTrades, m.cfg.MaxDailyTrades)
	}

	if m.state.ConsecutiveLosses >= m.cfg.MaxConsecLosses {
		m.state.PausedUntil = now.Add(time.Duration(m.cfg.PauseMinutes) * time.Minute)
		m.persist()
		m.logger.Warning("risk: %d consecutive losses, pausing until %s",
			m.state.ConsecutiveLosses, m.state.PausedUntil.Format(time.RFC3339))
		return false, fmt.Sprintf("%d consecutive losses, pausing %d minutes", m.state.ConsecutiveLosses, m.cfg.PauseMinutes)
	}

	cooldown := time.Duration(m.cfg.CooldownSec) * time.Second
	if !m.state.LastTradeTime.IsZero() && now.Sub(m.state.LastTradeTime) < cooldown {
		remaining := (cooldown - now.Sub(m.state.LastTradeTime)).Round(time.Second)
		return false, fmt.Sprintf("trade cooldown, %s remaining", remaining)
	}

	if positionOpen {
		return false, "a position is already open"
	}

	return true, ""
}

// PositionSize computes fixed-fractional sizing: the margin such that hitting
// the stop loses exactly riskFraction of balance regardless of leverage or
// stop width. Returns the margin in USD and the coin quantity at entry.
// A zero size means the account cannot place a viable order.
func (m *Manager) PositionSize(balance, entry, stop float64) (sizeUSD, sizeCoins float64) {
	if balance <= 0 || entry <= 0 || stop <= 0 {
		return 0, 0
	}
	stopDistPct := math.Abs(entry-stop) / entry
	if stopDistPct == 0 {
		return 0, 0
	}

	sizeUSD = (balance * m.cfg.RiskFraction) / (stopDistPct * m.cfg.Leverage)

	maxUSD := balance * m.cfg.MaxBalanceFraction
	if sizeUSD > maxUSD {
		sizeUSD = maxUSD
	}
	if sizeUSD < m.cfg.MinOrderUSD {
		m.logger.Warning("risk: computed size %.2f USD below minimum %.2f", sizeUSD, m.cfg.MinOrderUSD)
		return 0, 0
	}

	sizeCoins = sizeUSD * m.cfg.Leverage / entry
	return sizeUSD, sizeCoins
}

// MarkOpened records the entry time for cooldown purposes and persists.
func (m *Manager) MarkOpened(now time.Time) {
	m.state.LastTradeTime = now
	m.persist()
}

// RecordTrade folds a realized outcome into the ledger: daily and lifetime
// counters, the win/loss split, and the consecutive-loss streak (reset on any
// win, incremented on any loss). Persists synchronously.
func (m *Manager) RecordTrade(now time.Time, pnl float64, isWin bool) {
	m.rollDay(now)

	m.state.DailyPnL += pnl
	m.state.DailyTrades++
	m.state.TotalTrades++
	if isWin {
		m.state.WinningTrades++
		m.state.ConsecutiveLosses = 0
	} else {
		m.state.LosingTrades++
		m.state.ConsecutiveLosses++
	}
	m.persist()

	m.logger.Info("risk: trade recorded pnl=%.2f win=%v dailyPnL=%.2f streak=%d",
		pnl, isWin, m.state.DailyPnL, m.state.ConsecutiveLosses)
}

// rollDay resets the daily counters exactly once per calendar day in the
// configured timezone, on first access after the boundary.
func (m *Manager) rollDay(now time.Time) {
	today := now.In(m.loc).Format("2006-01-02")
	if m.state.LastResetDate == today {
		return
	}
	m.state.DailyPnL = 0
	m.state.DailyTrades = 0
	m.state.LastResetDate = today
	m.persist()
	m.logger.Info("risk: daily counters rolled for %s", today)
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRiskState(m.state); err != nil {
		// Persistence failures must not stop trading decisions, but they do
		// erode crash safety, so shout.
		m.logger.Error("risk: failed to persist state: %v", err)
	}
}
