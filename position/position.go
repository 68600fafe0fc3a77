package position

import (
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

// ExitDecision is the outcome of one tick of the exit machine.
type ExitDecision struct {
	Exit   bool
	Reason models.ExitReason
}

// Manager owns the exit state machine for the single open position:
// OPEN -> TRAILING -> CLOSED, where OPEN can close directly via stop-loss,
// take-profit or time exit without ever trailing.
type Manager struct {
	cfg    config.ExitConfig
	logger logging.LoggerInterface
}

// NewManager creates a position manager.
func NewManager(cfg config.ExitConfig, logger logging.LoggerInterface) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Open builds a Position from an executed signal fill.
func Open(sig *models.Signal, fillPrice, sizeUSD, sizeCoins float64, now time.Time) *models.Position {
	return &models.Position{
		Side:              sig.Side,
		EntryPrice:        fillPrice,
		SizeCoins:         sizeCoins,
		SizeUSD:           sizeUSD,
		StopLoss:          sig.StopLoss,
		TakeProfit:        sig.TakeProfit,
		HighestPrice:      fillPrice,
		LowestPrice:       fillPrice,
		EntryTime:         now,
		TrendScoreAtEntry: sig.TrendScore,
	}
}

// Tick feeds the current price through the exit machine. It mutates the
// position in place (extremes, trailing state) and reports whether the
// position must be closed and why. The hard stop always runs first and
// cannot be overridden by trailing logic.
func (m *Manager) Tick(pos *models.Position, price float64, now time.Time) ExitDecision {
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if price < pos.LowestPrice {
		pos.LowestPrice = price
	}

	if crossedAgainst(pos.Side, price, pos.StopLoss) {
		return ExitDecision{Exit: true, Reason: models.ExitStopLoss}
	}

	profit := pos.ProfitPct(price) / 100
	if profit >= m.cfg.TrailActivationPct {
		if !pos.TrailingActive {
			pos.TrailingActive = true
			m.logger.Info("position: trailing armed at %.2f%% profit", profit*100)
		}
	}
	if pos.TrailingActive {
		m.ratchet(pos)
		if crossedAgainst(pos.Side, price, pos.TrailingStop) {
			return ExitDecision{Exit: true, Reason: models.ExitTrailingStop}
		}
		// Once trailing engages the position may run past the original
		// target, so the take-profit check is skipped from here on.
		return ExitDecision{}
	}

	if reachedTarget(pos.Side, price, pos.TakeProfit) {
		return ExitDecision{Exit: true, Reason: models.ExitTakeProfit}
	}

	maxHold := time.Duration(m.cfg.MaxHoldHours) * time.Hour
	if now.Sub(pos.EntryTime) >= maxHold && profit >= m.cfg.TimeExitMinProfit {
		return ExitDecision{Exit: true, Reason: models.ExitTimeLimit}
	}

	return ExitDecision{}
}

// ratchet recomputes the trailing stop behind the favorable extreme and only
// tightens it: once set, the stop never moves in the direction that would
// increase risk.
func (m *Manager) ratchet(pos *models.Position) {
	if pos.Side == models.Long {
		candidate := pos.HighestPrice * (1 - m.cfg.TrailDistancePct)
		if candidate > pos.TrailingStop {
			pos.TrailingStop = candidate
		}
		return
	}
	candidate := pos.LowestPrice * (1 + m.cfg.TrailDistancePct)
	if pos.TrailingStop == 0 || candidate < pos.TrailingStop {
		pos.TrailingStop = candidate
	}
}

// crossedAgainst reports whether price has crossed a protective level.
func crossedAgainst(side models.Side, price, level float64) bool {
	if level <= 0 {
		return false
	}
	if side == models.Long {
		return price <= level
	}
	return price >= level
}

// reachedTarget reports whether price has reached the profit target.
func reachedTarget(side models.Side, price, target float64) bool {
	if target <= 0 {
		return false
	}
	if side == models.Long {
		return price >= target
	}
	return price <= target
}
