package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

type memPersister struct {
	saves []models.RiskState
}

func (m *memPersister) SaveRiskState(s models.RiskState) error {
	m.saves = append(m.saves, s)
	return nil
}

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskFraction:       0.01,
		Leverage:           5,
		DailyLossLimit:     50,
		MaxDailyTrades:     10,
		MaxConsecLosses:    3,
		PauseMinutes:       240,
		CooldownSec:        900,
		MinOrderUSD:        10,
		MaxBalanceFraction: 0.15,
		Timezone:           "UTC",
	}
}

func newTestManager(t *testing.T, state models.RiskState) (*Manager, *memPersister) {
	t.Helper()
	p := &memPersister{}
	m, err := NewManager(testConfig(), state, p, logging.Nop{})
	require.NoError(t, err)
	return m, p
}

var noon = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func freshState() models.RiskState {
	return models.RiskState{LastResetDate: "2025-06-15"}
}

func TestPositionSizeExact(t *testing.T) {
	m, _ := newTestManager(t, freshState())

	// stop 2% away, leverage 5, risk 1% of $1000 -> $100 margin, exactly.
	sizeUSD, sizeCoins := m.PositionSize(1000, 100, 98)
	assert.Equal(t, 100.0, sizeUSD)
	assert.Equal(t, 5.0, sizeCoins) // 100 USD * 5x / $100
}

func TestPositionSizeClampedToMaxFraction(t *testing.T) {
	m, _ := newTestManager(t, freshState())

	// A sub-percent stop would size huge; the balance-fraction cap binds.
	sizeUSD, _ := m.PositionSize(1000, 100, 99.9)
	assert.Equal(t, 150.0, sizeUSD) // 15% of balance
}

func TestPositionSizeBelowMinimumIsZero(t *testing.T) {
	m, _ := newTestManager(t, freshState())

	sizeUSD, sizeCoins := m.PositionSize(50, 100, 98)
	assert.Zero(t, sizeUSD)
	assert.Zero(t, sizeCoins)
}

func TestCanTradeHappyPath(t *testing.T) {
	m, _ := newTestManager(t, freshState())
	ok, reason := m.CanTrade(noon, false)
	assert.True(t, ok, reason)
}

// The daily loss limit must deny regardless of every other state dimension.
func TestDailyLossLimitAlwaysDenies(t *testing.T) {
	pauses := []time.Time{{}, noon.Add(time.Hour), noon.Add(-time.Hour)}
	streaks := []int{0, 2, 5}
	for _, pause := range pauses {
		for _, streak := range streaks {
			state := freshState()
			state.DailyPnL = -50
			state.PausedUntil = pause
			state.ConsecutiveLosses = streak
			m, _ := newTestManager(t, state)

			ok, reason := m.CanTrade(noon, false)
			assert.False(t, ok, "pause=%v streak=%d", pause, streak)
			if pause.After(noon) {
				assert.Contains(t, reason, "paused")
			}
		}
	}
}

func TestDailyTradeCapDenies(t *testing.T) {
	state := freshState()
	state.DailyTrades = 10
	m, _ := newTestManager(t, state)

	ok, reason := m.CanTrade(noon, false)
	assert.False(t, ok)
	assert.Contains(t, reason, "trade cap")
}

func TestConsecutiveLossLimitSetsPause(t *testing.T) {
	state := freshState()
	state.ConsecutiveLosses = 3
	m, p := newTestManager(t, state)

	ok, reason := m.CanTrade(noon, false)
	assert.False(t, ok)
	assert.Contains(t, reason, "consecutive losses")
	// The check mutates: the pause is now set and persisted.
	assert.Equal(t, noon.Add(240*time.Minute), m.State().PausedUntil)
	require.NotEmpty(t, p.saves)
	assert.Equal(t, m.State().PausedUntil, p.saves[len(p.saves)-1].PausedUntil)
}

func TestPauseClearsAndResetsStreak(t *testing.T) {
	state := freshState()
	state.ConsecutiveLosses = 3
	state.PausedUntil = noon.Add(-time.Minute)
	m, _ := newTestManager(t, state)

	ok, reason := m.CanTrade(noon, false)
	assert.True(t, ok, reason)
	assert.Zero(t, m.State().ConsecutiveLosses)
	assert.True(t, m.State().PausedUntil.IsZero())
}

func TestCooldownDenies(t *testing.T) {
	state := freshState()
	state.LastTradeTime = noon.Add(-5 * time.Minute)
	m, _ := newTestManager(t, state)

	ok, reason := m.CanTrade(noon, false)
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	ok, _ = m.CanTrade(noon.Add(11*time.Minute), false)
	assert.True(t, ok)
}

func TestOpenPositionDenies(t *testing.T) {
	m, _ := newTestManager(t, freshState())
	ok, reason := m.CanTrade(noon, true)
	assert.False(t, ok)
	assert.True(t, strings.Contains(reason, "already open"), reason)
}

func TestDayRollover(t *testing.T) {
	state := freshState()
	state.DailyPnL = -40
	state.DailyTrades = 7
	state.TotalTrades = 30
	m, _ := newTestManager(t, state)

	nextDay := noon.Add(24 * time.Hour)
	ok, reason := m.CanTrade(nextDay, false)
	assert.True(t, ok, reason)
	assert.Zero(t, m.State().DailyPnL)
	assert.Zero(t, m.State().DailyTrades)
	assert.Equal(t, 30, m.State().TotalTrades) // lifetime counters survive
	assert.Equal(t, "2025-06-16", m.State().LastResetDate)
}

func TestRecordTradeStreaks(t *testing.T) {
	m, p := newTestManager(t, freshState())

	m.RecordTrade(noon, -10, false)
	m.RecordTrade(noon, -5, false)
	assert.Equal(t, 2, m.State().ConsecutiveLosses)
	assert.Equal(t, -15.0, m.State().DailyPnL)

	m.RecordTrade(noon, 20, true)
	assert.Zero(t, m.State().ConsecutiveLosses)
	assert.Equal(t, 1, m.State().WinningTrades)
	assert.Equal(t, 2, m.State().LosingTrades)
	assert.Equal(t, 3, m.State().TotalTrades)
	assert.Len(t, p.saves, 3) // every mutation persisted
}

// Five losing trades with a limit of three: the third loss arms the gate;
// every later attempt is denied until the pause window elapses, and the
// streak only resets once the pause clears.
func TestLossStreakScenario(t *testing.T) {
	m, _ := newTestManager(t, freshState())
	cfg := testConfig()

	at := noon
	for i := 0; i < 3; i++ {
		m.RecordTrade(at, -5, false)
		at = at.Add(time.Hour)
	}

	ok, _ := m.CanTrade(at, false)
	assert.False(t, ok)
	pausedUntil := m.State().PausedUntil
	require.False(t, pausedUntil.IsZero())

	// Still inside the pause window.
	ok, reason := m.CanTrade(pausedUntil.Add(-time.Minute), false)
	assert.False(t, ok)
	assert.Contains(t, reason, "paused")

	// Past the window: allowed again, streak forgiven.
	after := pausedUntil.Add(time.Duration(cfg.CooldownSec) * time.Second)
	ok, reason = m.CanTrade(after, false)
	assert.True(t, ok, reason)
	assert.Zero(t, m.State().ConsecutiveLosses)

	// The next outcome stands on its own.
	m.RecordTrade(after, -5, false)
	assert.Equal(t, 1, m.State().ConsecutiveLosses)
}
