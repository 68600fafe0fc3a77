package interfaces

import (
	"context"

	"perp-pilot/models"
)

// MarketData is the candle/price/funding provider the decision engine
// consumes. Implementations must respect the context deadline; the loop
// treats a failed call as a skipped tick, never as fatal.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, timeframe string, barCount int) ([]models.Candle, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
}

// Execution places and unwinds market orders and reports account balance.
type Execution interface {
	GetBalance(ctx context.Context) (float64, error)
	// OpenPosition submits a market order and returns the fill price.
	OpenPosition(ctx context.Context, symbol string, side models.Side, sizeCoins float64) (float64, error)
	// ClosePosition unwinds the open position at market and returns the fill price.
	ClosePosition(ctx context.Context, symbol string) (float64, error)
	// OpenSize reports the exchange-side view of the position for startup
	// reconciliation: size is 0 when flat.
	OpenSize(ctx context.Context, symbol string) (side models.Side, size, entry float64, err error)
}

// Alerter receives structured trading events. Implementations must never
// block the trading loop; delivery is best effort.
type Alerter interface {
	Notify(event models.Event)
}
