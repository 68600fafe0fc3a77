package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"perp-pilot/interfaces"
	"perp-pilot/logging"
	"perp-pilot/models"
)

// Paper is an in-memory execution provider that fills orders at the live mark
// price. Market data still comes from the real venue; only order flow and the
// balance are simulated.
type Paper struct {
	market interfaces.MarketData
	logger logging.LoggerInterface

	mu      sync.Mutex
	balance float64
	side    models.Side
	size    float64
	entry   float64
}

// NewPaper creates a paper execution provider seeded with startUSD.
func NewPaper(market interfaces.MarketData, logger logging.LoggerInterface, startUSD float64) *Paper {
	return &Paper{market: market, logger: logger, balance: startUSD}
}

func (p *Paper) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) OpenPosition(ctx context.Context, symbol string, side models.Side, sizeCoins float64) (float64, error) {
	price, err := p.market.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("paper fill: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size > 0 {
		return 0, fmt.Errorf("paper: position already open")
	}
	p.side = side
	p.size = sizeCoins
	p.entry = price
	p.logger.Info("paper: fill %s open %s %.8f @ %.4f", uuid.NewString(), side, sizeCoins, price)
	return price, nil
}

func (p *Paper) ClosePosition(ctx context.Context, symbol string) (float64, error) {
	price, err := p.market.GetPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("paper fill: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size == 0 {
		return 0, fmt.Errorf("paper: no open position")
	}
	pnl := (price - p.entry) * p.size
	if p.side == models.Short {
		pnl = -pnl
	}
	p.balance += pnl
	p.logger.Info("paper: fill %s close %s %.8f @ %.4f pnl=%.4f balance=%.4f",
		uuid.NewString(), p.side, p.size, price, pnl, p.balance)
	p.side, p.size, p.entry = "", 0, 0
	return price, nil
}

func (p *Paper) OpenSize(ctx context.Context, symbol string) (models.Side, float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.side, p.size, p.entry, nil
}
