package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
)

// Client is a Bybit v5 linear-perpetual REST client implementing both the
// market-data and execution provider interfaces.
type Client struct {
	cfg    *config.Config
	logger logging.LoggerInterface
	http   *http.Client

	lotMu     sync.Mutex
	lotLoaded bool
	minQty    float64
	qtyStep   float64
}

// NewClient creates a REST client.
func NewClient(cfg *config.Config, logger logging.LoggerInterface) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second},
	}
}

// SignRequest signs a REST payload the Bybit v5 way.
func (c *Client) SignRequest(timestamp, payload string) string {
	base := timestamp + c.cfg.APIKey + c.cfg.RecvWindow + payload
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) get(ctx context.Context, path string, q url.Values, signed bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.RESTHost+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if signed {
		c.sign(req, q.Encode())
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.RESTHost+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(raw))
	return c.do(req, path, out)
}

func (c *Client) sign(req *http.Request, payload string) {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.cfg.RecvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", c.SignRequest(ts, payload))
}

func (c *Client) do(req *http.Request, path string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%s: parse response: %w", path, err)
	}
	if envelope.RetCode != 0 {
		return fmt.Errorf("%s: API error %d: %s", path, envelope.RetCode, envelope.RetMsg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: parse result: %w", path, err)
	}
	return nil
}

// GetPrice returns the current mark price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/tickers", q, false, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("tickers: empty list for %s", symbol)
	}
	price := parseFloat(result.List[0].MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("tickers: bad mark price %q", result.List[0].MarkPrice)
	}
	return price, nil
}

// GetCandles returns up to barCount closed candles for a timeframe (Bybit
// interval string, minutes), oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, barCount int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(barCount))

	var result struct {
		List [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
	}
	if err := c.get(ctx, "/v5/market/kline", q, false, &result); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("kline: short row len=%d", len(row))
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("kline: bad start time %q: %w", row[0], err)
		}
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(ms).UTC(),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}
	return candles, nil
}

// GetFundingRate returns the latest funding rate, 0 when the venue reports
// nothing.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("limit", "1")

	var result struct {
		List []struct {
			FundingRate string `json:"fundingRate"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/funding/history", q, false, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, nil
	}
	return parseFloat(result.List[0].FundingRate), nil
}

// GetBalance returns the total available USDT balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", "USDT")

	var result struct {
		List []struct {
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/account/wallet-balance", q, true, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("wallet-balance: empty list")
	}
	return parseFloat(result.List[0].TotalAvailableBalance), nil
}

// OpenPosition places a market order and returns the fill price reported by
// the position list (falls back to the current mark price when the venue has
// not settled the average yet).
func (c *Client) OpenPosition(ctx context.Context, symbol string, side models.Side, sizeCoins float64) (float64, error) {
	qty, err := c.roundedQty(ctx, symbol, sizeCoins)
	if err != nil {
		return 0, err
	}

	if err := c.placeMarket(ctx, symbol, orderSide(side), qty, false); err != nil {
		return 0, err
	}

	if _, _, entry, err := c.OpenSize(ctx, symbol); err == nil && entry > 0 {
		return entry, nil
	}
	return c.GetPrice(ctx, symbol)
}

// ClosePosition unwinds the open position with a reduce-only market order.
func (c *Client) ClosePosition(ctx context.Context, symbol string) (float64, error) {
	side, size, _, err := c.OpenSize(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, fmt.Errorf("close: no open position for %s", symbol)
	}

	// Unwinding trades the opposite side of the held position.
	if err := c.placeMarket(ctx, symbol, orderSide(side.Opposite()), size, true); err != nil {
		return 0, err
	}
	return c.GetPrice(ctx, symbol)
}

// OpenSize reports the exchange-side position: size 0 means flat.
func (c *Client) OpenSize(ctx context.Context, symbol string) (models.Side, float64, float64, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/position/list", q, true, &result); err != nil {
		return "", 0, 0, err
	}
	for _, p := range result.List {
		size := parseFloat(p.Size)
		if size > 0 {
			return models.NormalizeSide(p.Side), size, parseFloat(p.AvgPrice), nil
		}
	}
	return "", 0, 0, nil
}

// GetInstrumentInfo returns lot-size constraints used to round order sizes.
func (c *Client) GetInstrumentInfo(ctx context.Context, symbol string) (minQty, qtyStep float64, err error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var result struct {
		List []struct {
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/v5/market/instruments-info", q, false, &result); err != nil {
		return 0, 0, err
	}
	if len(result.List) == 0 {
		return 0, 0, fmt.Errorf("instruments-info: empty list for %s", symbol)
	}
	it := result.List[0]
	return parseFloat(it.LotSizeFilter.MinOrderQty), parseFloat(it.LotSizeFilter.QtyStep), nil
}

// roundedQty floors the sized quantity to the instrument's lot step and
// rejects sub-minimum orders before they ever reach the venue.
func (c *Client) roundedQty(ctx context.Context, symbol string, qty float64) (float64, error) {
	c.lotMu.Lock()
	loaded, minQty, step := c.lotLoaded, c.minQty, c.qtyStep
	c.lotMu.Unlock()

	if !loaded {
		var err error
		minQty, step, err = c.GetInstrumentInfo(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("lot size: %w", err)
		}
		c.lotMu.Lock()
		c.lotLoaded, c.minQty, c.qtyStep = true, minQty, step
		c.lotMu.Unlock()
	}

	rounded := RoundQuantity(qty, step)
	if rounded < minQty {
		return 0, fmt.Errorf("qty %f below instrument minimum %f", rounded, minQty)
	}
	return rounded, nil
}

// orderSide maps a trade side to the venue's order side.
func orderSide(side models.Side) string {
	if side == models.Short {
		return "Sell"
	}
	return "Buy"
}

func (c *Client) placeMarket(ctx context.Context, symbol, side string, qty float64, reduceOnly bool) error {
	c.lotMu.Lock()
	step := c.qtyStep
	c.lotMu.Unlock()

	qtyStr := strconv.FormatFloat(qty, 'f', -1, 64)
	if step > 0 {
		qtyStr = FormatQuantity(qty, step)
	}
	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         qtyStr,
		"positionIdx": 0,
	}
	if reduceOnly {
		body["reduceOnly"] = true
	}
	c.logger.Info("exchange: market %s %s qty=%s reduceOnly=%v", side, symbol, qtyStr, reduceOnly)
	return c.post(ctx, "/v5/order/create", body, nil)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
