package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perp-pilot/config"
	"perp-pilot/logging"
)

const (
	streamPingInterval = 20 * time.Second
	streamReadWait     = 60 * time.Second
	streamRedialWait   = 5 * time.Second
)

// Stream maintains a public WebSocket subscription to the symbol ticker and
// caches the latest mark price. The trading loop still polls REST; the stream
// is a low-latency supplement for exit checks.
type Stream struct {
	cfg    *config.Config
	logger logging.LoggerInterface

	connMu sync.Mutex
	conn   *websocket.Conn

	priceMu   sync.RWMutex
	markPrice float64
	updatedAt time.Time
}

// NewStream creates a ticker stream for the configured symbol.
func NewStream(cfg *config.Config, logger logging.LoggerInterface) *Stream {
	return &Stream{cfg: cfg, logger: logger}
}

// Run connects and consumes ticker updates until the context is cancelled,
// redialing on any read failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.connect(); err != nil {
			s.logger.Warning("stream: connect failed: %v", err)
		} else {
			s.readLoop(ctx)
		}
		s.close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRedialWait):
		}
	}
}

// LastPrice returns the cached mark price and when it was last updated. A
// zero price means no tick has arrived yet.
func (s *Stream) LastPrice() (float64, time.Time) {
	s.priceMu.RLock()
	defer s.priceMu.RUnlock()
	return s.markPrice, s.updatedAt
}

func (s *Stream) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.WSPublic, nil)
	if err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadWait))
		return nil
	})

	if err := conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"tickers." + s.cfg.Symbol},
	}); err != nil {
		conn.Close()
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.logger.Info("stream: subscribed to tickers.%s", s.cfg.Symbol)
	return nil
}

func (s *Stream) readLoop(ctx context.Context) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	done := make(chan struct{})
	defer close(done)

	go s.pingLoop(ctx, done)

	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warning("stream: read error: %v", err)
			return
		}
		s.handleMessage(raw)
	}
}

func (s *Stream) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.close()
			return
		case <-done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleMessage(raw []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			MarkPrice string `json:"markPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Topic == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Data.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	s.priceMu.Lock()
	s.markPrice = price
	s.updatedAt = time.Now()
	s.priceMu.Unlock()
}

func (s *Stream) close() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
