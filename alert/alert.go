package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"perp-pilot/logging"
	"perp-pilot/models"
)

const (
	colorGreen  = 0x2ecc71
	colorRed    = 0xe74c3c
	colorYellow = 0xf1c40f
	colorGray   = 0x95a5a6
)

// Webhook posts trading events to a Discord-compatible webhook. Notify never
// blocks the caller; delivery runs on its own goroutine and failures are only
// logged.
type Webhook struct {
	url    string
	logger logging.LoggerInterface
	http   *http.Client
}

// NewWebhook creates a webhook sink. An empty URL disables delivery;
// Notify becomes a no-op.
func NewWebhook(url string, logger logging.LoggerInterface) *Webhook {
	return &Webhook{
		url:    url,
		logger: logger,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify queues an event for delivery and returns immediately.
func (w *Webhook) Notify(event models.Event) {
	if w.url == "" {
		return
	}
	go func() {
		if err := w.send(event); err != nil {
			w.logger.Warning("alert: delivery failed: %v", err)
		}
	}()
}

func (w *Webhook) send(event models.Event) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title(event),
				"description": describe(event),
				"color":       color(event),
				"footer":      map[string]string{"text": "perp-pilot " + event.ID},
				"timestamp":   event.Time.Format(time.RFC3339),
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := w.http.Post(w.url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func title(e models.Event) string {
	switch e.Type {
	case models.EventTradeOpen:
		return fmt.Sprintf("OPEN %s %s", e.Side, e.Symbol)
	case models.EventTradeClose:
		return fmt.Sprintf("CLOSE %s %s (%s)", e.Side, e.Symbol, e.Reason)
	case models.EventStateLoss:
		return "STATE LOSS " + e.Symbol
	default:
		return fmt.Sprintf("%s %s", e.Type, e.Symbol)
	}
}

func describe(e models.Event) string {
	var buf bytes.Buffer
	if e.Price > 0 {
		fmt.Fprintf(&buf, "price %.4f\n", e.Price)
	}
	if e.Size > 0 {
		fmt.Fprintf(&buf, "size %.6f\n", e.Size)
	}
	if e.Confidence > 0 {
		fmt.Fprintf(&buf, "confidence %.0f\n", e.Confidence)
	}
	if e.Type == models.EventTradeClose {
		fmt.Fprintf(&buf, "pnl %.4f USD\n", e.PnL)
	}
	if e.Reason != "" {
		fmt.Fprintf(&buf, "reason: %s\n", e.Reason)
	}
	fmt.Fprintf(&buf, "day pnl %.4f | trades %d | streak %d",
		e.Risk.DailyPnL, e.Risk.DailyTrades, e.Risk.ConsecutiveLosses)
	return buf.String()
}

func color(e models.Event) int {
	switch e.Type {
	case models.EventTradeOpen:
		return colorYellow
	case models.EventTradeClose:
		if e.PnL >= 0 {
			return colorGreen
		}
		return colorRed
	case models.EventStateLoss:
		return colorRed
	default:
		return colorGray
	}
}
