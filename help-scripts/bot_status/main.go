// Command bot_status queries the running bot's /status endpoint and prints a
// compact snapshot of the position and risk ledger.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"perp-pilot/models"
)

type statusResponse struct {
	Time     time.Time         `json:"time"`
	Symbol   string            `json:"symbol"`
	Paper    bool              `json:"paper"`
	Position *models.Position  `json:"position"`
	Risk     *models.RiskState `json:"risk"`
	WinRate  float64           `json:"winRate"`
}

func main() {
	defaultAddr := os.Getenv("STATUS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6061"
	}

	addr := flag.String("addr", defaultAddr, "status server address or URL")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout")
	flag.Parse()

	body, err := fetch(strings.TrimSpace(*addr), *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(render(payload))
}

func fetch(addr string, timeout time.Duration) ([]byte, error) {
	if addr == "" {
		return nil, fmt.Errorf("status address is empty")
	}
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/status"

	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request error: %s\n%s", resp.Status, string(body))
	}
	return body, nil
}

func render(payload statusResponse) string {
	var b strings.Builder

	mode := "live"
	if payload.Paper {
		mode = "paper"
	}
	fmt.Fprintf(&b, "Time: %s\n", formatTime(payload.Time))
	fmt.Fprintf(&b, "Symbol: %s (%s)\n", payload.Symbol, mode)

	if payload.Position == nil {
		fmt.Fprintln(&b, "Position: none")
	} else {
		p := payload.Position
		fmt.Fprintf(&b, "Position: side=%s size=%.6f entry=%.4f SL=%.4f TP=%.4f opened=%s\n",
			p.Side, p.SizeCoins, p.EntryPrice, p.StopLoss, p.TakeProfit, formatTime(p.EntryTime))
		if p.TrailingActive {
			fmt.Fprintf(&b, "Trailing: active at %.4f (high=%.4f low=%.4f)\n",
				p.TrailingStop, p.HighestPrice, p.LowestPrice)
		}
	}

	if payload.Risk == nil {
		fmt.Fprintln(&b, "Risk: no ledger yet")
	} else {
		r := payload.Risk
		fmt.Fprintf(&b, "Risk: day %s pnl=%.4f trades=%d streak=%d winRate=%.0f%%\n",
			r.LastResetDate, r.DailyPnL, r.DailyTrades, r.ConsecutiveLosses, 100*payload.WinRate)
		if !r.PausedUntil.IsZero() {
			fmt.Fprintf(&b, "Paused until: %s\n", formatTime(r.PausedUntil))
		}
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}
