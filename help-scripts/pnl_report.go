// Command pnl_report pulls closed-PnL records from Bybit for the configured
// account and prints a per-day summary. Run it from the repo root so it
// shares the bot's .env credentials.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"perp-pilot/config"
	"perp-pilot/exchange"
	"perp-pilot/logging"
)

type closedTrade struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ClosedPnl string `json:"closedPnl"`
	Qty       string `json:"qty"`
	AvgEntry  string `json:"avgEntryPrice"`
	AvgExit   string `json:"avgExitPrice"`
	Updated   string `json:"updatedTime"`
}

func main() {
	days := flag.Int("days", 7, "lookback window in days")
	symbolFlag := flag.String("symbol", "", "symbol override, defaults to config")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *symbolFlag != "" {
		cfg.Symbol = *symbolFlag
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		log.Fatal("BYBIT_API_KEY / BYBIT_API_SECRET are required")
	}

	client := exchange.NewClient(cfg, logging.Nop{})
	end := time.Now()
	start := end.Add(-time.Duration(*days) * 24 * time.Hour)

	trades, err := fetchClosedPnl(client, cfg, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		log.Fatalf("fetch closed pnl: %v", err)
	}
	if len(trades) == 0 {
		fmt.Printf("no closed trades for %s in the last %d days\n", cfg.Symbol, *days)
		return
	}
	printSummary(trades)
}

func fetchClosedPnl(client *exchange.Client, cfg *config.Config, start, end int64) ([]closedTrade, error) {
	var all []closedTrade
	cursor := ""
	for {
		page, next, err := fetchPage(client, cfg, start, end, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" || len(page) == 0 {
			return all, nil
		}
		cursor = next
	}
}

func fetchPage(client *exchange.Client, cfg *config.Config, start, end int64, cursor string) ([]closedTrade, string, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", cfg.Symbol)
	q.Set("startTime", strconv.FormatInt(start, 10))
	q.Set("endTime", strconv.FormatInt(end, 10))
	q.Set("limit", "200")
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequest(http.MethodGet, cfg.RESTHost+"/v5/position/closed-pnl?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("X-BAPI-API-KEY", cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", cfg.RecvWindow)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", client.SignRequest(ts, q.Encode()))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var envelope struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List           []closedTrade `json:"list"`
			NextPageCursor string        `json:"nextPageCursor"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, "", err
	}
	if envelope.RetCode != 0 {
		return nil, "", fmt.Errorf("retCode=%d retMsg=%s", envelope.RetCode, envelope.RetMsg)
	}
	return envelope.Result.List, envelope.Result.NextPageCursor, nil
}

func printSummary(trades []closedTrade) {
	type dayStats struct {
		pnl    float64
		trades int
		wins   int
	}
	byDay := map[string]*dayStats{}
	var total dayStats

	for _, tr := range trades {
		pnl := parseFloat(tr.ClosedPnl)
		day := parseTimeMs(tr.Updated).Format("2006-01-02")
		stats := byDay[day]
		if stats == nil {
			stats = &dayStats{}
			byDay[day] = stats
		}
		stats.pnl += pnl
		stats.trades++
		total.pnl += pnl
		total.trades++
		if pnl > 0 {
			stats.wins++
			total.wins++
		}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	w := os.Stdout
	fmt.Fprintf(w, "%-12s %10s %8s %8s\n", "day", "pnl", "trades", "wins")
	for _, day := range days {
		s := byDay[day]
		fmt.Fprintf(w, "%-12s %10.4f %8d %8d\n", day, s.pnl, s.trades, s.wins)
	}
	fmt.Fprintf(w, "%-12s %10.4f %8d %8d (win rate %.0f%%)\n",
		"TOTAL", total.pnl, total.trades, total.wins,
		100*float64(total.wins)/float64(total.trades))
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func parseTimeMs(s string) time.Time {
	ms, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if ms > 1e12 {
		return time.UnixMilli(ms)
	}
	return time.Unix(ms, 0)
}
