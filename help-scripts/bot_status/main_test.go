package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"perp-pilot/models"
)

func TestRenderFlatAccount(t *testing.T) {
	out := render(statusResponse{
		Time:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Symbol: "BTCUSDT",
		Paper:  true,
	})
	if !strings.Contains(out, "Symbol: BTCUSDT (paper)") {
		t.Errorf("missing symbol/mode line:\n%s", out)
	}
	if !strings.Contains(out, "Position: none") {
		t.Errorf("flat account must report no position:\n%s", out)
	}
	if !strings.Contains(out, "Risk: no ledger yet") {
		t.Errorf("missing risk fallback:\n%s", out)
	}
}

func TestRenderOpenPositionWithTrailing(t *testing.T) {
	out := render(statusResponse{
		Symbol: "BTCUSDT",
		Position: &models.Position{
			Side:           models.Long,
			EntryPrice:     100,
			SizeCoins:      2,
			StopLoss:       98,
			TakeProfit:     106,
			TrailingActive: true,
			TrailingStop:   101.5,
			HighestPrice:   102.6,
			EntryTime:      time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC),
		},
		Risk: &models.RiskState{
			DailyPnL:          3.5,
			DailyTrades:       2,
			ConsecutiveLosses: 0,
			LastResetDate:     "2025-06-15",
		},
		WinRate: 0.5,
	})
	if !strings.Contains(out, "side=LONG") {
		t.Errorf("missing position line:\n%s", out)
	}
	if !strings.Contains(out, "Trailing: active at 101.5000") {
		t.Errorf("missing trailing line:\n%s", out)
	}
	if !strings.Contains(out, "winRate=50%") {
		t.Errorf("missing win rate:\n%s", out)
	}
}

func TestFetchHitsStatusPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT"}`))
	}))
	defer srv.Close()

	body, err := fetch(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(body), "BTCUSDT") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := fetch(srv.URL, time.Second); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
