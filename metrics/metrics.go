// Package metrics exposes the decision engine's operational counters in
// Prometheus text exposition format at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perp-pilot/logging"
)

var (
	mtxEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_evaluations_total",
			Help: "Signal evaluations by outcome (entered|no_signal|risk_denied|data_error)",
		},
		[]string{"outcome"},
	)

	mtxRiskDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_risk_denials_total",
			Help: "Risk gate denials by reason",
		},
		[]string{"reason"},
	)

	mtxExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_exits_total",
			Help: "Position exits by reason and side",
		},
		[]string{"reason", "side"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_trades_total",
			Help: "Closed trades by result (win|loss)",
		},
		[]string{"result"},
	)

	gaugeEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pilot_equity_usd",
			Help: "Last observed account balance in USD",
		},
	)

	gaugeDailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pilot_daily_pnl_usd",
			Help: "Realized PnL for the current trading day in USD",
		},
	)

	gaugeConsecLosses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pilot_consecutive_losses",
			Help: "Current losing streak length",
		},
	)

	gaugeTrendScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pilot_trend_score",
			Help: "Last trend score per timeframe; the combined score uses label \"weighted\"",
		},
		[]string{"timeframe"},
	)
)

func init() {
	prometheus.MustRegister(mtxEvaluations, mtxRiskDenials, mtxExits, mtxTrades)
	prometheus.MustRegister(gaugeEquity, gaugeDailyPnL, gaugeConsecLosses, gaugeTrendScore)
}

func IncEvaluation(outcome string)            { mtxEvaluations.WithLabelValues(outcome).Inc() }
func IncRiskDenial(reason string)             { mtxRiskDenials.WithLabelValues(reason).Inc() }
func IncExit(reason, side string)             { mtxExits.WithLabelValues(reason, side).Inc() }
func IncTrade(result string)                  { mtxTrades.WithLabelValues(result).Inc() }
func SetEquity(usd float64)                   { gaugeEquity.Set(usd) }
func SetDailyPnL(usd float64)                 { gaugeDailyPnL.Set(usd) }
func SetConsecLosses(n int)                   { gaugeConsecLosses.Set(float64(n)) }
func SetTrendScore(timeframe string, v float64) { gaugeTrendScore.WithLabelValues(timeframe).Set(v) }

// Serve starts the metrics HTTP listener on addr. It runs until the process
// exits; callers launch it on its own goroutine.
func Serve(addr string, logger logging.LoggerInterface) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics: listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics: server stopped: %v", err)
	}
}
