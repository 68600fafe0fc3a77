// Package status serves a local diagnostics endpoint. It reads the persisted
// snapshots rather than live loop state, so it never races the trading
// goroutine and keeps working across restarts.
package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"perp-pilot/config"
	"perp-pilot/logging"
	"perp-pilot/models"
	"perp-pilot/store"
)

type response struct {
	Time     time.Time         `json:"time"`
	Symbol   string            `json:"symbol"`
	Paper    bool              `json:"paper"`
	Position *models.Position  `json:"position,omitempty"`
	Risk     *models.RiskState `json:"risk,omitempty"`
	WinRate  float64           `json:"winRate"`
}

// StartServer starts the status listener on cfg.StatusAddr, or returns nil
// when disabled.
func StartServer(cfg *config.Config, st *store.Store, logger logging.LoggerInterface) *http.Server {
	if cfg.StatusAddr == "" {
		logger.Info("status: endpoint disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := response{
			Time:   time.Now().UTC(),
			Symbol: cfg.Symbol,
			Paper:  cfg.PaperMode,
		}

		if pos, err := st.LoadPosition(); err == nil {
			resp.Position = pos
		} else {
			logger.Warning("status: position snapshot unreadable: %v", err)
		}
		if state, found, err := st.LoadRiskState(); err == nil && found {
			resp.Risk = &state
			resp.WinRate = state.WinRate()
		} else if err != nil {
			logger.Warning("status: risk snapshot unreadable: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warning("status: encode response: %v", err)
		}
	})

	server := &http.Server{Addr: cfg.StatusAddr, Handler: mux}
	go func() {
		logger.Info("status: listening on %s", cfg.StatusAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status: server stopped: %v", err)
		}
	}()
	return server
}
