package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TrendConfig tunes the multi-timeframe trend engine. Longer timeframes must
// be listed last in Timeframes; Weights pairs with Timeframes by index.
type TrendConfig struct {
	Timeframes []string  `yaml:"timeframes"` // e.g. ["15", "60", "240"] in minutes, fastest first
	Weights    []float64 `yaml:"weights"`    // longest timeframe ~2-3x the shortest

	EMAFast int `yaml:"emaFast"` // fast EMA period for stacking
	EMAMid  int `yaml:"emaMid"`  // mid EMA period
	EMASlow int `yaml:"emaSlow"` // slow EMA period

	StructureLookback int     `yaml:"structureLookback"` // bars for swing-structure halves
	StrongThreshold   float64 `yaml:"strongThreshold"`   // combined |score| needed to allow a direction
	CandleCount       int     `yaml:"candleCount"`       // bars fetched per timeframe
}

// SignalConfig tunes the entry-timeframe signal generator. Confidence is a
// 0-100 sum of increments; MinConfidence is the floor below which no signal
// is emitted.
type SignalConfig struct {
	Timeframe   string `yaml:"timeframe"`   // entry timeframe in minutes
	CandleCount int    `yaml:"candleCount"` // bars fetched for entry evaluation

	EMAFast int `yaml:"emaFast"` // local alignment fast EMA
	EMASlow int `yaml:"emaSlow"` // local alignment slow EMA

	PullbackInnerPct float64 `yaml:"pullbackInnerPct"` // distance to slow EMA scoring the full pullback bonus
	PullbackOuterPct float64 `yaml:"pullbackOuterPct"` // beyond this distance the entry is too extended

	RSIPeriod       int     `yaml:"rsiPeriod"`
	RSIPullbackLow  float64 `yaml:"rsiPullbackLow"`  // pullback zone lower bound for longs
	RSIPullbackHigh float64 `yaml:"rsiPullbackHigh"` // pullback zone upper bound for longs
	RSIExhausted    float64 `yaml:"rsiExhausted"`    // RSI beyond this vetoes a long (mirrored for shorts)

	VolumeLookback int     `yaml:"volumeLookback"`
	VolumeSurge    float64 `yaml:"volumeSurge"` // ratio counted as a genuine surge

	MinConfidence float64 `yaml:"minConfidence"` // floor on summed confidence, 0-100

	StopLossPct   float64 `yaml:"stopLossPct"`   // stop distance from entry, fraction (0.02 = 2%)
	TakeProfitPct float64 `yaml:"takeProfitPct"` // target distance from entry, fraction

	BreakoutLookback int     `yaml:"breakoutLookback"` // bars defining the breakout range
	FundingWeight    float64 `yaml:"fundingWeight"`    // confidence points per bp of funding edge
}

// RiskConfig tunes the risk gatekeeper. All monetary values are USD.
type RiskConfig struct {
	RiskFraction       float64 `yaml:"riskFraction"`       // equity fraction lost when the stop hits (0.01 = 1%)
	Leverage           float64 `yaml:"leverage"`           // notional multiple applied to margin
	DailyLossLimit     float64 `yaml:"dailyLossLimit"`     // deny once daily PnL <= -limit
	MaxDailyTrades     int     `yaml:"maxDailyTrades"`     // deny once count reached
	MaxConsecLosses    int     `yaml:"maxConsecLosses"`    // streak that triggers the pause
	PauseMinutes       int     `yaml:"pauseMinutes"`       // cooldown after a loss streak
	CooldownSec        int     `yaml:"cooldownSec"`        // minimum gap between entries, seconds
	MinOrderUSD        float64 `yaml:"minOrderUsd"`        // smallest viable order
	MaxBalanceFraction float64 `yaml:"maxBalanceFraction"` // cap on size as a fraction of balance
	Timezone           string  `yaml:"timezone"`           // local day boundary for daily counters
}

// ExitConfig tunes the position exit machine. Percentages are fractions of
// entry price.
type ExitConfig struct {
	TrailActivationPct float64 `yaml:"trailActivationPct"` // unrealized profit that arms the trailing stop (0.02 = 2%)
	TrailDistancePct   float64 `yaml:"trailDistancePct"`   // trailing stop distance behind the favorable extreme
	MaxHoldHours       int     `yaml:"maxHoldHours"`       // time exit kicks in past this age
	TimeExitMinProfit  float64 `yaml:"timeExitMinProfit"`  // time exit only fires in at least this much profit
}

// Config is the root configuration, constructed once at startup and passed by
// reference. It is never mutated at runtime.
type Config struct {
	Symbol string `yaml:"symbol"`

	Trend  TrendConfig  `yaml:"trend"`
	Signal SignalConfig `yaml:"signal"`
	Risk   RiskConfig   `yaml:"risk"`
	Exit   ExitConfig   `yaml:"exit"`

	// Exchange connection
	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	RESTHost   string `yaml:"restHost"`
	WSPublic   string `yaml:"wsPublic"`
	RecvWindow string `yaml:"recvWindow"`
	PaperMode  bool   `yaml:"paperMode"` // simulate fills instead of touching the exchange
	PaperUSD   float64 `yaml:"paperUsd"` // starting paper balance

	// Orchestrator cadences
	PositionIntervalSec int `yaml:"positionIntervalSec"` // fast cadence, exit checks
	SignalIntervalSec   int `yaml:"signalIntervalSec"`   // slow cadence, entry evaluation
	RequestTimeoutSec   int `yaml:"requestTimeoutSec"`   // per provider call

	// Persistence
	StateDir string `yaml:"stateDir"`

	// Alerting
	WebhookURL string `yaml:"-"`

	// Metrics
	MetricsAddr string `yaml:"metricsAddr"`

	// Diagnostics status endpoint, empty disables it
	StatusAddr string `yaml:"statusAddr"`

	// Logging
	LogFile       string `yaml:"logFile"`
	LogMaxSize    int    `yaml:"logMaxSize"` // megabytes
	LogMaxBackups int    `yaml:"logMaxBackups"`
	LogMaxAge     int    `yaml:"logMaxAge"` // days
	LogCompress   bool   `yaml:"logCompress"`
	LogLevel      int    `yaml:"logLevel"` // 0=DEBUG 1=INFO 2=WARNING 3=ERROR

	// Daemon
	DaemonMode bool `yaml:"-"`
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE) and environment variables, in that precedence order. A .env
// file in the working directory is loaded first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := applyYAML(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Symbol: "BTCUSDT",
		Trend: TrendConfig{
			Timeframes:        []string{"15", "60", "240"},
			Weights:           []float64{1.0, 1.5, 2.5},
			EMAFast:           9,
			EMAMid:            21,
			EMASlow:           50,
			StructureLookback: 20,
			StrongThreshold:   40,
			CandleCount:       120,
		},
		Signal: SignalConfig{
			Timeframe:        "5",
			CandleCount:      100,
			EMAFast:          9,
			EMASlow:          21,
			PullbackInnerPct: 0.3,
			PullbackOuterPct: 1.5,
			RSIPeriod:        14,
			RSIPullbackLow:   35,
			RSIPullbackHigh:  55,
			RSIExhausted:     70,
			VolumeLookback:   20,
			VolumeSurge:      1.5,
			MinConfidence:    70,
			StopLossPct:      0.02,
			TakeProfitPct:    0.06,
			BreakoutLookback: 20,
			FundingWeight:    0.5,
		},
		Risk: RiskConfig{
			RiskFraction:       0.01,
			Leverage:           5,
			DailyLossLimit:     50,
			MaxDailyTrades:     10,
			MaxConsecLosses:    3,
			PauseMinutes:       240,
			CooldownSec:        900,
			MinOrderUSD:        10,
			MaxBalanceFraction: 0.15,
			Timezone:           "UTC",
		},
		Exit: ExitConfig{
			TrailActivationPct: 0.02,
			TrailDistancePct:   0.01,
			MaxHoldHours:       48,
			TimeExitMinProfit:  0.005,
		},
		RESTHost:         "https://api-demo.bybit.com",
		WSPublic:         "wss://stream-demo.bybit.com/v5/public/linear",
		RecvWindow:       "5000",
		PaperMode:        true,
		PaperUSD:         1000,
		PositionIntervalSec: 10,
		SignalIntervalSec:   300,
		RequestTimeoutSec:   10,
		StateDir:         "state",
		MetricsAddr:      "127.0.0.1:9185",
		LogFile:          "logs/perp_pilot.log",
		LogMaxSize:       10,
		LogMaxBackups:    5,
		LogMaxAge:        30,
		LogCompress:      true,
		LogLevel:         1,
	}
}

func applyYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

func applyEnv(cfg *Config) {
	cfg.APIKey = getEnv("BYBIT_API_KEY", cfg.APIKey)
	cfg.APISecret = getEnv("BYBIT_API_SECRET", cfg.APISecret)
	cfg.RESTHost = getEnv("BYBIT_REST_HOST", cfg.RESTHost)
	cfg.WSPublic = getEnv("BYBIT_WS_PUBLIC", cfg.WSPublic)
	cfg.Symbol = getEnv("SYMBOL", cfg.Symbol)
	cfg.WebhookURL = getEnv("ALERT_WEBHOOK_URL", cfg.WebhookURL)
	cfg.StateDir = getEnv("STATE_DIR", cfg.StateDir)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.StatusAddr = getEnv("STATUS_ADDR", cfg.StatusAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.PaperMode = getEnvAsBool("PAPER_MODE", cfg.PaperMode)
	cfg.PaperUSD = getEnvAsFloat("PAPER_USD", cfg.PaperUSD)
	cfg.DaemonMode = getEnvAsBool("DAEMON_MODE", cfg.DaemonMode)

	cfg.Risk.RiskFraction = getEnvAsFloat("RISK_FRACTION", cfg.Risk.RiskFraction)
	cfg.Risk.Leverage = getEnvAsFloat("LEVERAGE", cfg.Risk.Leverage)
	cfg.Risk.DailyLossLimit = getEnvAsFloat("DAILY_LOSS_LIMIT", cfg.Risk.DailyLossLimit)
	cfg.Risk.Timezone = getEnv("RISK_TIMEZONE", cfg.Risk.Timezone)

	cfg.Signal.MinConfidence = getEnvAsFloat("MIN_CONFIDENCE", cfg.Signal.MinConfidence)
}

func (c *Config) validate() error {
	if len(c.Trend.Timeframes) < 2 {
		return fmt.Errorf("trend: need at least two timeframes, got %d", len(c.Trend.Timeframes))
	}
	if len(c.Trend.Weights) != len(c.Trend.Timeframes) {
		return fmt.Errorf("trend: %d weights for %d timeframes", len(c.Trend.Weights), len(c.Trend.Timeframes))
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 0.1 {
		return fmt.Errorf("risk: riskFraction %.4f outside (0, 0.1]", c.Risk.RiskFraction)
	}
	if c.Risk.Leverage < 1 {
		return fmt.Errorf("risk: leverage %.1f below 1", c.Risk.Leverage)
	}
	if c.Signal.StopLossPct <= 0 || c.Signal.TakeProfitPct <= 0 {
		return fmt.Errorf("signal: stop/target offsets must be positive")
	}
	if c.Exit.TrailDistancePct <= 0 || c.Exit.TrailActivationPct <= 0 {
		return fmt.Errorf("exit: trailing percentages must be positive")
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("risk: bad timezone %q: %w", c.Risk.Timezone, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
