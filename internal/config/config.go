// Package config provides configuration management for the trading core.
// Configuration is loaded once at startup; the core treats the result as an
// immutable snapshot for the process lifetime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"flowtrader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Market    MarketConfig    `mapstructure:"market"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// MarketConfig holds snapshot store configuration.
type MarketConfig struct {
	DepthLevels    int           `mapstructure:"depth_levels"`
	TapeWindow     time.Duration `mapstructure:"tape_window"`
	VelocityWindow time.Duration `mapstructure:"velocity_window"`
	MaxSnapshotAge time.Duration `mapstructure:"max_snapshot_age"`
	CandleInterval time.Duration `mapstructure:"candle_interval"`
	SpreadClampMax float64       `mapstructure:"spread_clamp_max"`
	SpreadWindow   int           `mapstructure:"spread_window"`
}

// SignalConfig holds signal engine configuration.
type SignalConfig struct {
	ScoreThreshold    float64 `mapstructure:"score_threshold"`
	VelocityFloor     float64 `mapstructure:"velocity_floor"`
	VWAPDistanceMax   float64 `mapstructure:"vwap_distance_max"`
	LongImbalance     float64 `mapstructure:"long_imbalance"`
	ADXTrending       float64 `mapstructure:"adx_trending"`
	ADXRanging        float64 `mapstructure:"adx_ranging"`
	VolatilitySpike   float64 `mapstructure:"volatility_spike"`
	VolBaselinePeriod int     `mapstructure:"vol_baseline_period"`
}

// RiskConfig holds risk manager configuration.
type RiskConfig struct {
	BaseRiskFraction float64 `mapstructure:"base_risk_fraction"`
	MaxPositions     int     `mapstructure:"max_positions"`
	MaxCorrelated    int     `mapstructure:"max_correlated"`
	CorrelationLimit float64 `mapstructure:"correlation_limit"`
	ATRPeriod        int     `mapstructure:"atr_period"`
	VolLookback      int     `mapstructure:"vol_lookback"`
	MinRiskReward    float64 `mapstructure:"min_risk_reward"`
	StressTrigger    float64 `mapstructure:"stress_trigger"`
}

// ExecutionConfig holds execution engine configuration.
type ExecutionConfig struct {
	VenueWeights map[string]float64 `mapstructure:"venue_weights"`
	OrderTimeout time.Duration      `mapstructure:"order_timeout"`
	MaxSlippage  float64            `mapstructure:"max_slippage"`
	MaxRetries   int                `mapstructure:"max_retries"`
	IntentTTL    time.Duration      `mapstructure:"intent_ttl"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Dir        string `mapstructure:"dir"`
	DBPath     string `mapstructure:"db_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/flowtrader"
	}
	return filepath.Join(home, ".config", "flowtrader")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Market: MarketConfig{
			DepthLevels:    10,
			TapeWindow:     20 * time.Minute,
			VelocityWindow: time.Minute,
			MaxSnapshotAge: 5 * time.Second,
			CandleInterval: time.Minute,
			SpreadClampMax: 5.0,
			SpreadWindow:   300,
		},
		Signal: SignalConfig{
			ScoreThreshold:    2.5,
			VelocityFloor:     1.5,
			VWAPDistanceMax:   0.005,
			LongImbalance:     1.5,
			ADXTrending:       25.0,
			ADXRanging:        20.0,
			VolatilitySpike:   2.0,
			VolBaselinePeriod: 20,
		},
		Risk: RiskConfig{
			BaseRiskFraction: 0.0025,
			MaxPositions:     10,
			MaxCorrelated:    3,
			CorrelationLimit: 0.7,
			ATRPeriod:        14,
			VolLookback:      30,
			MinRiskReward:    1.5,
			StressTrigger:    2.0,
		},
		Execution: ExecutionConfig{
			VenueWeights: map[string]float64{
				string(models.VenueBinance):  0.6,
				string(models.VenueCoinbase): 0.3,
				string(models.VenueKraken):   0.1,
			},
			OrderTimeout: 5 * time.Second,
			MaxSlippage:  0.001,
			MaxRetries:   1,
			IntentTTL:    30 * time.Second,
		},
		Audit: AuditConfig{
			Dir:        filepath.Join(dir, "audit"),
			DBPath:     filepath.Join(dir, "audit.db"),
			MaxSize:    50,
			MaxBackups: 30,
			MaxAge:     365,
		},
	}
}

// Load loads configuration from the specified directory. Missing files fall
// back to defaults. If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	} else {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parsing config.toml: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWTRADER_RISK_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.BaseRiskFraction = f
		}
	}
	if v := os.Getenv("FLOWTRADER_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Signal.ScoreThreshold = f
		}
	}
	if v := os.Getenv("FLOWTRADER_AUDIT_DIR"); v != "" {
		cfg.Audit.Dir = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Risk.BaseRiskFraction <= 0 || c.Risk.BaseRiskFraction >= 0.01 {
		return fmt.Errorf("risk.base_risk_fraction must be in (0, 0.01), got %v", c.Risk.BaseRiskFraction)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must allow at least one position")
	}
	if c.Signal.ScoreThreshold <= 1 {
		return fmt.Errorf("signal.score_threshold must be > 1, got %v", c.Signal.ScoreThreshold)
	}
	if c.Execution.MaxSlippage <= 0 || c.Execution.MaxSlippage >= 0.01 {
		return fmt.Errorf("execution.max_slippage must be in (0, 0.01), got %v", c.Execution.MaxSlippage)
	}
	if c.Market.DepthLevels <= 0 {
		return fmt.Errorf("market.depth_levels must be positive")
	}

	var total float64
	for venue, w := range c.Execution.VenueWeights {
		if w < 0 {
			return fmt.Errorf("execution.venue_weights[%s] must be non-negative", venue)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("execution.venue_weights must sum to a positive value")
	}
	return nil
}
