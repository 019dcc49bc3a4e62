package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level daemon configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Env           string `toml:"Env"`
	LogFile       string `toml:"LogFile"`
	PoolAddress   string `toml:"PoolAddress"`

	Risk   RiskConfig    `toml:"risk"`
	Oracle OracleConfig  `toml:"oracle"`
	Assets []AssetConfig `toml:"assets"`
	Pauses PauseConfig   `toml:"pauses"`
}

// RiskConfig carries the lending safety thresholds in percent. Zero fields
// fall back to engine defaults.
type RiskConfig struct {
	LiquidationThresholdPct uint64 `toml:"LiquidationThresholdPct"`
	LiquidationBonusPct     uint64 `toml:"LiquidationBonusPct"`
}

// OracleConfig wires the price aggregator: source priority, freshness window,
// HTTP endpoints, and fixed manual rates for development.
type OracleConfig struct {
	MaxQuoteAgeSeconds int64             `toml:"MaxQuoteAgeSeconds"`
	Priority           []string          `toml:"Priority"`
	HTTPEndpoints      map[string]string `toml:"HTTPEndpoints"`
	ManualRates        map[string]string `toml:"ManualRates"`
}

// AssetConfig registers one asset symbol against its price feed at startup.
type AssetConfig struct {
	Symbol    string `toml:"Symbol"`
	PriceFeed string `toml:"PriceFeed"`
}

// PauseConfig switches individual lending flows off.
type PauseConfig struct {
	Deposit   bool `toml:"Deposit"`
	Withdraw  bool `toml:"Withdraw"`
	Borrow    bool `toml:"Borrow"`
	Repay     bool `toml:"Repay"`
	Liquidate bool `toml:"Liquidate"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "0.0.0.0:8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lendpool-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "development"
	}
	if cfg.Oracle.MaxQuoteAgeSeconds == 0 {
		cfg.Oracle.MaxQuoteAgeSeconds = 300
	}
	if len(cfg.Oracle.Priority) == 0 {
		cfg.Oracle.Priority = []string{"manual"}
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if c.Risk.LiquidationThresholdPct > 100 {
		return fmt.Errorf("config: LiquidationThresholdPct must not exceed 100")
	}
	if c.Oracle.MaxQuoteAgeSeconds < 0 {
		return fmt.Errorf("config: MaxQuoteAgeSeconds must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: asset entry missing Symbol")
		}
		if strings.TrimSpace(asset.PriceFeed) == "" {
			return fmt.Errorf("config: asset %s missing PriceFeed", symbol)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: write default: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode default: %w", err)
	}
	return cfg, nil
}
