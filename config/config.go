package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root service configuration, loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	Log       LogConfig       `toml:"Log"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
	Risk      RiskConfig      `toml:"Risk"`
	Pricefeed PricefeedConfig `toml:"Pricefeed"`
	Bridge    BridgeConfig    `toml:"Bridge"`
	Schedule  ScheduleConfig  `toml:"Schedule"`
	Sources   SourcesConfig   `toml:"Sources"`

	Properties []PropertyConfig `toml:"Properties"`
}

// LogConfig controls optional rotated file output.
type LogConfig struct {
	FilePath   string `toml:"FilePath"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// RiskConfig carries the collateral engine parameters in basis points.
type RiskConfig struct {
	MinHealthFactorBps      uint64 `toml:"MinHealthFactorBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
}

// PricefeedConfig controls oracle staleness and the registered feeds, in
// priority order.
type PricefeedConfig struct {
	StalenessSeconds uint64       `toml:"StalenessSeconds"`
	Feeds            []FeedConfig `toml:"Feeds"`
}

// FeedConfig describes one price feed endpoint. The API key is read from the
// named environment variable, never from the file.
type FeedConfig struct {
	Name      string `toml:"Name"`
	URL       string `toml:"URL"`
	APIKeyEnv string `toml:"APIKeyEnv"`
}

// BridgeConfig prices cross-chain messages. Fees are decimal wei strings.
type BridgeConfig struct {
	FlatFeeWei string           `toml:"FlatFeeWei"`
	ChainFees  []ChainFeeConfig `toml:"ChainFees"`
}

// ChainFeeConfig overrides the flat fee for one destination chain.
type ChainFeeConfig struct {
	ChainID uint64 `toml:"ChainID"`
	FeeWei  string `toml:"FeeWei"`
}

// ScheduleConfig sets the automation recurrence intervals.
type ScheduleConfig struct {
	RentIntervalHours        uint64 `toml:"RentIntervalHours"`
	ValuationIntervalHours   uint64 `toml:"ValuationIntervalHours"`
	MaintenanceIntervalHours uint64 `toml:"MaintenanceIntervalHours"`
	TickSeconds              uint64 `toml:"TickSeconds"`
}

// SourcesConfig wires the external data providers.
type SourcesConfig struct {
	Zillow   EndpointConfig `toml:"Zillow"`
	Rental   EndpointConfig `toml:"Rental"`
	Market   EndpointConfig `toml:"Market"`
	Platform EndpointConfig `toml:"Platform"`
	Stripe   EndpointConfig `toml:"Stripe"`
}

// EndpointConfig points at one HTTP data source.
type EndpointConfig struct {
	BaseURL   string `toml:"BaseURL"`
	APIKeyEnv string `toml:"APIKeyEnv"`
}

// APIKey resolves the credential from the environment.
func (e EndpointConfig) APIKey() string {
	if strings.TrimSpace(e.APIKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(e.APIKeyEnv))
}

// PropertyConfig registers one managed property.
type PropertyConfig struct {
	ID              string `toml:"ID"`
	TokenAddress    string `toml:"TokenAddress"`
	ExpectedRentUSD uint64 `toml:"ExpectedRentUSD"`
}

// Load reads and normalises the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills omitted fields with defaults.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.Risk.MinHealthFactorBps == 0 {
		c.Risk.MinHealthFactorBps = 15_000
	}
	if c.Risk.LiquidationThresholdBps == 0 {
		c.Risk.LiquidationThresholdBps = 10_000
	}
	if c.Pricefeed.StalenessSeconds == 0 {
		c.Pricefeed.StalenessSeconds = 86_400
	}
	if c.Schedule.RentIntervalHours == 0 {
		c.Schedule.RentIntervalHours = 30 * 24
	}
	if c.Schedule.ValuationIntervalHours == 0 {
		c.Schedule.ValuationIntervalHours = 90 * 24
	}
	if c.Schedule.MaintenanceIntervalHours == 0 {
		c.Schedule.MaintenanceIntervalHours = 180 * 24
	}
	if c.Schedule.TickSeconds == 0 {
		c.Schedule.TickSeconds = 60
	}
	if strings.TrimSpace(c.Bridge.FlatFeeWei) == "" {
		// 0.05 native units.
		c.Bridge.FlatFeeWei = "50000000000000000"
	}
}

// Validate rejects configurations the service cannot safely run with.
func (c *Config) Validate() error {
	if c.Risk.MinHealthFactorBps < c.Risk.LiquidationThresholdBps {
		return fmt.Errorf("config: MinHealthFactorBps %d below LiquidationThresholdBps %d", c.Risk.MinHealthFactorBps, c.Risk.LiquidationThresholdBps)
	}
	if _, err := parseWei(c.Bridge.FlatFeeWei); err != nil {
		return fmt.Errorf("config: FlatFeeWei: %w", err)
	}
	for _, fee := range c.Bridge.ChainFees {
		if _, err := parseWei(fee.FeeWei); err != nil {
			return fmt.Errorf("config: ChainFees[%d]: %w", fee.ChainID, err)
		}
	}
	seen := make(map[string]struct{}, len(c.Properties))
	for _, property := range c.Properties {
		id := strings.TrimSpace(property.ID)
		if id == "" {
			return fmt.Errorf("config: property with empty ID")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate property %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Staleness returns the oracle staleness threshold as a duration.
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Pricefeed.StalenessSeconds) * time.Second
}

// FlatFee returns the parsed flat bridge fee.
func (c *Config) FlatFee() *big.Int {
	fee, err := parseWei(c.Bridge.FlatFeeWei)
	if err != nil {
		return big.NewInt(0)
	}
	return fee
}

// PerChainFees returns the parsed per-chain fee overrides.
func (c *Config) PerChainFees() map[uint64]*big.Int {
	if len(c.Bridge.ChainFees) == 0 {
		return nil
	}
	out := make(map[uint64]*big.Int, len(c.Bridge.ChainFees))
	for _, fee := range c.Bridge.ChainFees {
		parsed, err := parseWei(fee.FeeWei)
		if err != nil {
			continue
		}
		out[fee.ChainID] = parsed
	}
	return out
}

func parseWei(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", raw)
	}
	return value, nil
}
