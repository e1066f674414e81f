package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"peertrade/native/fees"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	NativeToken string `toml:"NativeToken"`

	BurnBps       uint32 `toml:"BurnBps"`
	ChainBps      uint32 `toml:"ChainBps"`
	WarchestBps   uint32 `toml:"WarchestBps"`
	ArbitratorBps uint32 `toml:"ArbitratorBps"`

	TradeExpirySecs   int64  `toml:"TradeExpirySecs"`
	DisputeWindowSecs int64  `toml:"DisputeWindowSecs"`
	MaxOpenTrades     uint32 `toml:"MaxOpenTrades"`

	TreasuryAddress     string `toml:"TreasuryAddress"`
	WarchestAddress     string `toml:"WarchestAddress"`
	FeeCollectorAddress string `toml:"FeeCollectorAddress"`
	BurnAddress         string `toml:"BurnAddress"`
	AdminAddress        string `toml:"AdminAddress"`
	ProviderAddress     string `toml:"ProviderAddress"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

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
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./peertrade-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "peertrade-local"
	}
	if strings.TrimSpace(cfg.NativeToken) == "" {
		cfg.NativeToken = "PTC"
	}
	if cfg.TradeExpirySecs == 0 {
		cfg.TradeExpirySecs = 172_800
	}
	if cfg.DisputeWindowSecs == 0 {
		cfg.DisputeWindowSecs = 86_400
	}
	if cfg.MaxOpenTrades == 0 {
		cfg.MaxOpenTrades = 10
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		BurnBps:       20,
		ChainBps:      30,
		WarchestBps:   50,
		ArbitratorBps: 100,
		// Placeholder fee accounts so the generated file validates; operators
		// replace these before going live.
		TreasuryAddress:     "0x0000000000000000000000000000000000000001",
		WarchestAddress:     "0x0000000000000000000000000000000000000002",
		FeeCollectorAddress: "0x0000000000000000000000000000000000000003",
		BurnAddress:         "0x000000000000000000000000000000000000dead",
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if err := c.FeeConfig().Validate(); err != nil {
		return err
	}
	if c.TradeExpirySecs <= 0 {
		return fmt.Errorf("config: TradeExpirySecs must be positive")
	}
	if c.DisputeWindowSecs <= 0 {
		return fmt.Errorf("config: DisputeWindowSecs must be positive")
	}
	for field, value := range map[string]string{
		"TreasuryAddress":     c.TreasuryAddress,
		"WarchestAddress":     c.WarchestAddress,
		"FeeCollectorAddress": c.FeeCollectorAddress,
		"BurnAddress":         c.BurnAddress,
		"AdminAddress":        c.AdminAddress,
		"ProviderAddress":     c.ProviderAddress,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
	}
	// A nonzero fee share with no destination would strand settlements, so
	// every configured share needs a configured account.
	if c.BurnBps > 0 && strings.TrimSpace(c.BurnAddress) == "" {
		return fmt.Errorf("config: BurnAddress required when BurnBps is nonzero")
	}
	if c.WarchestBps > 0 && strings.TrimSpace(c.WarchestAddress) == "" {
		return fmt.Errorf("config: WarchestAddress required when WarchestBps is nonzero")
	}
	if c.ChainBps > 0 && strings.TrimSpace(c.FeeCollectorAddress) == "" && strings.TrimSpace(c.TreasuryAddress) == "" {
		return fmt.Errorf("config: FeeCollectorAddress or TreasuryAddress required when ChainBps is nonzero")
	}
	return nil
}

// FeeConfig maps the configured basis points onto the fee engine config.
func (c *Config) FeeConfig() fees.Config {
	return fees.Config{
		BurnBps:       c.BurnBps,
		ChainBps:      c.ChainBps,
		WarchestBps:   c.WarchestBps,
		ArbitratorBps: c.ArbitratorBps,
	}
}

// ParseAddress decodes a 0x-prefixed hex account address.
func ParseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Address decodes an optional address field, returning the zero address when
// the field is unset.
func (c *Config) Address(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	return ParseAddress(value)
}
