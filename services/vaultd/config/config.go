package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"stablevault/native/vault"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string      `yaml:"listen"`
	DatabasePath  string      `yaml:"database"`
	AdminToken    string      `yaml:"admin_token"`
	Chain         ChainConfig `yaml:"chain"`
	Vault         VaultConfig `yaml:"vault"`
}

// ChainConfig describes the EVM node and signing key used for custody.
type ChainConfig struct {
	RPCURL         string   `yaml:"rpc_url"`
	ChainID        int64    `yaml:"chain_id"`
	Router         string   `yaml:"router"`
	PrivateKey     string   `yaml:"private_key"`
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
	SwapDeadline   Duration `yaml:"swap_deadline"`
}

// VaultConfig carries the immutable vault parameters.
type VaultConfig struct {
	CapacityCap     string `yaml:"capacity_cap"`
	WithdrawalLimit string `yaml:"withdrawal_limit"`
	SlippageBps     uint64 `yaml:"slippage_bps"`
	Admin           string `yaml:"admin"`
	StableAsset     string `yaml:"stable_asset"`
	Paused          bool   `yaml:"paused"`
}

const defaultListenAddress = ":8380"

// Load reads, parses, and validates the configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate verifies the parameter domain before any component is built.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("config: database path required")
	}
	if strings.TrimSpace(c.AdminToken) == "" {
		return fmt.Errorf("config: admin token required")
	}
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		return fmt.Errorf("config: chain rpc_url required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("config: chain id must be positive")
	}
	if !common.IsHexAddress(c.Chain.Router) {
		return fmt.Errorf("config: invalid router address %q", c.Chain.Router)
	}
	if strings.TrimSpace(c.Chain.PrivateKey) == "" {
		return fmt.Errorf("config: chain private key required")
	}
	if _, err := c.VaultParams(); err != nil {
		return err
	}
	return nil
}

// VaultParams converts the config into validated vault parameters.
func (c Config) VaultParams() (vault.Params, error) {
	capacityCap, err := parseAmount("capacity_cap", c.Vault.CapacityCap)
	if err != nil {
		return vault.Params{}, err
	}
	withdrawalLimit, err := parseAmount("withdrawal_limit", c.Vault.WithdrawalLimit)
	if err != nil {
		return vault.Params{}, err
	}
	if !common.IsHexAddress(c.Vault.Admin) {
		return vault.Params{}, fmt.Errorf("config: invalid admin address %q", c.Vault.Admin)
	}
	if !common.IsHexAddress(c.Vault.StableAsset) {
		return vault.Params{}, fmt.Errorf("config: invalid stable asset address %q", c.Vault.StableAsset)
	}
	params := vault.Params{
		CapacityCap:     capacityCap,
		WithdrawalLimit: withdrawalLimit,
		SlippageBps:     c.Vault.SlippageBps,
		Admin:           common.HexToAddress(c.Vault.Admin),
		StableAsset:     common.HexToAddress(c.Vault.StableAsset),
		Exchange:        common.HexToAddress(c.Chain.Router),
	}
	if err := params.Validate(); err != nil {
		return vault.Params{}, err
	}
	return params, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("config: %s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("config: %s must be a positive integer, got %q", field, raw)
	}
	return amount, nil
}
