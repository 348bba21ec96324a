// Package config loads runtime settings from defaults, an optional config
// file, a .env file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rnts08/eth-riskradar/internal/explorer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "RISKRADAR"

// ChainSettings are the per-chain connection settings.
type ChainSettings struct {
	RPC         []string `mapstructure:"rpc"`
	ExplorerKey string   `mapstructure:"explorer_key"`
	RPCQPS      float64  `mapstructure:"rpc_qps" validate:"gte=0"`
}

type ChainsConfig struct {
	ETH ChainSettings `mapstructure:"eth"`
	BSC ChainSettings `mapstructure:"bsc"`
}

type ExplorerConfig struct {
	MultichainKey  string  `mapstructure:"multichain_key"`
	MultichainBase string  `mapstructure:"multichain_base" validate:"omitempty,url"`
	QPS            float64 `mapstructure:"qps" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file"`
}

// CodeConfig selects which bytecode flags are reported. A non-empty Enabled
// list is an allowlist; Disabled always wins.
type CodeConfig struct {
	Enabled  []string `mapstructure:"enabled"`
	Disabled []string `mapstructure:"disabled"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

type Config struct {
	Environment   string         `mapstructure:"environment" validate:"required,oneof=development staging production"`
	Chains        ChainsConfig   `mapstructure:"chains"`
	Explorer      ExplorerConfig `mapstructure:"explorer"`
	HoneypotProbe string         `mapstructure:"honeypot_probe"`
	Code          CodeConfig     `mapstructure:"code"`
	Concurrency   int            `mapstructure:"concurrency" validate:"min=1,max=8"`
	Log           LogConfig      `mapstructure:"log"`
	Server        ServerConfig   `mapstructure:"server"`
	MetricsAddr   string         `mapstructure:"metrics_addr"`
}

// legacyEnv binds the variable names of earlier deployments. Keys listing
// several names take the first one set.
var legacyEnv = map[string][]string{
	"chains.eth.rpc":          {"WEB3_PROVIDER_ETH", "WEB3_PROVIDER"},
	"chains.bsc.rpc":          {"WEB3_PROVIDER_BSC"},
	"chains.bsc.explorer_key": {"BSCSCAN_API_KEY"},
	"explorer.multichain_key": {"ETHERSCAN_API_KEY"},
	"honeypot_probe":          {"HONEYPOT_PROBE"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("chains.eth.rpc", []string{})
	v.SetDefault("chains.eth.explorer_key", "")
	v.SetDefault("chains.eth.rpc_qps", 0)
	v.SetDefault("chains.bsc.rpc", []string{})
	v.SetDefault("chains.bsc.explorer_key", "")
	v.SetDefault("chains.bsc.rpc_qps", 0)
	v.SetDefault("explorer.multichain_key", "")
	v.SetDefault("explorer.multichain_base", "")
	v.SetDefault("explorer.qps", 4.0)
	v.SetDefault("honeypot_probe", "0")
	v.SetDefault("code.enabled", []string{})
	v.SetDefault("code.disabled", []string{})
	v.SetDefault("concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("metrics_addr", "")
}

// Load reads the configuration. path may name a YAML, JSON or TOML file; an
// empty path means no file. A .env file in the working directory is applied
// first when present and never overrides variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Chains.ETH.RPC = splitList(cfg.Chains.ETH.RPC)
	cfg.Chains.BSC.RPC = splitList(cfg.Chains.BSC.RPC)
	cfg.Code.Enabled = splitList(cfg.Code.Enabled)
	cfg.Code.Disabled = splitList(cfg.Code.Disabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	out := []string{}
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks struct constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// ProbeEnabled interprets honeypot_probe: anything but 0, false, no, off or
// blank turns the probe on.
func (c *Config) ProbeEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(c.HoneypotProbe)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Chain returns the settings for a chain key, if known.
func (c *Config) Chain(key string) (ChainSettings, bool) {
	switch key {
	case "eth":
		return c.Chains.ETH, true
	case "bsc":
		return c.Chains.BSC, true
	}
	return ChainSettings{}, false
}

// ExplorerKeys returns the explorer credentials for a chain key.
func (c *Config) ExplorerKeys(key string) explorer.Keys {
	cs, _ := c.Chain(key)
	return explorer.Keys{Multichain: c.Explorer.MultichainKey, Legacy: cs.ExplorerKey}
}

// Presence reports which credentials are configured without revealing them.
func (c *Config) Presence() logrus.Fields {
	yes := func(ok bool) string {
		if ok {
			return "yes"
		}
		return "no"
	}
	return logrus.Fields{
		"eth_rpc":           yes(len(c.Chains.ETH.RPC) > 0),
		"bsc_rpc":           yes(len(c.Chains.BSC.RPC) > 0),
		"etherscan_api_key": yes(c.Explorer.MultichainKey != ""),
		"bscscan_api_key":   yes(c.Chains.BSC.ExplorerKey != ""),
		"honeypot_probe":    c.ProbeEnabled(),
	}
}
