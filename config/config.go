package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"swapctl/pkg/types"
)

const (
	DefaultEndpoint = "https://lite-api.jup.ag/swap/v1"
	DefaultRPCURL   = "https://api.mainnet-beta.solana.com"
)

// Config holds the application configuration
type Config struct {
	Endpoints           []string
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RequestTimeout      time.Duration
	RequestsPerSecond   float64
	Burst               int
	APIKey              string
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	DustThreshold       decimal.Decimal
	RequireConfirmation bool
	SlippageBps         int
	PriorityFee         *uint64 // nil lets the swap endpoint pick

	RPCURL        string
	Commitment    string
	PrivateKey    string
	SkipPreflight bool

	Assets []types.Asset

	LogLevel    string
	Env         string
	MetricsAddr string
	JournalPath string
	NATSURL     string
	NATSSubject string
}

// AssetConfig is one entry of the assets list in the config file
type AssetConfig struct {
	Symbol        string `mapstructure:"symbol"`
	Mint          string `mapstructure:"mint"`
	Decimals      uint8  `mapstructure:"decimals"`
	DustThreshold string `mapstructure:"dust_threshold"`
}

// Load reads configuration from environment variables and the config file.
// configFile overrides the default .swapctl.yaml lookup.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".swapctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("SWAPCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The default config file is optional, an explicit one is not
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	dust, err := decimal.NewFromString(v.GetString("dust_threshold"))
	if err != nil {
		return nil, fmt.Errorf("invalid dust_threshold %q: %w", v.GetString("dust_threshold"), err)
	}

	cfg := &Config{
		Endpoints:           splitList(v.GetStringSlice("endpoints")),
		BaseDelay:           v.GetDuration("base_delay"),
		MaxDelay:            v.GetDuration("max_delay"),
		RequestTimeout:      v.GetDuration("request_timeout"),
		RequestsPerSecond:   v.GetFloat64("requests_per_second"),
		Burst:               v.GetInt("burst"),
		APIKey:              v.GetString("api_key"),
		ConfirmTimeout:      v.GetDuration("confirm_timeout"),
		ConfirmPollInterval: v.GetDuration("confirm_poll_interval"),
		DustThreshold:       dust,
		RequireConfirmation: v.GetBool("require_confirmation"),
		SlippageBps:         v.GetInt("slippage_bps"),
		RPCURL:              v.GetString("rpc_url"),
		Commitment:          v.GetString("commitment"),
		PrivateKey:          strings.TrimSpace(v.GetString("private_key")),
		SkipPreflight:       v.GetBool("skip_preflight"),
		LogLevel:            v.GetString("log_level"),
		Env:                 v.GetString("env"),
		MetricsAddr:         v.GetString("metrics_addr"),
		JournalPath:         v.GetString("journal_path"),
		NATSURL:             v.GetString("nats_url"),
		NATSSubject:         v.GetString("nats_subject"),
	}

	if v.IsSet("priority_fee") && v.GetString("priority_fee") != "" && v.GetString("priority_fee") != "auto" {
		fee := v.GetUint64("priority_fee")
		cfg.PriorityFee = &fee
	}

	var assets []AssetConfig
	if err := v.UnmarshalKey("assets", &assets); err != nil {
		return nil, fmt.Errorf("invalid assets: %w", err)
	}
	for _, a := range assets {
		asset, err := a.Asset()
		if err != nil {
			return nil, err
		}
		cfg.Assets = append(cfg.Assets, asset)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoints", []string{DefaultEndpoint})
	v.SetDefault("base_delay", "1s")
	v.SetDefault("max_delay", "30s")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("requests_per_second", 1.0)
	v.SetDefault("burst", 1)
	v.SetDefault("confirm_timeout", "60s")
	v.SetDefault("confirm_poll_interval", "2s")
	v.SetDefault("dust_threshold", "0.01")
	v.SetDefault("require_confirmation", false)
	v.SetDefault("slippage_bps", 50)
	v.SetDefault("rpc_url", DefaultRPCURL)
	v.SetDefault("commitment", "confirmed")
	v.SetDefault("skip_preflight", false)
	v.SetDefault("log_level", "warn")
	v.SetDefault("env", "dev")
	v.SetDefault("nats_subject", "swapctl.outcomes")
}

// splitList accepts both YAML lists and comma separated env values
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Asset converts the config entry into a registry asset
func (a AssetConfig) Asset() (types.Asset, error) {
	asset := types.Asset{Symbol: a.Symbol, Mint: a.Mint, Decimals: a.Decimals}
	if a.DustThreshold != "" {
		d, err := decimal.NewFromString(a.DustThreshold)
		if err != nil {
			return types.Asset{}, fmt.Errorf("asset %s: invalid dust_threshold %q: %w", a.Symbol, a.DustThreshold, err)
		}
		asset.DustThreshold = d
	}
	return asset, nil
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive, got %s", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max_delay (%s) must not be less than base_delay (%s)", c.MaxDelay, c.BaseDelay)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ConfirmTimeout < 0 {
		return fmt.Errorf("confirm_timeout must not be negative, got %s", c.ConfirmTimeout)
	}
	if c.DustThreshold.IsNegative() {
		return fmt.Errorf("dust_threshold must not be negative, got %s", c.DustThreshold)
	}
	if c.SlippageBps < 0 || c.SlippageBps > types.MaxBasisPoints {
		return fmt.Errorf("slippage_bps must be between 0 and %d, got %d", types.MaxBasisPoints, c.SlippageBps)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	return nil
}

// RequireWallet reports whether a signing key is configured
func (c *Config) RequireWallet() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("private key not found. Please set SWAPCTL_PRIVATE_KEY environment variable or private_key in .swapctl.yaml")
	}
	return nil
}
