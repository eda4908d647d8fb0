// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/agro-ledger/internal/catalog"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/rpcledger"
	"github.com/rovshanmuradov/agro-ledger/internal/market"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	WebSocketURL string   `mapstructure:"websocket_url"`
	PrivateKey   string   `mapstructure:"private_key"`
	WalletsFile  string   `mapstructure:"wallets_file"`

	// ReferenceRate is fiat per native unit.
	ReferenceRate string `mapstructure:"reference_rate"`
	// MinUnitPrice and FeeBuffer are base-unit integers.
	MinUnitPrice         string  `mapstructure:"min_unit_price"`
	FeeBuffer            string  `mapstructure:"fee_buffer"`
	IssueGasMultiplier   float64 `mapstructure:"issue_gas_multiplier"`
	AcquireGasMultiplier float64 `mapstructure:"acquire_gas_multiplier"`

	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	CoalesceWindow      time.Duration `mapstructure:"coalesce_window"`
	MaxDeadlineHorizon  time.Duration `mapstructure:"max_deadline_horizon"`
	ReadRetries         int           `mapstructure:"read_retries"`

	// ForecastsFile replaces the built-in price forecasts used by guide and issue --suggest.
	ForecastsFile string `mapstructure:"forecasts_file"`

	PostgresURL  string `mapstructure:"postgres_url"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultReferenceRate        = "2500"
	DefaultMinUnitPrice         = "100000000000000"  // 0.0001 native
	DefaultFeeBuffer            = "1000000000000000" // 0.001 native
	DefaultIssueGasMultiplier   = 1.2
	DefaultAcquireGasMultiplier = 1.1
	DefaultWriteTimeout         = 120 * time.Second
	DefaultConfirmPollInterval  = time.Second
	DefaultReconcileInterval    = 30 * time.Second
	DefaultCoalesceWindow       = 250 * time.Millisecond
	DefaultMaxDeadlineHorizon   = 2 * 365 * 24 * time.Hour
	DefaultReadRetries          = 3
	DefaultMetricsAddr          = ":9464"
	DefaultLogFile              = "agro-ledger.log"
)

func setDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"reference_rate":         DefaultReferenceRate,
		"min_unit_price":         DefaultMinUnitPrice,
		"fee_buffer":             DefaultFeeBuffer,
		"issue_gas_multiplier":   DefaultIssueGasMultiplier,
		"acquire_gas_multiplier": DefaultAcquireGasMultiplier,
		"write_timeout":          DefaultWriteTimeout,
		"confirm_poll_interval":  DefaultConfirmPollInterval,
		"reconcile_interval":     DefaultReconcileInterval,
		"coalesce_window":        DefaultCoalesceWindow,
		"max_deadline_horizon":   DefaultMaxDeadlineHorizon,
		"read_retries":           DefaultReadRetries,
		"metrics_addr":           DefaultMetricsAddr,
		"log_file":               DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Default returns the configuration with every default applied and no
// ledger endpoints, for in-process use.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return &cfg
}

// LoadConfig reads path (skipped when empty), applies AGRO_LEDGER_*
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.WebSocketURL != "" {
		if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
	}
	if _, err := cfg.Converter(); err != nil {
		return err
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if _, err := parseBaseUnits("fee_buffer", cfg.FeeBuffer); err != nil {
		return err
	}
	if cfg.IssueGasMultiplier < 1 {
		return errors.New("issue_gas_multiplier must be at least 1")
	}
	if cfg.AcquireGasMultiplier < 1 {
		return errors.New("acquire_gas_multiplier must be at least 1")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("invalid write_timeout")
	}
	if cfg.ConfirmPollInterval <= 0 || cfg.ConfirmPollInterval >= cfg.WriteTimeout {
		return errors.New("confirm_poll_interval must be positive and shorter than write_timeout")
	}
	if cfg.ReconcileInterval < 0 {
		return errors.New("invalid reconcile_interval")
	}
	if cfg.MaxDeadlineHorizon <= 0 {
		return errors.New("invalid max_deadline_horizon")
	}
	if cfg.ReadRetries < 1 {
		return errors.New("read_retries must be at least 1")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("AGRO_LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if key := v.GetString("PRIVATE_KEY"); key != "" {
		cfg.PrivateKey = key
	}
	if ws := v.GetString("WEBSOCKET_URL"); ws != "" {
		cfg.WebSocketURL = ws
	}
	if dsn := v.GetString("POSTGRES_URL"); dsn != "" {
		cfg.PostgresURL = dsn
	}
	if rate := v.GetString("REFERENCE_RATE"); rate != "" {
		cfg.ReferenceRate = rate
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}

func parseBaseUnits(key, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer of base units, got %q", key, s)
	}
	return n, nil
}

// Catalog returns the price forecasts: forecasts_file when set, the
// built-in table otherwise.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if c.ForecastsFile == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(c.ForecastsFile)
}

// Converter builds the unit converter for the configured reference rate
// and minimum unit price.
func (c *Config) Converter() (*money.Converter, error) {
	minimum, err := parseBaseUnits("min_unit_price", c.MinUnitPrice)
	if err != nil {
		return nil, err
	}
	return money.ParseConverter(c.ReferenceRate, money.WithMinimum(minimum))
}

func (c *Config) LedgerConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	if buf, err := parseBaseUnits("fee_buffer", c.FeeBuffer); err == nil {
		cfg.FeeBuffer = buf
	}
	if c.IssueGasMultiplier > 0 {
		cfg.IssueCostMultiplier = decimal.NewFromFloat(c.IssueGasMultiplier)
	}
	if c.AcquireGasMultiplier > 0 {
		cfg.AcquireCostMultiplier = decimal.NewFromFloat(c.AcquireGasMultiplier)
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	if c.MaxDeadlineHorizon > 0 {
		cfg.MaxDeadlineHorizon = c.MaxDeadlineHorizon
	}
	return cfg
}

func (c *Config) ConfirmConfig() transaction.Config {
	return transaction.Config{
		PollInterval:     c.ConfirmPollInterval,
		ConfirmationTime: c.WriteTimeout,
	}
}

func (c *Config) SyncConfig() market.Config {
	cfg := market.DefaultConfig()
	cfg.ReconcileInterval = c.ReconcileInterval
	if c.CoalesceWindow > 0 {
		cfg.CoalesceWindow = c.CoalesceWindow
	}
	return cfg
}

func (c *Config) RPCConfig() rpcledger.Config {
	return rpcledger.Config{
		Endpoints:  c.RPCList,
		WSEndpoint: c.WebSocketURL,
		MaxTries:   uint(c.ReadRetries),
	}
}
