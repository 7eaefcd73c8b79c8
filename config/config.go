// Package config loads ammd settings from defaults, an optional file and
// AMMD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// systemNamePattern keeps system_name usable as a metric subsystem.
var systemNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	SystemName string         `mapstructure:"system_name"`
	LogLevel   string         `mapstructure:"log_level"`
	Pool       PoolConfig     `mapstructure:"pool"`
	Store      StoreConfig    `mapstructure:"store"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`

	configPath string
}

// PoolConfig describes the pool. Addresses are hex strings; the transfer
// deposit is a decimal string.
type PoolConfig struct {
	Owner            string        `mapstructure:"owner"`
	Account          string        `mapstructure:"account"`
	AssetA           string        `mapstructure:"asset_a"`
	AssetB           string        `mapstructure:"asset_b"`
	TransferDeposit  string        `mapstructure:"transfer_deposit"`
	ReceiptCacheSize int           `mapstructure:"receipt_cache_size"`
	ResyncFrequency  time.Duration `mapstructure:"resync_frequency"`
}

type StoreConfig struct {
	Dir      string `mapstructure:"dir"`
	Snapshot string `mapstructure:"snapshot"`
}

type EthereumConfig struct {
	RPCURL  string        `mapstructure:"rpc_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConfigPath returns the file the configuration was read from, if any.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Validate checks every field that has no usable zero value.
func (c *Config) Validate() error {
	if c.SystemName == "" {
		return errors.New("system_name is required")
	}
	if !systemNamePattern.MatchString(c.SystemName) {
		return fmt.Errorf("system_name %q must contain only letters, digits and underscores", c.SystemName)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	for key, value := range map[string]string{
		"pool.owner":   c.Pool.Owner,
		"pool.account": c.Pool.Account,
		"pool.asset_a": c.Pool.AssetA,
		"pool.asset_b": c.Pool.AssetB,
	} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%s: invalid address %q", key, value)
		}
	}
	if strings.EqualFold(c.Pool.AssetA, c.Pool.AssetB) {
		return errors.New("pool.asset_a and pool.asset_b must differ")
	}
	if _, err := u128.Parse(c.Pool.TransferDeposit); err != nil {
		return fmt.Errorf("pool.transfer_deposit: %w", err)
	}
	if c.Pool.ReceiptCacheSize < 0 {
		return errors.New("pool.receipt_cache_size must not be negative")
	}
	if c.Pool.ResyncFrequency < 0 {
		return errors.New("pool.resync_frequency must not be negative")
	}
	if c.Store.Snapshot == "" {
		return errors.New("store.snapshot is required")
	}
	if c.Ethereum.Timeout < 0 {
		return errors.New("ethereum.timeout must not be negative")
	}
	return nil
}

// SlogLevel maps log_level to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// PoolAddresses returns owner, pool account, asset A and asset B.
func (c *Config) PoolAddresses() (owner, account, assetA, assetB common.Address) {
	return common.HexToAddress(c.Pool.Owner),
		common.HexToAddress(c.Pool.Account),
		common.HexToAddress(c.Pool.AssetA),
		common.HexToAddress(c.Pool.AssetB)
}

// AMMConfig builds the pool configuration. The caller supplies the runtime
// dependencies that cannot come from a file.
func (c *Config) AMMConfig(service amm.AssetService, reg prometheus.Registerer, errorHandler amm.ErrorHandlerFunc, logger amm.Logger) (*amm.Config, error) {
	deposit, err := u128.Parse(c.Pool.TransferDeposit)
	if err != nil {
		return nil, fmt.Errorf("pool.transfer_deposit: %w", err)
	}
	owner, account, assetA, assetB := c.PoolAddresses()
	return &amm.Config{
		SystemName:       c.SystemName,
		PrometheusReg:    reg,
		Owner:            owner,
		Account:          account,
		AssetA:           assetA,
		AssetB:           assetB,
		Service:          service,
		TransferDeposit:  deposit,
		ReceiptCacheSize: c.Pool.ReceiptCacheSize,
		ResyncFrequency:  c.Pool.ResyncFrequency,
		ErrorHandler:     errorHandler,
		Logger:           logger,
	}, nil
}
