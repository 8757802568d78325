package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the hycredit backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Uploads    UploadsConfig    `mapstructure:"uploads"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	// Mode is gin's run mode: debug, release or test.
	Mode string `mapstructure:"mode"`
}

// Debug reports whether the server runs in debug mode.
func (c ServerConfig) Debug() bool {
	return strings.EqualFold(strings.TrimSpace(c.Mode), "debug")
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures identity token settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures identity token verification.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// LedgerConfig configures anchoring on the Ethereum ledger. With Enabled false
// credits are issued at approval time.
type LedgerConfig struct {
	Enabled           bool              `mapstructure:"enabled"`
	RPCURL            string            `mapstructure:"rpc_url"`
	ContractAddress   string            `mapstructure:"contract_address"`
	IssuerAccount     string            `mapstructure:"issuer_account"`
	AmountDecimals    int32             `mapstructure:"amount_decimals"`
	Gas               uint64            `mapstructure:"gas"`
	Workers           int               `mapstructure:"workers"`
	QueueSize         int               `mapstructure:"queue_size"`
	RequestTimeout    time.Duration     `mapstructure:"request_timeout"`
	StaleAfter        time.Duration     `mapstructure:"stale_after"`
	ReconcileSchedule string            `mapstructure:"reconcile_schedule"`
	Retry             LedgerRetryConfig `mapstructure:"retry"`
}

// LedgerRetryConfig bounds the backoff applied to ledger calls.
type LedgerRetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Factor       float64       `mapstructure:"factor"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// UploadsConfig limits evidence document uploads.
type UploadsConfig struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("HYCREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range", c.Server.Port)
	}
	if c.Uploads.MaxFileBytes <= 0 {
		return errors.New("config: uploads.max_file_bytes must be positive")
	}
	if !c.Ledger.Enabled {
		return nil
	}
	switch {
	case strings.TrimSpace(c.Ledger.RPCURL) == "":
		return errors.New("config: ledger.rpc_url is required when the ledger is enabled")
	case strings.TrimSpace(c.Ledger.ContractAddress) == "":
		return errors.New("config: ledger.contract_address is required when the ledger is enabled")
	case strings.TrimSpace(c.Ledger.IssuerAccount) == "":
		return errors.New("config: ledger.issuer_account is required when the ledger is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/hycredit.sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.rpc_url", "")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.issuer_account", "")
	v.SetDefault("ledger.amount_decimals", 3)
	v.SetDefault("ledger.gas", 300000)
	v.SetDefault("ledger.workers", 2)
	v.SetDefault("ledger.queue_size", 256)
	v.SetDefault("ledger.request_timeout", "30s")
	v.SetDefault("ledger.stale_after", "10m")
	v.SetDefault("ledger.reconcile_schedule", "@every 5m")
	v.SetDefault("ledger.retry.initial_delay", "500ms")
	v.SetDefault("ledger.retry.max_delay", "30s")
	v.SetDefault("ledger.retry.factor", 2.0)
	v.SetDefault("ledger.retry.max_attempts", 5)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("uploads.max_file_bytes", 10<<20)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
