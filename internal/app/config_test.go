package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hycredit/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Server.Debug())
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "identity.example.com", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.True(t, cfg.Ledger.Enabled)
	require.Equal(t, "http://geth.internal:8545", cfg.Ledger.RPCURL)
	require.Equal(t, int32(6), cfg.Ledger.AmountDecimals)
	require.Equal(t, uint64(300000), cfg.Ledger.Gas)
	require.Equal(t, 4, cfg.Ledger.Workers)
	require.Equal(t, 64, cfg.Ledger.QueueSize)
	require.Equal(t, 10*time.Second, cfg.Ledger.RequestTimeout)
	require.Equal(t, 15*time.Minute, cfg.Ledger.StaleAnchorAge())
	require.Equal(t, "@every 1m", cfg.Ledger.ReconcileSchedule)
	require.Equal(t, 250*time.Millisecond, cfg.Ledger.Retry.InitialDelay)
	require.Equal(t, 5*time.Second, cfg.Ledger.Retry.MaxDelay)
	require.InDelta(t, 1.5, cfg.Ledger.Retry.Factor, 1e-9)
	require.Equal(t, 8, cfg.Ledger.Retry.MaxAttempts)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Equal(t, int64(5<<20), cfg.Uploads.MaxFileBytes)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.False(t, cfg.Server.Debug())
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Ledger.Enabled)
	require.Equal(t, 2, cfg.Ledger.Workers)
	require.Equal(t, 5, cfg.Ledger.Retry.MaxAttempts)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, int64(10<<20), cfg.Uploads.MaxFileBytes)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("HYCREDIT_SERVER_PORT", "7070")
	t.Setenv("HYCREDIT_LEDGER_RPC_URL", "http://node:8545")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{
		Server:  ServerConfig{Port: 8000},
		Uploads: UploadsConfig{MaxFileBytes: 1},
		Ledger:  LedgerConfig{Enabled: true},
	}
	require.ErrorContains(t, cfg.Validate(), "ledger.rpc_url")

	cfg.Ledger.RPCURL = "http://node:8545"
	cfg.Ledger.ContractAddress = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	require.ErrorContains(t, cfg.Validate(), "ledger.issuer_account")

	cfg.Ledger.IssuerAccount = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}

func TestConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{JWT: JWTSettings{Secret: "6869", Issuer: "idp"}},
		Ledger: LedgerConfig{
			RPCURL:         "http://node:8545",
			AmountDecimals: 3,
			Workers:        3,
			RequestTimeout: 5 * time.Second,
			Retry:          LedgerRetryConfig{MaxAttempts: 4, Factor: 2},
		},
	}

	jwtCfg, err := cfg.Auth.JWTServiceConfig()
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), jwtCfg.Secret)
	require.Equal(t, "idp", jwtCfg.Issuer)
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)

	_, err = AuthConfig{}.JWTServiceConfig()
	require.Error(t, err)

	eth := cfg.Ledger.EthConfig()
	require.Equal(t, "http://node:8545", eth.RPCURL)
	require.Equal(t, int32(3), eth.AmountDecimals)

	syncCfg := cfg.Ledger.SynchronizerConfig()
	require.Equal(t, 3, syncCfg.Workers)
	require.Equal(t, 4, syncCfg.Retry.MaxAttempts)
	require.Equal(t, 5*time.Second, syncCfg.RequestTimeout)
	require.Equal(t, defaultStaleAfter, cfg.Ledger.StaleAnchorAge())
}
