package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/hycredit/internal/app"
	"github.com/charlesng35/hycredit/internal/database"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	return &app.Config{
		Server:   app.ServerConfig{Port: 8000, Mode: "test"},
		Database: app.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "hycredit.db")},
		Auth:     app.AuthConfig{JWT: app.JWTSettings{Secret: "bootstrap-test-secret"}},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
		Uploads: app.UploadsConfig{MaxFileBytes: 1 << 20},
	}
}

func TestBootstrapRuntimeWithoutLedger(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Ledger)
	require.Nil(t, stack.Services.Ledger)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/ledger/confirmations", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBootstrapRuntimeRejectsBadLedgerSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger = app.LedgerConfig{
		Enabled:         true,
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: "not-an-address",
		IssuerAccount:   "0x71c7656ec7ab88b098defb751b7401b5f6d8976f",
	}

	_, err := bootstrapRuntime(t.Context(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "initialise ledger client")
}

func TestBootstrapRuntimeStartsLedgerSynchronizer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger = app.LedgerConfig{
		Enabled:         true,
		RPCURL:          "http://127.0.0.1:8545",
		ContractAddress: "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		IssuerAccount:   "0x71c7656ec7ab88b098defb751b7401b5f6d8976f",
		Workers:         1,
		QueueSize:       4,
	}

	stack, err := bootstrapRuntime(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stack.Ledger)
	require.Same(t, stack.Ledger, stack.Services.Ledger)

	_, capacity := stack.Ledger.Backlog()
	require.Equal(t, 4, capacity)

	stack.Shutdown(t.Context(), zap.NewNop())
	require.Nil(t, stack.Ledger)
	require.Nil(t, stack.DB)
}

func TestConvertDatabaseConfig(t *testing.T) {
	cases := []struct {
		name string
		in   app.DatabaseConfig
		want database.Config
	}{
		{
			name: "default sqlite",
			in:   app.DatabaseConfig{Path: " ./data/h.db "},
			want: database.Config{Driver: "sqlite", Path: "./data/h.db"},
		},
		{
			name: "postgres alias",
			in: app.DatabaseConfig{
				Driver:   "PostgreSQL",
				Postgres: app.DBAuthConfig{Host: "db", Port: 5432, Database: "hycredit", Username: "svc", Password: "pw"},
			},
			want: database.Config{Driver: "postgres", Host: "db", Port: 5432, Name: "hycredit", User: "svc", Password: "pw"},
		},
		{
			name: "mysql",
			in: app.DatabaseConfig{
				Driver: "mysql",
				MySQL:  app.DBAuthConfig{Host: "mysql", Port: 3306, Database: "hycredit", Username: "root"},
			},
			want: database.Config{Driver: "mysql", Host: "mysql", Port: 3306, Name: "hycredit", User: "root"},
		},
		{
			name: "unknown driver kept",
			in:   app.DatabaseConfig{Driver: "oracle"},
			want: database.Config{Driver: "oracle"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := convertDatabaseConfig(&app.Config{Database: tc.in})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "absent"))
	require.ErrorContains(t, err, "does not exist")
}
