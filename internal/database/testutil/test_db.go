package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/database"
	"github.com/charlesng35/hycredit/internal/models"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	parties     []models.Party
}

// WithAutoMigrate applies schema migrations after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithParties migrates the schema and inserts the given parties.
func WithParties(parties ...models.Party) TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
		cfg.parties = append(cfg.parties, parties...)
	}
}

// MustOpenTestDB opens an isolated in-memory SQLite database for a single test.
// The connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})

	if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	for i := range cfg.parties {
		party := cfg.parties[i]
		require.NoError(t, db.Create(&party).Error)
	}

	return db
}

// Producer returns an active producer party fixture.
func Producer(id string) models.Party {
	return models.Party{
		ID:            id,
		Name:          "Producer " + id,
		Organization:  "H2 Works",
		Role:          models.RoleProducer,
		WalletAddress: "0x71c7656ec7ab88b098defb751b7401b5f6d8976f",
		IsActive:      true,
		IsVerified:    true,
	}
}

// Certifier returns an active certifier party fixture.
func Certifier(id string) models.Party {
	return models.Party{
		ID:           id,
		Name:         "Certifier " + id,
		Organization: "GreenCert",
		Role:         models.RoleCertifier,
		IsActive:     true,
		IsVerified:   true,
	}
}

// Operator returns an active operator party fixture.
func Operator(id string) models.Party {
	return models.Party{ID: id, Name: "Operator " + id, Role: models.RoleOperator, IsActive: true}
}
