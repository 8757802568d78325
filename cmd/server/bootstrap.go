package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/api"
	"github.com/charlesng35/hycredit/internal/app"
	"github.com/charlesng35/hycredit/internal/app/maintenance"
	iauth "github.com/charlesng35/hycredit/internal/auth"
	"github.com/charlesng35/hycredit/internal/database"
	"github.com/charlesng35/hycredit/internal/ledger"
	"github.com/charlesng35/hycredit/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Services   *api.Services
	Ledger     *ledger.Synchronizer
	Reconciler *maintenance.Reconciler
	Router     *gin.Engine
}

// bootstrapRuntime opens the database, wires services and background jobs and
// builds the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	switch mode := strings.TrimSpace(cfg.Server.Mode); mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtCfg, err := cfg.Auth.JWTServiceConfig()
	if err != nil {
		return nil, err
	}
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Services, err = api.NewServices(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	var anchors maintenance.AnchorQueue
	if cfg.Ledger.Enabled {
		client, err := ledger.NewEthClient(cfg.Ledger.EthConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise ledger client: %w", err)
		}
		stack.Ledger, err = stack.Services.EnableLedger(client, cfg.Ledger.SynchronizerConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise ledger synchronizer: %w", err)
		}
		stack.Ledger.Start(ctx)
		anchors = stack.Ledger
	} else {
		log.Info("ledger anchoring disabled; credits are issued at approval")
	}

	stack.Reconciler = maintenance.NewReconciler(anchors, stack.Services.Credits,
		maintenance.WithStaleAfter(cfg.Ledger.StaleAnchorAge()),
		maintenance.WithReconcileSchedule(cfg.Ledger.ReconcileSchedule),
	)
	if err := stack.Reconciler.RunOnce(ctx); err != nil {
		log.Warn("startup reconciliation failed", zap.Error(err))
	}
	if err := stack.Reconciler.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, jwtSvc, stack.Services)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources. Requests still waiting
// on the ledger are picked up by reconciliation on the next start.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Reconciler != nil {
		select {
		case <-s.Reconciler.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
		s.Reconciler = nil
	}

	if s.Ledger != nil {
		s.Ledger.Stop()
		s.Ledger = nil
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
