package api

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/ledger"
	"github.com/charlesng35/hycredit/internal/monitoring"
	"github.com/charlesng35/hycredit/internal/monitoring/checks"
	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/internal/services"
)

// Services bundles the domain services the HTTP surface dispatches to.
type Services struct {
	Checker    *permissions.Checker
	Audit      *services.AuditService
	Parties    *services.PartyService
	Requests   *services.CreditRequestService
	Credits    *services.CreditLedgerService
	Reviews    *services.ReviewService
	Statistics *services.StatisticsService
	Health     *monitoring.HealthManager

	// Ledger is nil when anchoring is disabled.
	Ledger *ledger.Synchronizer
}

// NewServices wires the domain services on db. Approvals issue credits directly
// until EnableLedger is called.
func NewServices(db *gorm.DB) (*Services, error) {
	if db == nil {
		return nil, errors.New("api: database handle must be provided")
	}

	checker, err := permissions.NewChecker(db)
	if err != nil {
		return nil, err
	}
	audit, err := services.NewAuditService(db, checker)
	if err != nil {
		return nil, err
	}
	parties, err := services.NewPartyService(db)
	if err != nil {
		return nil, err
	}
	requests, err := services.NewCreditRequestService(db, checker, audit)
	if err != nil {
		return nil, err
	}
	credits, err := services.NewCreditLedgerService(db, checker, audit)
	if err != nil {
		return nil, err
	}
	reviews, err := services.NewReviewService(requests, credits, checker)
	if err != nil {
		return nil, err
	}
	stats, err := services.NewStatisticsService(db, checker)
	if err != nil {
		return nil, err
	}

	health := monitoring.NewHealthManager()
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	health.RegisterReadiness(checks.Database(db, 0))

	return &Services{
		Checker:    checker,
		Audit:      audit,
		Parties:    parties,
		Requests:   requests,
		Credits:    credits,
		Reviews:    reviews,
		Statistics: stats,
		Health:     health,
	}, nil
}

// EnableLedger routes approvals through a ledger synchroniser backed by client.
// The caller starts and stops the returned synchroniser.
func (s *Services) EnableLedger(client ledger.Client, cfg ledger.Config) (*ledger.Synchronizer, error) {
	syncer, err := ledger.NewSynchronizer(client, s.Requests, s.Credits, s.Parties, s.Checker, cfg)
	if err != nil {
		return nil, err
	}
	reviews, err := services.NewReviewService(s.Requests, s.Credits, s.Checker, services.WithLedgerDispatcher(syncer))
	if err != nil {
		return nil, err
	}
	s.Reviews = reviews
	s.Ledger = syncer

	if node, ok := client.(checks.Node); ok {
		s.Health.RegisterReadiness(checks.Ledger(node, syncer, cfg.RequestTimeout))
	}
	return syncer, nil
}
