package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
)

// RequestStatistics summarises the requests visible to a party.
type RequestStatistics struct {
	Total             int64   `json:"total"`
	Pending           int64   `json:"pending"`
	Approved          int64   `json:"approved"`
	Rejected          int64   `json:"rejected"`
	BlockchainPending int64   `json:"blockchainPending"`
	AnchorFailed      int64   `json:"anchorFailed"`
	HydrogenProduced  float64 `json:"totalHydrogenProduced"`
}

// CreditStatistics summarises issued credits visible to a party.
type CreditStatistics struct {
	Issued      int64           `json:"issued"`
	Active      int64           `json:"active"`
	Retired     int64           `json:"retired"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Statistics is the dashboard summary.
type Statistics struct {
	Requests RequestStatistics `json:"requests"`
	Credits  CreditStatistics  `json:"credits"`
}

// StatisticsService aggregates dashboard counters.
type StatisticsService struct {
	db    *gorm.DB
	authz Authorizer
}

// NewStatisticsService constructs a StatisticsService.
func NewStatisticsService(db *gorm.DB, authz Authorizer) (*StatisticsService, error) {
	if db == nil {
		return nil, errors.New("statistics service: db is required")
	}
	if authz == nil {
		return nil, errors.New("statistics service: authorizer is required")
	}
	return &StatisticsService{db: db, authz: authz}, nil
}

// Summary counts requests per status and credits per state within the actor's view.
func (s *StatisticsService) Summary(ctx context.Context, actor permissions.Actor) (*Statistics, error) {
	ctx = ensureContext(ctx)

	party, err := s.authz.Authorize(ctx, actor, permissions.OpViewStatistics)
	if err != nil {
		return nil, err
	}

	var stats Statistics

	var rows []struct {
		Status models.RequestStatus
		Count  int64
	}
	if err := scopeRequests(s.db.WithContext(ctx).Model(&models.CreditRequest{}), party).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("statistics service: count requests: %w", err)
	}
	for _, row := range rows {
		stats.Requests.Total += row.Count
		switch row.Status {
		case models.StatusPending:
			stats.Requests.Pending = row.Count
		case models.StatusApproved:
			stats.Requests.Approved = row.Count
		case models.StatusRejected:
			stats.Requests.Rejected = row.Count
		case models.StatusBlockchainPending:
			stats.Requests.BlockchainPending = row.Count
		}
	}

	if err := scopeRequests(s.db.WithContext(ctx).Model(&models.CreditRequest{}), party).
		Where("chain_blockchain_status = ?", models.AnchorFailed).
		Count(&stats.Requests.AnchorFailed).Error; err != nil {
		return nil, fmt.Errorf("statistics service: count failed anchors: %w", err)
	}

	var hydrogen struct{ Total *float64 }
	if err := scopeRequests(s.db.WithContext(ctx).Model(&models.CreditRequest{}), party).
		Select("SUM(data_hydrogen_produced) AS total").
		Where("status IN ?", []models.RequestStatus{models.StatusApproved, models.StatusBlockchainPending}).
		Scan(&hydrogen).Error; err != nil {
		return nil, fmt.Errorf("statistics service: sum hydrogen: %w", err)
	}
	if hydrogen.Total != nil {
		stats.Requests.HydrogenProduced = *hydrogen.Total
	}

	var credits []models.Credit
	if err := scopeCredits(s.db.WithContext(ctx).Model(&models.Credit{}), party).
		Select("credit_id", "parent_credit_id", "issued_amount", "current_balance", "status").
		Find(&credits).Error; err != nil {
		return nil, fmt.Errorf("statistics service: load credits: %w", err)
	}
	stats.Credits.TotalAmount = decimal.Zero
	for _, credit := range credits {
		if credit.ParentCreditID == "" {
			stats.Credits.Issued++
			stats.Credits.TotalAmount = stats.Credits.TotalAmount.Add(credit.IssuedAmount)
		}
		switch {
		case credit.Status == models.CreditRetired:
			stats.Credits.Retired++
		case credit.CurrentBalance.IsPositive():
			stats.Credits.Active++
		}
	}

	return &stats, nil
}

func scopeCredits(query *gorm.DB, party models.Party) *gorm.DB {
	switch party.Role {
	case models.RoleOperator:
		return query
	case models.RoleCertifier:
		return query.Where("certifier_id = ?", party.ID)
	case models.RoleProducer:
		return query.Where("current_owner = ? OR producer_id = ?", party.ID, party.ID)
	}
	return query.Where("1 = 0")
}
