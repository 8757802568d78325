package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
)

// PartyClaims is the identity asserted for a party by a verified token.
type PartyClaims struct {
	PartyID       string
	Role          models.PartyRole
	Name          string
	Organization  string
	Email         string
	WalletAddress string
}

// PartyService mirrors identities issued by the identity provider.
type PartyService struct {
	db  *gorm.DB
	now Clock
}

// NewPartyService constructs a PartyService instance.
func NewPartyService(db *gorm.DB) (*PartyService, error) {
	if db == nil {
		return nil, errors.New("party service: db is required")
	}
	return &PartyService{db: db, now: systemClock}, nil
}

// Sync records the party behind a verified token. The role is taken from the
// claims only when the party is first seen; profile fields follow the claims.
func (s *PartyService) Sync(ctx context.Context, claims PartyClaims) (*models.Party, error) {
	ctx = ensureContext(ctx)

	id := strings.TrimSpace(claims.PartyID)
	if id == "" {
		return nil, appErrors.Validation("party id is required")
	}
	if !claims.Role.Valid() {
		return nil, appErrors.Validation("role %q is not recognised", claims.Role)
	}

	now := s.now()
	party := models.Party{
		ID:            id,
		Name:          strings.TrimSpace(claims.Name),
		Organization:  strings.TrimSpace(claims.Organization),
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		Role:          claims.Role,
		WalletAddress: strings.ToLower(strings.TrimSpace(claims.WalletAddress)),
		IsActive:      true,
		LastSeenAt:    &now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "organization", "email", "wallet_address", "last_seen_at", "updated_at"}),
	}).Create(&party).Error
	if err != nil {
		return nil, fmt.Errorf("party service: sync party: %w", err)
	}

	return s.Get(ctx, id)
}

// Get returns a party by identifier.
func (s *PartyService) Get(ctx context.Context, id string) (*models.Party, error) {
	var party models.Party
	if err := s.db.WithContext(ensureContext(ctx)).First(&party, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NotFound("party %s not found", id)
		}
		return nil, fmt.Errorf("party service: get party: %w", err)
	}
	return &party, nil
}

// ListCertifiers returns active certifiers producers can assign requests to.
func (s *PartyService) ListCertifiers(ctx context.Context) ([]models.Party, error) {
	var certifiers []models.Party
	err := s.db.WithContext(ensureContext(ctx)).
		Where("role = ? AND is_active = ?", models.RoleCertifier, true).
		Order("organization ASC, name ASC").
		Find(&certifiers).Error
	if err != nil {
		return nil, fmt.Errorf("party service: list certifiers: %w", err)
	}
	return certifiers, nil
}
