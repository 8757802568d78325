package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/metrics"
)

// Actor is the authenticated party performing an operation.
type Actor struct {
	ID   string
	Role models.PartyRole
}

// Checker evaluates capabilities for parties stored in the database.
type Checker struct {
	db *gorm.DB
}

// NewChecker constructs a checker backed by the provided database.
func NewChecker(db *gorm.DB) (*Checker, error) {
	if db == nil {
		return nil, errors.New("permission checker: db is required")
	}
	return &Checker{db: db}, nil
}

// Authorize resolves the party behind actor and checks it may run op. The stored
// party is authoritative: inactive parties are refused and the stored role wins.
func (c *Checker) Authorize(ctx context.Context, actor Actor, op Operation) (models.Party, error) {
	ctx = ensureContext(ctx)

	capability, ok := RequiredCapability(op)
	if !ok {
		return models.Party{}, fmt.Errorf("permission checker: unknown operation %q", op)
	}

	actorID := strings.TrimSpace(actor.ID)
	if actorID == "" {
		metrics.PermissionChecks.WithLabelValues(capability, "deny").Inc()
		return models.Party{}, appErrors.ErrAuthorization.WithMessage("an authenticated party is required")
	}

	var party models.Party
	if err := c.db.WithContext(ctx).First(&party, "id = ?", actorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.PermissionChecks.WithLabelValues(capability, "deny").Inc()
			return models.Party{}, appErrors.ErrAuthorization.WithMessage("party %s is not registered", actorID)
		}
		metrics.PermissionChecks.WithLabelValues(capability, "error").Inc()
		return models.Party{}, fmt.Errorf("permission checker: load party: %w", err)
	}

	allowed, err := HasCapability(party.Role, capability)
	if err != nil {
		metrics.PermissionChecks.WithLabelValues(capability, "error").Inc()
		return models.Party{}, err
	}
	if !party.IsActive || !allowed {
		metrics.PermissionChecks.WithLabelValues(capability, "deny").Inc()
		return models.Party{}, appErrors.ErrAuthorization.WithMessage("%s parties cannot %s", strings.ToLower(string(party.Role)), strings.ReplaceAll(string(op), "_", " "))
	}

	metrics.PermissionChecks.WithLabelValues(capability, "allow").Inc()
	return party, nil
}

// HasCapability reports whether role holds capability together with all of its dependencies.
func HasCapability(role models.PartyRole, capability string) (bool, error) {
	if _, ok := Get(capability); !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownPermission, capability)
	}

	granted := make(map[string]struct{})
	for _, id := range roleGrants[role] {
		granted[id] = struct{}{}
	}
	if _, ok := granted[capability]; !ok {
		return false, nil
	}

	deps, err := ResolveDependencies(capability)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		if _, ok := granted[dep]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
