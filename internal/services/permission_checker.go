package services

import (
	"context"

	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
)

// Authorizer resolves the acting party and checks it may run an operation.
// *permissions.Checker is the production implementation.
type Authorizer interface {
	Authorize(ctx context.Context, actor permissions.Actor, op permissions.Operation) (models.Party, error)
}
