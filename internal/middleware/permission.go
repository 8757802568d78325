package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/metrics"
	"github.com/charlesng35/hycredit/pkg/response"
)

// RequireCapability rejects requests whose role lacks capability before any
// handler runs. Services still authorize every operation against the stored party.
func RequireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		allowed, err := permissions.HasCapability(actor.Role, capability)
		if err != nil {
			metrics.PermissionChecks.WithLabelValues(capability, "error").Inc()
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}
		if !allowed {
			metrics.PermissionChecks.WithLabelValues(capability, "deny").Inc()
			response.Error(c, errors.ErrAuthorization.WithMessage("role %s lacks %s", actor.Role, capability))
			c.Abort()
			return
		}
		c.Next()
	}
}
