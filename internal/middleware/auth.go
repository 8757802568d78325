package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/auditctx"
	iauth "github.com/charlesng35/hycredit/internal/auth"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/internal/services"
	"github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
)

const (
	CtxClaimsKey  = "authClaims"
	CtxPartyIDKey = "partyID"
	CtxRoleKey    = "partyRole"
	CtxPartyKey   = "party"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPartyIDKey, claims.PartyID)
		c.Set(CtxRoleKey, claims.Role)

		c.Next()
	}
}

// Identity mirrors the authenticated party into the party directory so that
// services can resolve it. It must run after Auth.
func Identity(parties *services.PartyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.Get(CtxClaimsKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		pc := claims.(*iauth.Claims)

		party, err := parties.Sync(c.Request.Context(), services.PartyClaims{
			PartyID:       pc.PartyID,
			Role:          pc.Role,
			Name:          pc.Name,
			Organization:  pc.Organization,
			Email:         pc.Email,
			WalletAddress: pc.WalletAddress,
		})
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(auditctx.WithClient(c.Request.Context(), auditctx.Client{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}))

		// The stored role is authoritative once a party is known.
		c.Set(CtxPartyKey, party)
		c.Set(CtxRoleKey, party.Role)
		c.Next()
	}
}

// ActorFrom returns the authenticated party as a permissions actor.
func ActorFrom(c *gin.Context) (permissions.Actor, bool) {
	id := c.GetString(CtxPartyIDKey)
	if id == "" {
		return permissions.Actor{}, false
	}
	role, _ := c.Get(CtxRoleKey)
	r, _ := role.(models.PartyRole)
	return permissions.Actor{ID: id, Role: r}, true
}
