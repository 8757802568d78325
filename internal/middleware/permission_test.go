package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
)

func TestRequireCapability(t *testing.T) {
	gin.SetMode(gin.TestMode)

	withRole := func(role models.PartyRole) gin.HandlerFunc {
		return func(c *gin.Context) {
			if role != "" {
				c.Set(CtxPartyIDKey, "party-1")
				c.Set(CtxRoleKey, role)
			}
			c.Next()
		}
	}
	serve := func(role models.PartyRole) int {
		r := gin.New()
		r.POST("/ledger", withRole(role), RequireCapability(permissions.LedgerConfirm), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ledger", nil))
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, serve(""))
	require.Equal(t, http.StatusForbidden, serve(models.RoleProducer))
	require.Equal(t, http.StatusForbidden, serve(models.RoleCertifier))
	require.Equal(t, http.StatusNoContent, serve(models.RoleOperator))
}
