package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/services"
	"github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	page, per := pagination(c)

	filters := services.AuditFilters{
		Action:    c.Query("action"),
		ActorID:   c.Query("actor_id"),
		RequestID: c.Query("request_id"),
		CreditID:  c.Query("credit_id"),
		Result:    c.Query("result"),
	}
	for key, dest := range map[string]**time.Time{"since": &filters.Since, "until": &filters.Until} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.Validation("%s must be an RFC3339 timestamp", key))
			return
		}
		*dest = &t
	}

	logs, total, err := h.svc.List(requestContext(c), a, services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, pageMeta(page, per, total))
}
