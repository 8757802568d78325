package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/services"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
)

type CreditHandler struct {
	svc *services.CreditLedgerService
}

func NewCreditHandler(svc *services.CreditLedgerService) *CreditHandler {
	return &CreditHandler{svc: svc}
}

type transferPayload struct {
	To     string          `json:"to" validate:"required,max=64"`
	Amount decimal.Decimal `json:"amount" validate:"decimal_positive"`
}

type retirePayload struct {
	Amount decimal.Decimal `json:"amount" validate:"decimal_positive"`
}

// GET /api/credits
func (h *CreditHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	page, per := pagination(c)

	status := models.CreditStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		response.Error(c, appErrors.Validation("status %q is not recognised", status))
		return
	}

	credits, total, err := h.svc.List(requestContext(c), a, services.CreditListOptions{
		Page:     page,
		PageSize: per,
		Owner:    strings.TrimSpace(c.Query("owner")),
		Status:   status,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, credits, pageMeta(page, per, total))
}

// GET /api/credits/:id
func (h *CreditHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	credit, err := h.svc.Get(requestContext(c), a, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, credit)
}

// GET /api/credits/:id/history
func (h *CreditHandler) History(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	entries, err := h.svc.History(requestContext(c), a, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// POST /api/credits/:id/transfer
func (h *CreditHandler) Transfer(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var payload transferPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	result, err := h.svc.Transfer(requestContext(c), a, c.Param("id"), services.TransferInput{
		To:     strings.TrimSpace(payload.To),
		Amount: payload.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/credits/:id/retire
func (h *CreditHandler) Retire(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var payload retirePayload
	if !bindAndValidate(c, &payload) {
		return
	}

	credit, err := h.svc.Retire(requestContext(c), a, c.Param("id"), payload.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, credit)
}
