package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/ledger"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/pkg/response"
)

// LedgerOperations are the operator-facing ledger remediation calls.
type LedgerOperations interface {
	ApplyConfirmation(ctx context.Context, actor permissions.Actor, conf ledger.Confirmation) (*models.CreditRequest, error)
	Resubmit(ctx context.Context, actor permissions.Actor, requestID string) (*models.CreditRequest, error)
}

type LedgerHandler struct {
	ops LedgerOperations
}

func NewLedgerHandler(ops LedgerOperations) *LedgerHandler {
	return &LedgerHandler{ops: ops}
}

type confirmationPayload struct {
	TransactionHash string `json:"transactionHash" validate:"required,max=66"`
	BlockNumber     uint64 `json:"blockNumber"`
	GasUsed         uint64 `json:"gasUsed"`
	CreditID        string `json:"creditId" validate:"max=80"`
	FailureReason   string `json:"failureReason" validate:"max=2000"`
}

// POST /api/ledger/confirmations
func (h *LedgerHandler) Confirm(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var payload confirmationPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	req, err := h.ops.ApplyConfirmation(requestContext(c), a, ledger.Confirmation{
		TxHash:          strings.ToLower(strings.TrimSpace(payload.TransactionHash)),
		BlockNumber:     payload.BlockNumber,
		GasUsed:         payload.GasUsed,
		OnchainCreditID: strings.TrimSpace(payload.CreditID),
		FailureReason:   strings.TrimSpace(payload.FailureReason),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapRequest(req))
}

// POST /api/requests/:id/ledger/resubmit
func (h *LedgerHandler) Resubmit(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	req, err := h.ops.Resubmit(requestContext(c), a, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, mapRequest(req))
}
