package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/middleware"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/services"
	"github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
)

type PartyHandler struct {
	svc *services.PartyService
}

func NewPartyHandler(svc *services.PartyService) *PartyHandler {
	return &PartyHandler{svc: svc}
}

type certifierDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
	IsVerified   bool   `json:"isVerified"`
}

// GET /api/parties/me
func (h *PartyHandler) Me(c *gin.Context) {
	party, ok := c.Get(middleware.CtxPartyKey)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, party.(*models.Party))
}

// GET /api/parties/certifiers
func (h *PartyHandler) Certifiers(c *gin.Context) {
	certifiers, err := h.svc.ListCertifiers(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]certifierDTO, 0, len(certifiers))
	for _, p := range certifiers {
		out = append(out, certifierDTO{
			ID:           p.ID,
			Name:         p.Name,
			Organization: p.Organization,
			Email:        p.Email,
			IsVerified:   p.IsVerified,
		})
	}
	response.Success(c, http.StatusOK, out)
}
