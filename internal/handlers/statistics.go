package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/services"
	"github.com/charlesng35/hycredit/pkg/response"
)

type StatisticsHandler struct {
	svc *services.StatisticsService
}

func NewStatisticsHandler(svc *services.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{svc: svc}
}

// GET /api/statistics
func (h *StatisticsHandler) Summary(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	stats, err := h.svc.Summary(requestContext(c), a)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
