package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/billing-engine/internal/dto"
	"github.com/ignatzorin/billing-engine/internal/service"
)

// AdminHandler — служебные операции администратора.
type AdminHandler struct {
	sweeper *service.Sweeper
}

func NewAdminHandler(sweeper *service.Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Sweep POST /admin/sweep
// Ручной запуск прохода свипера вне расписания.
func (h *AdminHandler) Sweep(c *gin.Context) {
	expired, failed := h.sweeper.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, dto.SweepResponse{
		ExpiredOffers: expired,
		FailedEscrows: failed,
	})
}
