package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/billing-engine/internal/dto"
	"github.com/ignatzorin/billing-engine/internal/http/handlers/common"
	"github.com/ignatzorin/billing-engine/internal/service"
)

type TerminationHandler struct {
	terminations *service.TerminationService
}

func NewTerminationHandler(terminations *service.TerminationService) *TerminationHandler {
	return &TerminationHandler{terminations: terminations}
}

// GetContract GET /contracts/:id
func (h *TerminationHandler) GetContract(c *gin.Context) {
	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.terminations.GetContract(c.Request.Context(), contractID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Request POST /contracts/:id/terminate
func (h *TerminationHandler) Request(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.RequestTerminationRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	request, err := h.terminations.RequestTermination(c.Request.Context(), contractID, userID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, request)
}

// Approve POST /terminations/:id/approve
func (h *TerminationHandler) Approve(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	requestID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	request, contract, err := h.terminations.Approve(c.Request.Context(), requestID, adminID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.TerminationDecisionResponse{Request: request, Contract: contract})
}

// Reject POST /terminations/:id/reject
func (h *TerminationHandler) Reject(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	requestID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	request, err := h.terminations.Reject(c.Request.Context(), requestID, adminID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.TerminationDecisionResponse{Request: request})
}

// Settle POST /contracts/:id/settle
func (h *TerminationHandler) Settle(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.terminations.Settle(c.Request.Context(), contractID, adminID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// RefundEscrow POST /contracts/:id/refund-escrow
func (h *TerminationHandler) RefundEscrow(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.terminations.RefundEscrow(c.Request.Context(), contractID, adminID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contract)
}
