package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/dto"
	"github.com/ignatzorin/billing-engine/internal/http/handlers/common"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/service"
)

type BillingHandler struct {
	billing *service.BillingService
}

func NewBillingHandler(billing *service.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// Submit POST /billing/units
func (h *BillingHandler) Submit(c *gin.Context) {
	var req dto.SubmitBillingUnitRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		common.RespondBadRequest(c, "неверный session_id")
		return
	}
	contractID, err := uuid.Parse(req.ContractID)
	if err != nil {
		common.RespondBadRequest(c, "неверный contract_id")
		return
	}

	unit := &models.BillingUnit{
		SessionID:       sessionID,
		ContractID:      contractID,
		TrackedSeconds:  req.TrackedSeconds,
		BillableSeconds: req.BillableSeconds,
		Flagged:         req.Flagged,
	}
	if req.FlagReason != "" {
		unit.FlagReason = &req.FlagReason
	}

	created, err := h.billing.Submit(c.Request.Context(), unit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// Get GET /billing/units/:id
func (h *BillingHandler) Get(c *gin.Context) {
	unitID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	unit, err := h.billing.Get(c.Request.Context(), unitID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, unit)
}

// Review POST /billing/units/:id/review
func (h *BillingHandler) Review(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	unitID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ReviewBillingUnitRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	unit, err := h.billing.Review(c.Request.Context(), unitID, req.Action, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, unit)
}

// ResolveFlag POST /billing/units/:id/resolve-flag
func (h *BillingHandler) ResolveFlag(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	unitID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ResolveFlagRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	unit, err := h.billing.ResolveFlag(c.Request.Context(), unitID, adminID, req.Explanation)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, unit)
}

// ListMy GET /billing/units
func (h *BillingHandler) ListMy(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	status := c.Query("status")

	units, err := h.billing.ListByFreelancer(c.Request.Context(), userID, status, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, units)
}
