package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/dto"
	"github.com/ignatzorin/billing-engine/internal/http/handlers/common"
	"github.com/ignatzorin/billing-engine/internal/service"
)

type PayoutHandler struct {
	payouts *service.PayoutService
}

func NewPayoutHandler(payouts *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

// BuildBatch POST /payouts/batches
func (h *PayoutHandler) BuildBatch(c *gin.Context) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.BuildBatchRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		common.RespondBadRequest(c, "неверный freelancer_id")
		return
	}

	batch, err := h.payouts.BuildBatch(c.Request.Context(), freelancerID, actorID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// GetBatch GET /payouts/batches/:id
func (h *PayoutHandler) GetBatch(c *gin.Context) {
	batchID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	batch, err := h.payouts.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		c.Error(err)
		return
	}

	units, err := h.payouts.ListBatchUnits(c.Request.Context(), batchID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.BatchWithUnitsResponse{Batch: batch, Units: units})
}

// FinalizeInvoice POST /payouts/batches/:id/invoice
func (h *PayoutHandler) FinalizeInvoice(c *gin.Context) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	batchID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	invoice, err := h.payouts.FinalizeInvoice(c.Request.Context(), batchID, actorID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, invoice)
}

// GetInvoice GET /payouts/invoices/:id
func (h *PayoutHandler) GetInvoice(c *gin.Context) {
	invoiceID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	invoice, err := h.payouts.GetInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

// CorrectInvoice POST /payouts/invoices/:id/correct
func (h *PayoutHandler) CorrectInvoice(c *gin.Context) {
	actorID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	invoiceID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	corrected, err := h.payouts.CorrectInvoice(c.Request.Context(), invoiceID, actorID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, corrected)
}
