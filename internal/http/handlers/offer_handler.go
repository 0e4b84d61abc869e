package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/dto"
	"github.com/ignatzorin/billing-engine/internal/http/handlers/common"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/service"
)

type OfferHandler struct {
	offers *service.OfferService
}

func NewOfferHandler(offers *service.OfferService) *OfferHandler {
	return &OfferHandler{offers: offers}
}

// Create POST /offers
func (h *OfferHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateOfferRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		common.RespondBadRequest(c, "неверный project_id")
		return
	}
	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		common.RespondBadRequest(c, "неверный freelancer_id")
		return
	}
	validUntil, err := time.Parse(time.RFC3339, req.ValidUntil)
	if err != nil {
		common.RespondBadRequest(c, "valid_until должен быть в формате RFC3339")
		return
	}

	offer := &models.Offer{
		ProjectID:        projectID,
		ClientID:         userID,
		FreelancerID:     freelancerID,
		TotalBudget:      req.TotalBudget,
		AgreedHourlyRate: req.AgreedHourlyRate,
		EstimatedHours:   req.EstimatedHours,
		Currency:         req.Currency,
		ValidUntil:       validUntil,
	}

	created, err := h.offers.Create(c.Request.Context(), offer)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// Get GET /offers/:id
func (h *OfferHandler) Get(c *gin.Context) {
	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	offer, err := h.offers.Get(c.Request.Context(), offerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

// Accept POST /offers/:id/accept
func (h *OfferHandler) Accept(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	offer, contract, err := h.offers.Accept(c.Request.Context(), offerID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.AcceptOfferResponse{Offer: offer, Contract: contract})
}

// Reject POST /offers/:id/reject
func (h *OfferHandler) Reject(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	offer, err := h.offers.Reject(c.Request.Context(), offerID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, offer)
}
