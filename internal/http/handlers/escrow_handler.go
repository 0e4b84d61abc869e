package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/billing-engine/internal/gateway"
	"github.com/ignatzorin/billing-engine/internal/http/handlers/common"
	"github.com/ignatzorin/billing-engine/internal/service"
)

type EscrowHandler struct {
	escrow        *service.EscrowService
	webhookSecret string
}

func NewEscrowHandler(escrow *service.EscrowService, webhookSecret string) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, webhookSecret: webhookSecret}
}

// Initiate POST /offers/:id/escrow
func (h *EscrowHandler) Initiate(c *gin.Context) {
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

	payment, err := h.escrow.Initiate(c.Request.Context(), offerID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// Get GET /escrow/:id
func (h *EscrowHandler) Get(c *gin.Context) {
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.escrow.Get(c.Request.Context(), paymentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// GetByOffer GET /offers/:id/escrow
func (h *EscrowHandler) GetByOffer(c *gin.Context) {
	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.escrow.GetByOffer(c.Request.Context(), offerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Webhook POST /escrow/webhook
// Подпись проверяется по сырому телу до разбора JSON.
func (h *EscrowHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	signature := c.GetHeader("X-Gateway-Signature")
	if !gateway.VerifySignature(h.webhookSecret, body, signature) {
		common.RespondError(c, http.StatusUnauthorized, "неверная подпись вебхука")
		return
	}

	var event gateway.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		common.RespondBadRequest(c, "некорректный формат вебхука")
		return
	}

	payment, err := h.escrow.HandleWebhook(c.Request.Context(), event)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Release POST /escrow/:id/release
func (h *EscrowHandler) Release(c *gin.Context) {
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.escrow.Release(c.Request.Context(), paymentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Refund POST /escrow/:id/refund
func (h *EscrowHandler) Refund(c *gin.Context) {
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.escrow.Refund(c.Request.Context(), paymentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}
