package dto

import "github.com/ignatzorin/billing-engine/internal/models"

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse — стандартный формат успешного ответа с сообщением.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AcceptOfferResponse возвращает оффер вместе с созданным контрактом.
type AcceptOfferResponse struct {
	Offer    *models.Offer    `json:"offer"`
	Contract *models.Contract `json:"contract"`
}

// TerminationDecisionResponse возвращает запрос и обновлённый контракт.
type TerminationDecisionResponse struct {
	Request  *models.TerminationRequest `json:"request"`
	Contract *models.Contract           `json:"contract,omitempty"`
}

// BatchWithUnitsResponse — пакет выплат вместе с его единицами биллинга.
type BatchWithUnitsResponse struct {
	Batch *models.PayoutBatch  `json:"batch"`
	Units []models.BillingUnit `json:"units"`
}

// SweepResponse — результат ручного запуска свипа.
type SweepResponse struct {
	ExpiredOffers int `json:"expired_offers"`
	FailedEscrows int `json:"failed_escrows"`
}
