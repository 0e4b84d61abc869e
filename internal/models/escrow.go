package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
)

// EscrowPayment — удержание средств клиента под принятый оффер.
// Amount равен total_budget оффера и неизменяем после выхода из pending.
// Неудачные платежи сохраняются для аудита: повторная попытка создаёт
// новую запись, а не мутирует старую.
type EscrowPayment struct {
	ID              uuid.UUID                `db:"id" json:"id"`
	OfferID         uuid.UUID                `db:"offer_id" json:"offer_id"`
	Amount          decimal.Decimal          `db:"amount" json:"amount"`
	Currency        string                   `db:"currency" json:"currency"`
	Status          valueobject.EscrowStatus `db:"status" json:"status"`
	GatewayRef      *string                  `db:"gateway_ref" json:"gateway_ref,omitempty"`
	FailureReason   *string                  `db:"failure_reason" json:"failure_reason,omitempty"`
	EscrowedAt      *time.Time               `db:"escrowed_at" json:"escrowed_at,omitempty"`
	RefundableUntil *time.Time               `db:"refundable_until" json:"refundable_until,omitempty"`
	Version         int64                    `db:"version" json:"version"`
	CreatedAt       time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                `db:"updated_at" json:"updated_at"`
}
