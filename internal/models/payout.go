package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
)

// PayoutBatch — замороженная группа единиц биллинга одного фрилансера.
// TotalAmount вычисляется один раз при создании пакета и никогда не
// пересчитывается.
type PayoutBatch struct {
	ID           uuid.UUID               `db:"id" json:"id"`
	FreelancerID uuid.UUID               `db:"freelancer_id" json:"freelancer_id"`
	TotalAmount  decimal.Decimal         `db:"total_amount" json:"total_amount"`
	Currency     string                  `db:"currency" json:"currency"`
	UnitCount    int                     `db:"unit_count" json:"unit_count"`
	Status       valueobject.BatchStatus `db:"status" json:"status"`
	CreatedAt    time.Time               `db:"created_at" json:"created_at"`
}

// Invoice — неизменяемый счёт по пакету выплат. После выпуска суммы
// не правятся: исправления оформляются новым счётом со ссылкой
// CorrectsInvoiceID на спорный.
type Invoice struct {
	ID                uuid.UUID                 `db:"id" json:"id"`
	PayoutBatchID     uuid.UUID                 `db:"payout_batch_id" json:"payout_batch_id"`
	InvoiceNumber     int64                     `db:"invoice_number" json:"invoice_number"`
	TotalGross        decimal.Decimal           `db:"total_gross" json:"total_gross"`
	PlatformFee       decimal.Decimal           `db:"platform_fee" json:"platform_fee"`
	TotalNet          decimal.Decimal           `db:"total_net" json:"total_net"`
	Currency          string                    `db:"currency" json:"currency"`
	Status            valueobject.InvoiceStatus `db:"status" json:"status"`
	CorrectsInvoiceID *uuid.UUID                `db:"corrects_invoice_id" json:"corrects_invoice_id,omitempty"`
	IssuedAt          *time.Time                `db:"issued_at" json:"issued_at,omitempty"`
	CreatedAt         time.Time                 `db:"created_at" json:"created_at"`
}
