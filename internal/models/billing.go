package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
)

// BillingUnit — атомарная единица выплаты: срез затреканного времени
// с привязанной ставкой. Создаётся внешней системой тайм-трекинга при
// закрытии блока времени. После перехода в charged ставка, billable-время
// и пакет заморожены навсегда.
type BillingUnit struct {
	ID              uuid.UUID                     `db:"id" json:"id"`
	SessionID       uuid.UUID                     `db:"session_id" json:"session_id"`
	ContractID      uuid.UUID                     `db:"contract_id" json:"contract_id"`
	FreelancerID    uuid.UUID                     `db:"freelancer_id" json:"freelancer_id"`
	TrackedSeconds  int64                         `db:"tracked_seconds" json:"tracked_seconds"`
	BillableSeconds int64                         `db:"billable_seconds" json:"billable_seconds"`
	HourlyRate      decimal.Decimal               `db:"hourly_rate" json:"hourly_rate"`
	Status          valueobject.BillingUnitStatus `db:"status" json:"status"`
	PayoutBatchID   *uuid.UUID                    `db:"payout_batch_id" json:"payout_batch_id,omitempty"`
	// Спорные часы: пока флаг не снят объяснением админа, review(approve)
	// отклоняется.
	Flagged        bool       `db:"flagged" json:"flagged"`
	FlagReason     *string    `db:"flag_reason" json:"flag_reason,omitempty"`
	FlagResolvedBy *uuid.UUID `db:"flag_resolved_by" json:"flag_resolved_by,omitempty"`
	FlagResolvedAt *time.Time `db:"flag_resolved_at" json:"flag_resolved_at,omitempty"`
	ReviewedBy     *uuid.UUID `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Version        int64      `db:"version" json:"version"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FlagResolved сообщает, снят ли флаг спорных часов.
func (u *BillingUnit) FlagResolved() bool {
	return !u.Flagged || u.FlagResolvedAt != nil
}
