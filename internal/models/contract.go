package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
)

// Contract создаётся атомарно вместе с принятием оффера и никогда не
// удаляется физически — только логическое расторжение с сохранением
// истории.
type Contract struct {
	ID                     uuid.UUID                  `db:"id" json:"id"`
	OfferID                uuid.UUID                  `db:"offer_id" json:"offer_id"`
	ClientID               uuid.UUID                  `db:"client_id" json:"client_id"`
	FreelancerID           uuid.UUID                  `db:"freelancer_id" json:"freelancer_id"`
	Status                 valueobject.ContractStatus `db:"status" json:"status"`
	StartedAt              time.Time                  `db:"started_at" json:"started_at"`
	TerminationNoticeDays  int                        `db:"termination_notice_days" json:"termination_notice_days"`
	// Settled и EscrowRefunded — кэш-флаги расторжения. Источник истины —
	// записи счетов и escrow-платежа, флаги лишь ускоряют повторные вызовы.
	Settled        bool       `db:"settled" json:"settled"`
	EscrowRefunded bool       `db:"escrow_refunded" json:"escrow_refunded"`
	TerminatedAt   *time.Time `db:"terminated_at" json:"terminated_at,omitempty"`
	Version        int64      `db:"version" json:"version"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TerminationRequest — запрос на расторжение контракта.
// На контракт допускается не более одного открытого (pending) запроса.
type TerminationRequest struct {
	ID          uuid.UUID                     `db:"id" json:"id"`
	ContractID  uuid.UUID                     `db:"contract_id" json:"contract_id"`
	RequestedBy uuid.UUID                     `db:"requested_by" json:"requested_by"`
	Reason      string                        `db:"reason" json:"reason"`
	Status      valueobject.TerminationStatus `db:"status" json:"status"`
	DecidedBy   *uuid.UUID                    `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt   *time.Time                    `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt   time.Time                     `db:"created_at" json:"created_at"`
}
