package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
)

// Offer представляет предложение клиента фрилансеру.
// total_budget фиксируется при создании; статус движется только вперёд.
type Offer struct {
	ID               uuid.UUID               `db:"id" json:"id"`
	ProjectID        uuid.UUID               `db:"project_id" json:"project_id"`
	ClientID         uuid.UUID               `db:"client_id" json:"client_id"`
	FreelancerID     uuid.UUID               `db:"freelancer_id" json:"freelancer_id"`
	TotalBudget      decimal.Decimal         `db:"total_budget" json:"total_budget"`
	AgreedHourlyRate decimal.Decimal         `db:"agreed_hourly_rate" json:"agreed_hourly_rate"`
	EstimatedHours   *int                    `db:"estimated_hours" json:"estimated_hours,omitempty"`
	Currency         string                  `db:"currency" json:"currency"`
	Status           valueobject.OfferStatus `db:"status" json:"status"`
	ValidUntil       time.Time               `db:"valid_until" json:"valid_until"`
	Version          int64                   `db:"version" json:"version"`
	CreatedAt        time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time               `db:"updated_at" json:"updated_at"`
}
