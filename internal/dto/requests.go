package dto

import "github.com/shopspring/decimal"

// CreateOfferRequest — тело POST /api/offers.
type CreateOfferRequest struct {
	ProjectID        string          `json:"project_id" binding:"required,uuid"`
	FreelancerID     string          `json:"freelancer_id" binding:"required,uuid"`
	TotalBudget      decimal.Decimal `json:"total_budget" binding:"required"`
	AgreedHourlyRate decimal.Decimal `json:"agreed_hourly_rate" binding:"required"`
	EstimatedHours   *int            `json:"estimated_hours,omitempty"`
	Currency         string          `json:"currency,omitempty"`
	ValidUntil       string          `json:"valid_until" binding:"required"`
}

// SubmitBillingUnitRequest — тело POST /api/billing/units.
// Отправляется системой тайм-трекинга при закрытии блока времени.
type SubmitBillingUnitRequest struct {
	SessionID       string `json:"session_id" binding:"required,uuid"`
	ContractID      string `json:"contract_id" binding:"required,uuid"`
	TrackedSeconds  int64  `json:"tracked_seconds" binding:"required,gt=0"`
	BillableSeconds int64  `json:"billable_seconds" binding:"gte=0"`
	Flagged         bool   `json:"flagged"`
	FlagReason      string `json:"flag_reason,omitempty"`
}

// ReviewBillingUnitRequest — тело POST /api/billing/units/:id/review.
type ReviewBillingUnitRequest struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
}

// ResolveFlagRequest — тело POST /api/billing/units/:id/resolve-flag.
type ResolveFlagRequest struct {
	Explanation string `json:"explanation" binding:"required"`
}

// BuildBatchRequest — тело POST /api/payouts/batches.
type BuildBatchRequest struct {
	FreelancerID string `json:"freelancer_id" binding:"required,uuid"`
}

// RequestTerminationRequest — тело POST /api/contracts/:id/terminate.
type RequestTerminationRequest struct {
	Reason string `json:"reason" binding:"required"`
}
