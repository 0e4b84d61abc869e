package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LedgerEvent — строка append-only журнала переходов. Пишется в той же
// транзакции, что и сам переход, поэтому журнал не может разойтись
// с состоянием сущностей.
type LedgerEvent struct {
	ID         int64           `db:"id" json:"id"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   uuid.UUID       `db:"entity_id" json:"entity_id"`
	ActorID    *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	OldStatus  *string         `db:"old_status" json:"old_status,omitempty"`
	NewStatus  *string         `db:"new_status" json:"new_status,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Типы сущностей в журнале.
const (
	EntityTypeOffer       = "offer"
	EntityTypeEscrow      = "escrow_payment"
	EntityTypeContract    = "contract"
	EntityTypeTermination = "termination_request"
	EntityTypeBillingUnit = "billing_unit"
	EntityTypePayoutBatch = "payout_batch"
	EntityTypeInvoice     = "invoice"
)
