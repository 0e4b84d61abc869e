package service

import "github.com/google/uuid"

// Notifier доставляет события статусов подписанным дашбордам.
// Реализуется ws-хабом; сервисы не блокируются на доставке.
type Notifier interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// Имена событий статусов.
const (
	EventOfferAccepted      = "offer.accepted"
	EventOfferRejected      = "offer.rejected"
	EventEscrowConfirmed    = "escrow.confirmed"
	EventEscrowFailed       = "escrow.failed"
	EventEscrowRefunded     = "escrow.refunded"
	EventEscrowReleased     = "escrow.released"
	EventBillingReviewed    = "billing.reviewed"
	EventInvoiceIssued      = "invoice.issued"
	EventTerminationDecided = "termination.decided"
)
