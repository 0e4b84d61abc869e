package valueobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfferStatus_Transitions(t *testing.T) {
	assert.True(t, OfferStatusPending.CanTransitionTo(OfferStatusAccepted))
	assert.True(t, OfferStatusPending.CanTransitionTo(OfferStatusRejected))
	assert.True(t, OfferStatusPending.CanTransitionTo(OfferStatusExpired))

	// Из терминальных статусов выхода нет.
	for _, terminal := range []OfferStatus{OfferStatusAccepted, OfferStatusRejected, OfferStatusExpired} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransitionTo(OfferStatusPending))
		assert.False(t, terminal.CanTransitionTo(OfferStatusAccepted))
	}

	assert.False(t, OfferStatusPending.IsTerminal())
}

func TestNewOfferStatus(t *testing.T) {
	s, err := NewOfferStatus("pending")
	assert.NoError(t, err)
	assert.Equal(t, OfferStatusPending, s)

	_, err = NewOfferStatus("cancelled")
	assert.Error(t, err)
}

func TestEscrowStatus_Transitions(t *testing.T) {
	assert.True(t, EscrowStatusPending.CanTransitionTo(EscrowStatusEscrowed))
	assert.True(t, EscrowStatusPending.CanTransitionTo(EscrowStatusFailed))
	assert.True(t, EscrowStatusEscrowed.CanTransitionTo(EscrowStatusReleased))
	assert.True(t, EscrowStatusEscrowed.CanTransitionTo(EscrowStatusRefunded))

	// pending не освобождается и не возвращается напрямую.
	assert.False(t, EscrowStatusPending.CanTransitionTo(EscrowStatusReleased))
	assert.False(t, EscrowStatusPending.CanTransitionTo(EscrowStatusRefunded))

	// После возврата освобождение невозможно и наоборот.
	assert.False(t, EscrowStatusRefunded.CanTransitionTo(EscrowStatusReleased))
	assert.False(t, EscrowStatusReleased.CanTransitionTo(EscrowStatusRefunded))

	// failed не реанимируется.
	assert.False(t, EscrowStatusFailed.CanTransitionTo(EscrowStatusPending))
	assert.False(t, EscrowStatusFailed.CanTransitionTo(EscrowStatusEscrowed))
}

func TestContractStatus_Transitions(t *testing.T) {
	assert.True(t, ContractStatusActive.CanTransitionTo(ContractStatusTerminated))
	assert.False(t, ContractStatusTerminated.CanTransitionTo(ContractStatusActive))
}

func TestTerminationStatus_Transitions(t *testing.T) {
	assert.True(t, TerminationStatusPending.CanTransitionTo(TerminationStatusApproved))
	assert.True(t, TerminationStatusPending.CanTransitionTo(TerminationStatusRejected))
	assert.False(t, TerminationStatusApproved.CanTransitionTo(TerminationStatusRejected))
	assert.False(t, TerminationStatusRejected.CanTransitionTo(TerminationStatusApproved))
}

func TestBillingUnitStatus_Transitions(t *testing.T) {
	assert.True(t, BillingUnitStatusPending.CanTransitionTo(BillingUnitStatusApproved))
	assert.True(t, BillingUnitStatusPending.CanTransitionTo(BillingUnitStatusRejected))
	assert.True(t, BillingUnitStatusApproved.CanTransitionTo(BillingUnitStatusCharged))
	assert.True(t, BillingUnitStatusApproved.CanTransitionTo(BillingUnitStatusFailed))

	// pending не попадает в пакет мимо ревью.
	assert.False(t, BillingUnitStatusPending.CanTransitionTo(BillingUnitStatusCharged))

	// charged заморожен навсегда.
	assert.False(t, BillingUnitStatusCharged.CanTransitionTo(BillingUnitStatusApproved))
	assert.False(t, BillingUnitStatusCharged.CanTransitionTo(BillingUnitStatusPending))

	// rejected терминален.
	assert.False(t, BillingUnitStatusRejected.CanTransitionTo(BillingUnitStatusApproved))
}

func TestBatchStatus_Transitions(t *testing.T) {
	assert.True(t, BatchStatusOpen.CanTransitionTo(BatchStatusInvoiced))
	assert.False(t, BatchStatusInvoiced.CanTransitionTo(BatchStatusOpen))
}

func TestInvoiceStatus_Transitions(t *testing.T) {
	assert.True(t, InvoiceStatusDraft.CanTransitionTo(InvoiceStatusIssued))
	assert.True(t, InvoiceStatusIssued.CanTransitionTo(InvoiceStatusPaid))
	assert.True(t, InvoiceStatusIssued.CanTransitionTo(InvoiceStatusCancelled))
	assert.True(t, InvoiceStatusPending.CanTransitionTo(InvoiceStatusOverdue))
	assert.True(t, InvoiceStatusOverdue.CanTransitionTo(InvoiceStatusPaid))

	// Оплаченный и отменённый счета неизменяемы.
	assert.False(t, InvoiceStatusPaid.CanTransitionTo(InvoiceStatusCancelled))
	assert.False(t, InvoiceStatusCancelled.CanTransitionTo(InvoiceStatusIssued))
}
