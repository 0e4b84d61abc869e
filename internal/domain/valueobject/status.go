package valueobject

import "github.com/ignatzorin/billing-engine/internal/pkg/apperror"

// Статусы всех сущностей движка — закрытые перечисления с явными
// таблицами переходов. Любой переход вне таблицы отклоняется ещё и на
// границе хранилища (guard в SQL), здесь — первая линия защиты.

type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
)

func (s OfferStatus) IsValid() bool {
	switch s {
	case OfferStatusPending, OfferStatusAccepted, OfferStatusRejected, OfferStatusExpired:
		return true
	}
	return false
}

func (s OfferStatus) IsTerminal() bool {
	return s == OfferStatusAccepted || s == OfferStatusRejected || s == OfferStatusExpired
}

// CanTransitionTo проверяет допустимость перехода. Статусы движутся
// только вперёд: из терминального состояния выхода нет.
func (s OfferStatus) CanTransitionTo(newStatus OfferStatus) bool {
	transitions := map[OfferStatus][]OfferStatus{
		OfferStatusPending:  {OfferStatusAccepted, OfferStatusRejected, OfferStatusExpired},
		OfferStatusAccepted: {},
		OfferStatusRejected: {},
		OfferStatusExpired:  {},
	}
	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

func NewOfferStatus(status string) (OfferStatus, error) {
	s := OfferStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус оффера")
	}
	return s, nil
}

type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusEscrowed EscrowStatus = "escrowed"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusFailed   EscrowStatus = "failed"
)

func (s EscrowStatus) IsValid() bool {
	switch s {
	case EscrowStatusPending, EscrowStatusEscrowed, EscrowStatusReleased,
		EscrowStatusRefunded, EscrowStatusFailed:
		return true
	}
	return false
}

// IsTerminal: released, refunded и failed — конечные состояния.
// failed-платёж не реанимируется, повторная попытка создаёт новую запись.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded || s == EscrowStatusFailed
}

func (s EscrowStatus) CanTransitionTo(newStatus EscrowStatus) bool {
	transitions := map[EscrowStatus][]EscrowStatus{
		EscrowStatusPending:  {EscrowStatusEscrowed, EscrowStatusFailed},
		EscrowStatusEscrowed: {EscrowStatusReleased, EscrowStatusRefunded},
		EscrowStatusReleased: {},
		EscrowStatusRefunded: {},
		EscrowStatusFailed:   {},
	}
	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

type ContractStatus string

const (
	ContractStatusActive     ContractStatus = "active"
	ContractStatusTerminated ContractStatus = "terminated"
)

func (s ContractStatus) IsValid() bool {
	return s == ContractStatusActive || s == ContractStatusTerminated
}

func (s ContractStatus) CanTransitionTo(newStatus ContractStatus) bool {
	// Контракт расторгается один раз и никогда не возвращается в active.
	return s == ContractStatusActive && newStatus == ContractStatusTerminated
}

type TerminationStatus string

const (
	TerminationStatusPending  TerminationStatus = "pending"
	TerminationStatusApproved TerminationStatus = "approved"
	TerminationStatusRejected TerminationStatus = "rejected"
)

func (s TerminationStatus) IsValid() bool {
	switch s {
	case TerminationStatusPending, TerminationStatusApproved, TerminationStatusRejected:
		return true
	}
	return false
}

func (s TerminationStatus) CanTransitionTo(newStatus TerminationStatus) bool {
	transitions := map[TerminationStatus][]TerminationStatus{
		TerminationStatusPending:  {TerminationStatusApproved, TerminationStatusRejected},
		TerminationStatusApproved: {},
		TerminationStatusRejected: {},
	}
	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

type BillingUnitStatus string

const (
	BillingUnitStatusPending  BillingUnitStatus = "pending"
	BillingUnitStatusApproved BillingUnitStatus = "approved"
	BillingUnitStatusRejected BillingUnitStatus = "rejected"
	BillingUnitStatusCharged  BillingUnitStatus = "charged"
	BillingUnitStatusFailed   BillingUnitStatus = "failed"
)

func (s BillingUnitStatus) IsValid() bool {
	switch s {
	case BillingUnitStatusPending, BillingUnitStatusApproved, BillingUnitStatusRejected,
		BillingUnitStatusCharged, BillingUnitStatusFailed:
		return true
	}
	return false
}

func (s BillingUnitStatus) CanTransitionTo(newStatus BillingUnitStatus) bool {
	transitions := map[BillingUnitStatus][]BillingUnitStatus{
		BillingUnitStatusPending:  {BillingUnitStatusApproved, BillingUnitStatusRejected},
		BillingUnitStatusApproved: {BillingUnitStatusCharged, BillingUnitStatusFailed},
		BillingUnitStatusCharged:  {},
		BillingUnitStatusRejected: {},
		BillingUnitStatusFailed:   {},
	}
	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

type BatchStatus string

const (
	// Пакет создаётся уже замороженным: open означает лишь «счёт ещё не выпущен».
	BatchStatusOpen     BatchStatus = "open"
	BatchStatusInvoiced BatchStatus = "invoiced"
)

func (s BatchStatus) IsValid() bool {
	return s == BatchStatusOpen || s == BatchStatusInvoiced
}

func (s BatchStatus) CanTransitionTo(newStatus BatchStatus) bool {
	return s == BatchStatusOpen && newStatus == BatchStatusInvoiced
}

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPending,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo: суммы выпущенного счёта неизменяемы, меняться может
// только платёжный статус. Исправления оформляются новым счётом.
func (s InvoiceStatus) CanTransitionTo(newStatus InvoiceStatus) bool {
	transitions := map[InvoiceStatus][]InvoiceStatus{
		InvoiceStatusDraft:     {InvoiceStatusIssued, InvoiceStatusCancelled},
		InvoiceStatusIssued:    {InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
		InvoiceStatusPending:   {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
		InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusCancelled},
		InvoiceStatusPaid:      {},
		InvoiceStatusCancelled: {},
	}
	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}
