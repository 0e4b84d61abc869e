package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/gateway"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

func gatewayEvent(paymentID uuid.UUID) gateway.WebhookEvent {
	return gateway.WebhookEvent{
		PaymentID:  paymentID,
		GatewayRef: "gw-" + paymentID.String(),
		Status:     gateway.WebhookStatusEscrowed,
	}
}

// Хранилище в памяти, повторяющее инварианты SQL-репозиториев.
// Используется сквозными сценариями полного жизненного цикла, где
// сервисы собраны вместе как в main, но без базы и шлюза.
type memStore struct {
	mu        sync.Mutex
	offers    map[uuid.UUID]*models.Offer
	contracts map[uuid.UUID]*models.Contract
	payments  map[uuid.UUID]*models.EscrowPayment
	units     map[uuid.UUID]*models.BillingUnit
	batches   map[uuid.UUID]*models.PayoutBatch
	invoices  map[uuid.UUID]*models.Invoice
	requests  map[uuid.UUID]*models.TerminationRequest
}

func newMemStore() *memStore {
	return &memStore{
		offers:    map[uuid.UUID]*models.Offer{},
		contracts: map[uuid.UUID]*models.Contract{},
		payments:  map[uuid.UUID]*models.EscrowPayment{},
		units:     map[uuid.UUID]*models.BillingUnit{},
		batches:   map[uuid.UUID]*models.PayoutBatch{},
		invoices:  map[uuid.UUID]*models.Invoice{},
		requests:  map[uuid.UUID]*models.TerminationRequest{},
	}
}

type memOffers struct{ s *memStore }

func (r *memOffers) Create(_ context.Context, offer *models.Offer) (*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	offer.ID = uuid.New()
	offer.Status = valueobject.OfferStatusPending
	offer.CreatedAt = time.Now()
	r.s.offers[offer.ID] = offer
	return offer, nil
}

func (r *memOffers) GetByID(_ context.Context, id uuid.UUID) (*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	offer, ok := r.s.offers[id]
	if !ok {
		return nil, apperror.ErrOfferNotFound
	}
	return offer, nil
}

func (r *memOffers) Accept(_ context.Context, offerID uuid.UUID, _ uuid.UUID, noticeDays int) (*models.Offer, *models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	offer, ok := r.s.offers[offerID]
	if !ok {
		return nil, nil, apperror.ErrOfferNotFound
	}
	if offer.Status != valueobject.OfferStatusPending {
		return nil, nil, apperror.New(apperror.ErrCodeStaleState,
			fmt.Sprintf("оффер уже в состоянии %s", offer.Status))
	}
	if time.Now().After(offer.ValidUntil) {
		return nil, nil, apperror.New(apperror.ErrCodeStaleState, "срок действия оффера истёк")
	}
	offer.Status = valueobject.OfferStatusAccepted
	contract := &models.Contract{
		ID:                    uuid.New(),
		OfferID:               offer.ID,
		ClientID:              offer.ClientID,
		FreelancerID:          offer.FreelancerID,
		Status:                valueobject.ContractStatusActive,
		StartedAt:             time.Now(),
		TerminationNoticeDays: noticeDays,
	}
	r.s.contracts[contract.ID] = contract
	return offer, contract, nil
}

func (r *memOffers) Reject(_ context.Context, offerID uuid.UUID, _ uuid.UUID) (*models.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	offer, ok := r.s.offers[offerID]
	if !ok {
		return nil, apperror.ErrOfferNotFound
	}
	if offer.Status != valueobject.OfferStatusPending {
		return nil, apperror.New(apperror.ErrCodeStaleState,
			fmt.Sprintf("оффер уже в состоянии %s", offer.Status))
	}
	offer.Status = valueobject.OfferStatusRejected
	return offer, nil
}

func (r *memOffers) ExpireSweep(_ context.Context) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var expired []uuid.UUID
	for _, offer := range r.s.offers {
		if offer.Status == valueobject.OfferStatusPending && time.Now().After(offer.ValidUntil) {
			offer.Status = valueobject.OfferStatusExpired
			expired = append(expired, offer.ID)
		}
	}
	return expired, nil
}

type memContracts struct{ s *memStore }

func (r *memContracts) GetByID(_ context.Context, id uuid.UUID) (*models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	contract, ok := r.s.contracts[id]
	if !ok {
		return nil, apperror.ErrContractNotFound
	}
	return contract, nil
}

func (r *memContracts) GetByOfferID(_ context.Context, offerID uuid.UUID) (*models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, contract := range r.s.contracts {
		if contract.OfferID == offerID {
			return contract, nil
		}
	}
	return nil, apperror.ErrContractNotFound
}

func (r *memContracts) GetTerminationRequest(_ context.Context, id uuid.UUID) (*models.TerminationRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[id]
	if !ok {
		return nil, apperror.ErrRequestNotFound
	}
	return request, nil
}

func (r *memContracts) CreateTerminationRequest(_ context.Context, contractID, requestedBy uuid.UUID, reason string) (*models.TerminationRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	contract, ok := r.s.contracts[contractID]
	if !ok {
		return nil, apperror.ErrContractNotFound
	}
	if contract.Status != valueobject.ContractStatusActive {
		return nil, apperror.New(apperror.ErrCodeStaleState, "контракт не активен")
	}
	for _, req := range r.s.requests {
		if req.ContractID == contractID && req.Status == valueobject.TerminationStatusPending {
			return nil, apperror.New(apperror.ErrCodeConflict, "по контракту уже есть открытый запрос")
		}
	}
	request := &models.TerminationRequest{
		ID:          uuid.New(),
		ContractID:  contractID,
		RequestedBy: requestedBy,
		Reason:      reason,
		Status:      valueobject.TerminationStatusPending,
		CreatedAt:   time.Now(),
	}
	r.s.requests[request.ID] = request
	return request, nil
}

func (r *memContracts) ApproveTermination(_ context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, *models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[requestID]
	if !ok {
		return nil, nil, apperror.ErrRequestNotFound
	}
	if request.Status != valueobject.TerminationStatusPending {
		return nil, nil, apperror.New(apperror.ErrCodeStaleState, "запрос уже рассмотрен")
	}
	contract := r.s.contracts[request.ContractID]
	if contract == nil || contract.Status != valueobject.ContractStatusActive {
		return nil, nil, apperror.New(apperror.ErrCodeStaleState, "контракт не активен")
	}
	now := time.Now()
	request.Status = valueobject.TerminationStatusApproved
	request.DecidedBy = &adminID
	request.DecidedAt = &now
	contract.Status = valueobject.ContractStatusTerminated
	contract.TerminatedAt = &now
	return request, contract, nil
}

func (r *memContracts) RejectTermination(_ context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[requestID]
	if !ok {
		return nil, apperror.ErrRequestNotFound
	}
	if request.Status != valueobject.TerminationStatusPending {
		return nil, apperror.New(apperror.ErrCodeStaleState, "запрос уже рассмотрен")
	}
	now := time.Now()
	request.Status = valueobject.TerminationStatusRejected
	request.DecidedBy = &adminID
	request.DecidedAt = &now
	return request, nil
}

func (r *memContracts) MarkSettled(_ context.Context, contractID uuid.UUID, _ uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	contract, ok := r.s.contracts[contractID]
	if !ok {
		return false, apperror.ErrContractNotFound
	}
	changed := !contract.Settled
	contract.Settled = true
	return changed, nil
}

func (r *memContracts) MarkEscrowRefunded(_ context.Context, contractID uuid.UUID, _ uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	contract, ok := r.s.contracts[contractID]
	if !ok {
		return false, apperror.ErrContractNotFound
	}
	changed := !contract.EscrowRefunded
	contract.EscrowRefunded = true
	return changed, nil
}

type memEscrow struct{ s *memStore }

func (r *memEscrow) GetByID(_ context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[id]
	if !ok {
		return nil, apperror.ErrEscrowNotFound
	}
	return payment, nil
}

func (r *memEscrow) GetOpenByOfferID(_ context.Context, offerID uuid.UUID) (*models.EscrowPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, payment := range r.s.payments {
		if payment.OfferID == offerID && payment.Status != valueobject.EscrowStatusFailed {
			return payment, nil
		}
	}
	return nil, apperror.ErrEscrowNotFound
}

func (r *memEscrow) Create(_ context.Context, offerID uuid.UUID, amount decimal.Decimal, currency string, _ uuid.UUID) (*models.EscrowPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	offer, ok := r.s.offers[offerID]
	if !ok {
		return nil, apperror.ErrOfferNotFound
	}
	if offer.Status != valueobject.OfferStatusAccepted {
		return nil, apperror.New(apperror.ErrCodeStaleState, "оффер не принят, escrow невозможен")
	}
	for _, payment := range r.s.payments {
		if payment.OfferID == offerID && payment.Status != valueobject.EscrowStatusFailed {
			return nil, apperror.New(apperror.ErrCodeConflict, "по офферу уже есть незавершённый платёж")
		}
	}
	payment := &models.EscrowPayment{
		ID:        uuid.New(),
		OfferID:   offerID,
		Amount:    amount,
		Currency:  currency,
		Status:    valueobject.EscrowStatusPending,
		CreatedAt: time.Now(),
	}
	r.s.payments[payment.ID] = payment
	return payment, nil
}

func (r *memEscrow) MarkEscrowed(_ context.Context, paymentID uuid.UUID, gatewayRef string, refundableUntil *time.Time) (*models.EscrowPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[paymentID]
	if !ok {
		return nil, apperror.ErrEscrowNotFound
	}
	if payment.Status == valueobject.EscrowStatusEscrowed &&
		payment.GatewayRef != nil && *payment.GatewayRef == gatewayRef {
		return payment, nil
	}
	if payment.Status != valueobject.EscrowStatusPending {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("платёж в состоянии %s не может стать escrowed", payment.Status))
	}
	now := time.Now()
	payment.Status = valueobject.EscrowStatusEscrowed
	payment.GatewayRef = &gatewayRef
	payment.EscrowedAt = &now
	payment.RefundableUntil = refundableUntil
	return payment, nil
}

func (r *memEscrow) MarkFailed(_ context.Context, paymentID uuid.UUID, reason string) (*models.EscrowPayment, error) {
	return r.transition(paymentID, valueobject.EscrowStatusPending, valueobject.EscrowStatusFailed, &reason)
}

func (r *memEscrow) Release(_ context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	return r.transition(paymentID, valueobject.EscrowStatusEscrowed, valueobject.EscrowStatusReleased, nil)
}

func (r *memEscrow) Refund(_ context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	return r.transition(paymentID, valueobject.EscrowStatusEscrowed, valueobject.EscrowStatusRefunded, nil)
}

func (r *memEscrow) transition(paymentID uuid.UUID, from, to valueobject.EscrowStatus, reason *string) (*models.EscrowPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[paymentID]
	if !ok {
		return nil, apperror.ErrEscrowNotFound
	}
	if payment.Status != from {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("платёж в состоянии %s не может стать %s", payment.Status, to))
	}
	payment.Status = to
	payment.FailureReason = reason
	return payment, nil
}

type memBilling struct{ s *memStore }

func (r *memBilling) GetByID(_ context.Context, id uuid.UUID) (*models.BillingUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	unit, ok := r.s.units[id]
	if !ok {
		return nil, apperror.ErrBillingUnitNotFound
	}
	return unit, nil
}

func (r *memBilling) Create(_ context.Context, unit *models.BillingUnit) (*models.BillingUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.units {
		if existing.SessionID == unit.SessionID {
			return existing, nil
		}
	}
	unit.ID = uuid.New()
	unit.Status = valueobject.BillingUnitStatusPending
	unit.CreatedAt = time.Now()
	r.s.units[unit.ID] = unit
	return unit, nil
}

func (r *memBilling) Review(_ context.Context, unitID uuid.UUID, approve bool, reviewerID uuid.UUID) (*models.BillingUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	unit, ok := r.s.units[unitID]
	if !ok {
		return nil, apperror.ErrBillingUnitNotFound
	}
	if unit.Status != valueobject.BillingUnitStatusPending {
		return nil, apperror.New(apperror.ErrCodeStaleState,
			fmt.Sprintf("единица биллинга уже в состоянии %s", unit.Status))
	}
	if approve && !unit.FlagResolved() {
		return nil, apperror.New(apperror.ErrCodeFlaggedUnit, "спорные часы: сначала снимите флаг объяснением")
	}
	now := time.Now()
	if approve {
		unit.Status = valueobject.BillingUnitStatusApproved
	} else {
		unit.Status = valueobject.BillingUnitStatusRejected
	}
	unit.ReviewedBy = &reviewerID
	unit.ReviewedAt = &now
	return unit, nil
}

func (r *memBilling) ResolveFlag(_ context.Context, unitID uuid.UUID, adminID uuid.UUID, _ string) (*models.BillingUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	unit, ok := r.s.units[unitID]
	if !ok {
		return nil, apperror.ErrBillingUnitNotFound
	}
	if !unit.Flagged {
		return nil, apperror.New(apperror.ErrCodeValidation, "единица биллинга не помечена как спорная")
	}
	if unit.FlagResolvedAt == nil {
		now := time.Now()
		unit.FlagResolvedBy = &adminID
		unit.FlagResolvedAt = &now
	}
	return unit, nil
}

func (r *memBilling) ListByFreelancer(_ context.Context, freelancerID uuid.UUID, status valueobject.BillingUnitStatus, limit, _ int) ([]models.BillingUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var units []models.BillingUnit
	for _, unit := range r.s.units {
		if unit.FreelancerID != freelancerID {
			continue
		}
		if status != "" && unit.Status != status {
			continue
		}
		units = append(units, *unit)
		if len(units) == limit {
			break
		}
	}
	return units, nil
}

func (r *memBilling) CountOutstandingByContract(_ context.Context, contractID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, unit := range r.s.units {
		if unit.ContractID != contractID {
			continue
		}
		switch unit.Status {
		case valueobject.BillingUnitStatusPending, valueobject.BillingUnitStatusApproved:
			count++
		case valueobject.BillingUnitStatusCharged:
			if unit.PayoutBatchID == nil || !r.s.hasLiveInvoiceLocked(*unit.PayoutBatchID) {
				count++
			}
		}
	}
	return count, nil
}

func (r *memBilling) HasApprovedByContract(_ context.Context, contractID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, unit := range r.s.units {
		if unit.ContractID == contractID && unit.Status == valueobject.BillingUnitStatusApproved && unit.PayoutBatchID == nil {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) hasLiveInvoiceLocked(batchID uuid.UUID) bool {
	for _, invoice := range s.invoices {
		if invoice.PayoutBatchID == batchID && invoice.Status != valueobject.InvoiceStatusCancelled {
			return true
		}
	}
	return false
}

type memPayouts struct{ s *memStore }

func (r *memPayouts) GetBatchByID(_ context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	batch, ok := r.s.batches[id]
	if !ok {
		return nil, apperror.ErrBatchNotFound
	}
	return batch, nil
}

func (r *memPayouts) GetInvoiceByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	invoice, ok := r.s.invoices[id]
	if !ok {
		return nil, apperror.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (r *memPayouts) ListUnitsByBatch(_ context.Context, batchID uuid.UUID) ([]models.BillingUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var units []models.BillingUnit
	for _, unit := range r.s.units {
		if unit.PayoutBatchID != nil && *unit.PayoutBatchID == batchID {
			units = append(units, *unit)
		}
	}
	return units, nil
}

func (r *memPayouts) BuildBatch(_ context.Context, freelancerID uuid.UUID, currency string, _ uuid.UUID) (*models.PayoutBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var picked []*models.BillingUnit
	for _, unit := range r.s.units {
		if unit.FreelancerID == freelancerID && unit.Status == valueobject.BillingUnitStatusApproved && unit.PayoutBatchID == nil {
			picked = append(picked, unit)
		}
	}
	return r.s.assembleBatchLocked(freelancerID, picked, currency)
}

func (r *memPayouts) BuildBatchForContract(_ context.Context, contractID uuid.UUID, currency string, _ uuid.UUID) (*models.PayoutBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	contract, ok := r.s.contracts[contractID]
	if !ok {
		return nil, apperror.ErrContractNotFound
	}
	var picked []*models.BillingUnit
	for _, unit := range r.s.units {
		if unit.ContractID == contractID && unit.Status == valueobject.BillingUnitStatusApproved && unit.PayoutBatchID == nil {
			picked = append(picked, unit)
		}
	}
	return r.s.assembleBatchLocked(contract.FreelancerID, picked, currency)
}

func (s *memStore) assembleBatchLocked(freelancerID uuid.UUID, units []*models.BillingUnit, currency string) (*models.PayoutBatch, error) {
	if len(units) == 0 {
		return nil, apperror.New(apperror.ErrCodeEmptyBatch, "нет одобренных единиц для выплаты")
	}
	total := decimal.Zero
	for _, u := range units {
		total = total.Add(valueobject.AmountForSeconds(u.BillableSeconds, u.HourlyRate))
	}
	batch := &models.PayoutBatch{
		ID:           uuid.New(),
		FreelancerID: freelancerID,
		TotalAmount:  total,
		Currency:     currency,
		UnitCount:    len(units),
		Status:       valueobject.BatchStatusOpen,
		CreatedAt:    time.Now(),
	}
	s.batches[batch.ID] = batch
	for _, u := range units {
		u.Status = valueobject.BillingUnitStatusCharged
		u.PayoutBatchID = &batch.ID
	}
	return batch, nil
}

func (r *memPayouts) CreateInvoice(_ context.Context, batchID uuid.UUID, invoiceNumber int64, split valueobject.FeeSplit, currency string, correctsInvoiceID *uuid.UUID, _ uuid.UUID) (*models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	batch, ok := r.s.batches[batchID]
	if !ok {
		return nil, apperror.ErrBatchNotFound
	}
	if batch.Status != valueobject.BatchStatusOpen && correctsInvoiceID == nil {
		return nil, apperror.New(apperror.ErrCodeDuplicateInvoice, "по пакету уже выпущен счёт")
	}
	now := time.Now()
	invoice := &models.Invoice{
		ID:                uuid.New(),
		PayoutBatchID:     batchID,
		InvoiceNumber:     invoiceNumber,
		TotalGross:        split.Gross,
		PlatformFee:       split.Fee,
		TotalNet:          split.Net,
		Currency:          currency,
		Status:            valueobject.InvoiceStatusIssued,
		CorrectsInvoiceID: correctsInvoiceID,
		IssuedAt:          &now,
		CreatedAt:         now,
	}
	r.s.invoices[invoice.ID] = invoice
	batch.Status = valueobject.BatchStatusInvoiced
	return invoice, nil
}

func (r *memPayouts) GetLiveInvoiceByBatch(_ context.Context, batchID uuid.UUID) (*models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, invoice := range r.s.invoices {
		if invoice.PayoutBatchID == batchID && invoice.Status != valueobject.InvoiceStatusCancelled {
			return invoice, nil
		}
	}
	return nil, apperror.ErrInvoiceNotFound
}

func (r *memPayouts) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	return fn(nil)
}

func (r *memPayouts) CancelInvoice(_ context.Context, _ *sqlx.Tx, invoiceID uuid.UUID, _ uuid.UUID) (*models.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	invoice, ok := r.s.invoices[invoiceID]
	if !ok {
		return nil, apperror.ErrInvoiceNotFound
	}
	if !invoice.Status.CanTransitionTo(valueobject.InvoiceStatusCancelled) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("счёт в состоянии %s нельзя отменить", invoice.Status))
	}
	invoice.Status = valueobject.InvoiceStatusCancelled
	return invoice, nil
}

func (r *memPayouts) InsertCorrectedInvoice(ctx context.Context, _ *sqlx.Tx, prior *models.Invoice, invoiceNumber int64, split valueobject.FeeSplit, actorID uuid.UUID) (*models.Invoice, error) {
	return r.CreateInvoice(ctx, prior.PayoutBatchID, invoiceNumber, split, prior.Currency, &prior.ID, actorID)
}

// memGateway подтверждает всё и считает вызовы.
type memGateway struct {
	holds    int
	releases int
	refunds  int
}

func (g *memGateway) HoldFunds(context.Context, uuid.UUID, decimal.Decimal, string) error {
	g.holds++
	return nil
}

func (g *memGateway) ReleaseFunds(context.Context, uuid.UUID, string) error {
	g.releases++
	return nil
}

func (g *memGateway) RefundFunds(context.Context, uuid.UUID, string) error {
	g.refunds++
	return nil
}

type lifecycleFixture struct {
	store   *memStore
	gw      *memGateway
	offers  *OfferService
	escrow  *EscrowService
	billing *BillingService
	payouts *PayoutService
	term    *TerminationService
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	store := newMemStore()
	offerRepo := &memOffers{s: store}
	contractRepo := &memContracts{s: store}
	escrowRepo := &memEscrow{s: store}
	billingRepo := &memBilling{s: store}
	payoutRepo := &memPayouts{s: store}
	gw := &memGateway{}

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	payoutSvc := NewPayoutService(payoutRepo, node, decimal.RequireFromString("0.10"), "USD")
	escrowSvc := NewEscrowService(escrowRepo, offerRepo, contractRepo, billingRepo, gw)
	return &lifecycleFixture{
		store:   store,
		gw:      gw,
		offers:  NewOfferService(offerRepo, "USD"),
		escrow:  escrowSvc,
		billing: NewBillingService(billingRepo, contractRepo, offerRepo),
		payouts: payoutSvc,
		term:    NewTerminationService(contractRepo, billingRepo, payoutSvc, escrowSvc),
	}
}

// acceptedContract прогоняет начало цикла: оффер, принятие, escrow с
// подтверждением шлюза. Возвращает контракт с подтверждённым платежом.
func (f *lifecycleFixture) acceptedContract(t *testing.T, ctx context.Context, clientID, freelancerID uuid.UUID, budget, rate string) (*models.Contract, *models.EscrowPayment) {
	t.Helper()
	offer, err := f.offers.Create(ctx, &models.Offer{
		ProjectID:        uuid.New(),
		ClientID:         clientID,
		FreelancerID:     freelancerID,
		TotalBudget:      decimal.RequireFromString(budget),
		AgreedHourlyRate: decimal.RequireFromString(rate),
		ValidUntil:       time.Now().Add(72 * time.Hour),
	})
	assert.NoError(t, err)

	_, contract, err := f.offers.Accept(ctx, offer.ID, freelancerID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.ContractStatusActive, contract.Status)

	payment, err := f.escrow.Initiate(ctx, offer.ID, clientID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusPending, payment.Status)

	payment, err = f.escrow.HandleWebhook(ctx, gatewayEvent(payment.ID))
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusEscrowed, payment.Status)
	return contract, payment
}

func (f *lifecycleFixture) submitApproved(t *testing.T, ctx context.Context, contractID uuid.UUID, billableSeconds int64, adminID uuid.UUID) *models.BillingUnit {
	t.Helper()
	unit, err := f.billing.Submit(ctx, &models.BillingUnit{
		SessionID:       uuid.New(),
		ContractID:      contractID,
		TrackedSeconds:  billableSeconds,
		BillableSeconds: billableSeconds,
	})
	assert.NoError(t, err)
	unit, err = f.billing.Review(ctx, unit.ID, ReviewActionApprove, adminID)
	assert.NoError(t, err)
	return unit
}

func TestLifecycle_OfferToInvoiceAndRelease(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	clientID := uuid.New()
	freelancerID := uuid.New()
	adminID := uuid.New()

	contract, payment := f.acceptedContract(t, ctx, clientID, freelancerID, "1500.00", "75.00")
	assert.Equal(t, 1, f.gw.holds)

	// Три закрытых блока времени: 2 часа, 1.5 часа и 30 минут по 75.00.
	f.submitApproved(t, ctx, contract.ID, 7200, adminID)
	f.submitApproved(t, ctx, contract.ID, 5400, adminID)
	f.submitApproved(t, ctx, contract.ID, 1800, adminID)

	// Пока биллинг не закрыт счётом, release заблокирован.
	_, err := f.escrow.Release(ctx, payment.ID)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeConflict, code)
	assert.Equal(t, 0, f.gw.releases)

	batch, err := f.payouts.BuildBatch(ctx, freelancerID, adminID)
	assert.NoError(t, err)
	assert.Equal(t, 3, batch.UnitCount)
	assert.True(t, batch.TotalAmount.Equal(decimal.RequireFromString("300.00")),
		"ожидалось 300.00, получено %s", batch.TotalAmount)

	// Пакет собран, но счёт ещё не выпущен: единицы всё ещё «в пути».
	_, err = f.escrow.Release(ctx, payment.ID)
	code, ok = apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeConflict, code)

	invoice, err := f.payouts.FinalizeInvoice(ctx, batch.ID, adminID)
	assert.NoError(t, err)
	assert.True(t, invoice.TotalGross.Equal(decimal.RequireFromString("300.00")))
	assert.True(t, invoice.PlatformFee.Equal(decimal.RequireFromString("30.00")))
	assert.True(t, invoice.TotalNet.Equal(decimal.RequireFromString("270.00")))
	assert.True(t, invoice.TotalGross.Sub(invoice.PlatformFee).Equal(invoice.TotalNet))

	// Повторный счёт по тому же пакету невозможен.
	_, err = f.payouts.FinalizeInvoice(ctx, batch.ID, adminID)
	code, ok = apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeDuplicateInvoice, code)

	released, err := f.escrow.Release(ctx, payment.ID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusReleased, released.Status)
	assert.Equal(t, 1, f.gw.releases)
}

func TestLifecycle_TerminationSettlementAndRefund(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	clientID := uuid.New()
	freelancerID := uuid.New()
	adminID := uuid.New()

	contract, payment := f.acceptedContract(t, ctx, clientID, freelancerID, "2000.00", "90.00")
	unit := f.submitApproved(t, ctx, contract.ID, 3600, adminID)

	// Второй активный контракт того же фрилансера со своей одобренной
	// единицей: финальный счёт расторжения не должен её захватить.
	other, _ := f.acceptedContract(t, ctx, uuid.New(), freelancerID, "500.00", "50.00")
	otherUnit := f.submitApproved(t, ctx, other.ID, 7200, adminID)

	request, err := f.term.RequestTermination(ctx, contract.ID, freelancerID, "проект свёрнут")
	assert.NoError(t, err)

	_, terminated, err := f.term.Approve(ctx, request.ID, adminID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.ContractStatusTerminated, terminated.Status)

	settled, err := f.term.Settle(ctx, contract.ID, adminID)
	assert.NoError(t, err)
	assert.True(t, settled.Settled)

	// Единица расторгнутого контракта закрыта счётом, чужая не тронута.
	settledUnit, err := f.billing.Get(ctx, unit.ID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.BillingUnitStatusCharged, settledUnit.Status)
	assert.NotNil(t, settledUnit.PayoutBatchID)

	untouched, err := f.billing.Get(ctx, otherUnit.ID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.BillingUnitStatusApproved, untouched.Status)
	assert.Nil(t, untouched.PayoutBatchID)

	finalInvoice, err := f.payouts.GetInvoice(ctx, findInvoiceID(f.store, *settledUnit.PayoutBatchID))
	assert.NoError(t, err)
	// Час по 90.00 минус комиссия 10%.
	assert.True(t, finalInvoice.TotalGross.Equal(decimal.RequireFromString("90.00")))
	assert.True(t, finalInvoice.TotalNet.Equal(decimal.RequireFromString("81.00")))

	refunded, err := f.term.RefundEscrow(ctx, contract.ID, adminID)
	assert.NoError(t, err)
	assert.True(t, refunded.EscrowRefunded)
	assert.Equal(t, 1, f.gw.refunds)

	got, err := f.escrow.Get(ctx, payment.ID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusRefunded, got.Status)

	// После возврата выплата невозможна: деньги уже ушли клиенту.
	_, err = f.escrow.Release(ctx, payment.ID)
	assert.True(t, apperror.IsInvalidTransition(err))
	assert.Equal(t, 0, f.gw.releases)

	// Повторы обоих шагов — успех без эффектов.
	again, err := f.term.Settle(ctx, contract.ID, adminID)
	assert.NoError(t, err)
	assert.True(t, again.Settled)

	again, err = f.term.RefundEscrow(ctx, contract.ID, adminID)
	assert.NoError(t, err)
	assert.True(t, again.EscrowRefunded)
	assert.Equal(t, 1, f.gw.refunds)
}

func findInvoiceID(s *memStore, batchID uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, invoice := range s.invoices {
		if invoice.PayoutBatchID == batchID {
			return id
		}
	}
	return uuid.Nil
}
