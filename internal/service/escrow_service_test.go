package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/gateway"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

type mockEscrowRepo struct {
	mock.Mock
}

func (m *mockEscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) GetOpenByOfferID(ctx context.Context, offerID uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) Create(ctx context.Context, offerID uuid.UUID, amount decimal.Decimal, currency string, actorID uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, offerID, amount, currency, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) MarkEscrowed(ctx context.Context, paymentID uuid.UUID, gatewayRef string, refundableUntil *time.Time) (*models.EscrowPayment, error) {
	args := m.Called(ctx, paymentID, gatewayRef, refundableUntil)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (*models.EscrowPayment, error) {
	args := m.Called(ctx, paymentID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) Release(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

func (m *mockEscrowRepo) Refund(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowPayment), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) HoldFunds(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, currency string) error {
	args := m.Called(ctx, paymentID, amount, currency)
	return args.Error(0)
}

func (m *mockGateway) RefundFunds(ctx context.Context, paymentID uuid.UUID, gatewayRef string) error {
	args := m.Called(ctx, paymentID, gatewayRef)
	return args.Error(0)
}

func (m *mockGateway) ReleaseFunds(ctx context.Context, paymentID uuid.UUID, gatewayRef string) error {
	args := m.Called(ctx, paymentID, gatewayRef)
	return args.Error(0)
}

type mockContractReader struct {
	mock.Mock
}

func (m *mockContractReader) GetByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

type mockBillingReader struct {
	mock.Mock
}

func (m *mockBillingReader) CountOutstandingByContract(ctx context.Context, contractID uuid.UUID) (int, error) {
	args := m.Called(ctx, contractID)
	return args.Int(0), args.Error(1)
}

func newEscrowFixture() (*mockEscrowRepo, *mockOfferRepo, *mockContractReader, *mockBillingReader, *mockGateway, *EscrowService) {
	repo := new(mockEscrowRepo)
	offers := new(mockOfferRepo)
	contracts := new(mockContractReader)
	billing := new(mockBillingReader)
	gw := new(mockGateway)
	svc := NewEscrowService(repo, offers, contracts, billing, gw)
	return repo, offers, contracts, billing, gw, svc
}

func TestEscrowService_Initiate_Success(t *testing.T) {
	repo, offers, _, _, gw, svc := newEscrowFixture()
	ctx := context.Background()

	offerID := uuid.New()
	actorID := uuid.New()
	budget := decimal.RequireFromString("1500.00")
	offer := &models.Offer{ID: offerID, ClientID: actorID, TotalBudget: budget, Currency: "USD"}
	payment := &models.EscrowPayment{ID: uuid.New(), OfferID: offerID, Amount: budget, Currency: "USD", Status: valueobject.EscrowStatusPending}

	offers.On("GetByID", ctx, offerID).Return(offer, nil)
	repo.On("Create", ctx, offerID, budget, "USD", actorID).Return(payment, nil)
	gw.On("HoldFunds", ctx, payment.ID, budget, "USD").Return(nil)

	got, err := svc.Initiate(ctx, offerID, actorID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusPending, got.Status)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestEscrowService_Initiate_GatewayFailure(t *testing.T) {
	repo, offers, _, _, gw, svc := newEscrowFixture()
	ctx := context.Background()

	offerID := uuid.New()
	actorID := uuid.New()
	budget := decimal.RequireFromString("500.00")
	offer := &models.Offer{ID: offerID, ClientID: actorID, TotalBudget: budget, Currency: "USD"}
	payment := &models.EscrowPayment{ID: uuid.New(), OfferID: offerID, Amount: budget, Currency: "USD", Status: valueobject.EscrowStatusPending}
	failed := &models.EscrowPayment{ID: payment.ID, OfferID: offerID, Amount: budget, Currency: "USD", Status: valueobject.EscrowStatusFailed}

	offers.On("GetByID", ctx, offerID).Return(offer, nil)
	repo.On("Create", ctx, offerID, budget, "USD", actorID).Return(payment, nil)
	gw.On("HoldFunds", ctx, payment.ID, budget, "USD").Return(errors.New("insufficient funds"))
	repo.On("MarkFailed", ctx, payment.ID, "insufficient funds").Return(failed, nil)

	got, err := svc.Initiate(ctx, offerID, actorID)
	assert.Error(t, err)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeGateway, code)
	assert.Equal(t, valueobject.EscrowStatusFailed, got.Status)
	repo.AssertExpectations(t)
}

func TestEscrowService_Initiate_OnlyClient(t *testing.T) {
	repo, offers, _, _, gw, svc := newEscrowFixture()
	ctx := context.Background()

	offerID := uuid.New()
	offer := &models.Offer{
		ID:           offerID,
		ClientID:     uuid.New(),
		FreelancerID: uuid.New(),
		TotalBudget:  decimal.RequireFromString("1500.00"),
		Currency:     "USD",
	}
	offers.On("GetByID", ctx, offerID).Return(offer, nil)

	// Ни посторонний, ни фрилансер не могут внести средства за клиента.
	_, err := svc.Initiate(ctx, offerID, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = svc.Initiate(ctx, offerID, offer.FreelancerID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	repo.AssertNotCalled(t, "Create")
	gw.AssertNotCalled(t, "HoldFunds")
}

func TestEscrowService_HandleWebhook_Escrowed(t *testing.T) {
	repo, offers, _, _, _, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	offerID := uuid.New()
	ref := "gw-ref-42"
	payment := &models.EscrowPayment{ID: paymentID, OfferID: offerID, Status: valueobject.EscrowStatusEscrowed, GatewayRef: &ref}

	repo.On("MarkEscrowed", ctx, paymentID, ref, (*time.Time)(nil)).Return(payment, nil)
	offers.On("GetByID", ctx, offerID).Return(&models.Offer{ID: offerID, ClientID: uuid.New()}, nil).Maybe()

	got, err := svc.HandleWebhook(ctx, gateway.WebhookEvent{
		PaymentID:  paymentID,
		GatewayRef: ref,
		Status:     gateway.WebhookStatusEscrowed,
	})
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusEscrowed, got.Status)
	repo.AssertExpectations(t)
}

func TestEscrowService_HandleWebhook_UnknownStatus(t *testing.T) {
	_, _, _, _, _, svc := newEscrowFixture()

	_, err := svc.HandleWebhook(context.Background(), gateway.WebhookEvent{Status: "teleported"})
	assert.True(t, apperror.IsValidation(err))
}

func TestEscrowService_Release_BlockedByOutstandingBilling(t *testing.T) {
	repo, _, contracts, billing, gw, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	offerID := uuid.New()
	contractID := uuid.New()
	ref := "gw-ref-7"
	payment := &models.EscrowPayment{ID: paymentID, OfferID: offerID, Status: valueobject.EscrowStatusEscrowed, GatewayRef: &ref}

	repo.On("GetByID", ctx, paymentID).Return(payment, nil)
	contracts.On("GetByOfferID", ctx, offerID).Return(&models.Contract{ID: contractID, OfferID: offerID}, nil)
	billing.On("CountOutstandingByContract", ctx, contractID).Return(3, nil)

	_, err := svc.Release(ctx, paymentID)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeConflict, code)
	gw.AssertNotCalled(t, "ReleaseFunds")
	repo.AssertNotCalled(t, "Release")
}

func TestEscrowService_Release_Success(t *testing.T) {
	repo, offers, contracts, billing, gw, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	offerID := uuid.New()
	contractID := uuid.New()
	ref := "gw-ref-9"
	payment := &models.EscrowPayment{ID: paymentID, OfferID: offerID, Status: valueobject.EscrowStatusEscrowed, GatewayRef: &ref}
	released := &models.EscrowPayment{ID: paymentID, OfferID: offerID, Status: valueobject.EscrowStatusReleased, GatewayRef: &ref}

	repo.On("GetByID", ctx, paymentID).Return(payment, nil)
	contracts.On("GetByOfferID", ctx, offerID).Return(&models.Contract{ID: contractID, OfferID: offerID}, nil)
	billing.On("CountOutstandingByContract", ctx, contractID).Return(0, nil)
	gw.On("ReleaseFunds", ctx, paymentID, ref).Return(nil)
	repo.On("Release", ctx, paymentID).Return(released, nil)
	offers.On("GetByID", ctx, offerID).Return(&models.Offer{ID: offerID, ClientID: uuid.New()}, nil).Maybe()

	got, err := svc.Release(ctx, paymentID)
	assert.NoError(t, err)
	assert.Equal(t, valueobject.EscrowStatusReleased, got.Status)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestEscrowService_Release_MissingGatewayRef(t *testing.T) {
	repo, _, contracts, billing, gw, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	offerID := uuid.New()
	contractID := uuid.New()
	payment := &models.EscrowPayment{ID: paymentID, OfferID: offerID, Status: valueobject.EscrowStatusEscrowed}

	repo.On("GetByID", ctx, paymentID).Return(payment, nil)
	contracts.On("GetByOfferID", ctx, offerID).Return(&models.Contract{ID: contractID, OfferID: offerID}, nil)
	billing.On("CountOutstandingByContract", ctx, contractID).Return(0, nil)

	_, err := svc.Release(ctx, paymentID)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeInternal, code)
	// Без gateway_ref запись не переводится: деньги не двигались.
	gw.AssertNotCalled(t, "ReleaseFunds")
	repo.AssertNotCalled(t, "Release")
}

func TestEscrowService_Refund_MissingGatewayRef(t *testing.T) {
	repo, _, _, _, gw, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	payment := &models.EscrowPayment{ID: paymentID, Status: valueobject.EscrowStatusEscrowed}
	repo.On("GetByID", ctx, paymentID).Return(payment, nil)

	_, err := svc.Refund(ctx, paymentID)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeInternal, code)
	gw.AssertNotCalled(t, "RefundFunds")
	repo.AssertNotCalled(t, "Refund")
}

func TestEscrowService_Refund_RequiresEscrowed(t *testing.T) {
	repo, _, _, _, gw, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	payment := &models.EscrowPayment{ID: paymentID, Status: valueobject.EscrowStatusReleased}
	repo.On("GetByID", ctx, paymentID).Return(payment, nil)

	_, err := svc.Refund(ctx, paymentID)
	assert.True(t, apperror.IsInvalidTransition(err))
	gw.AssertNotCalled(t, "RefundFunds")
}

func TestEscrowService_Refund_GatewayFirst(t *testing.T) {
	repo, _, _, _, gw, svc := newEscrowFixture()
	ctx := context.Background()

	paymentID := uuid.New()
	ref := "gw-ref-11"
	payment := &models.EscrowPayment{ID: paymentID, Status: valueobject.EscrowStatusEscrowed, GatewayRef: &ref}

	repo.On("GetByID", ctx, paymentID).Return(payment, nil)
	gw.On("RefundFunds", ctx, paymentID, ref).Return(errors.New("gateway down"))

	_, err := svc.Refund(ctx, paymentID)
	code, ok := apperror.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperror.ErrCodeGateway, code)
	// Авторитетная запись не трогается, пока шлюз не подтвердил возврат.
	repo.AssertNotCalled(t, "Refund")
}
