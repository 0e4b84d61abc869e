package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/gateway"
	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

type EscrowRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error)
	GetOpenByOfferID(ctx context.Context, offerID uuid.UUID) (*models.EscrowPayment, error)
	Create(ctx context.Context, offerID uuid.UUID, amount decimal.Decimal, currency string, actorID uuid.UUID) (*models.EscrowPayment, error)
	MarkEscrowed(ctx context.Context, paymentID uuid.UUID, gatewayRef string, refundableUntil *time.Time) (*models.EscrowPayment, error)
	MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (*models.EscrowPayment, error)
	Release(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error)
	Refund(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error)
}

type EscrowOfferReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
}

type EscrowContractReader interface {
	GetByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Contract, error)
}

type EscrowBillingReader interface {
	CountOutstandingByContract(ctx context.Context, contractID uuid.UUID) (int, error)
}

// EscrowService управляет удержанием средств под принятые офферы.
// Длинная операция шлюза разбита на две фазы: Initiate возвращает
// pending немедленно, подтверждение приходит вебхуком.
type EscrowService struct {
	repo      EscrowRepository
	offers    EscrowOfferReader
	contracts EscrowContractReader
	billing   EscrowBillingReader
	gw        gateway.Client
	notifier  Notifier
}

func NewEscrowService(repo EscrowRepository, offers EscrowOfferReader, contracts EscrowContractReader, billing EscrowBillingReader, gw gateway.Client) *EscrowService {
	return &EscrowService{
		repo:      repo,
		offers:    offers,
		contracts: contracts,
		billing:   billing,
		gw:        gw,
	}
}

func (s *EscrowService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *EscrowService) Get(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

func (s *EscrowService) GetByOffer(ctx context.Context, offerID uuid.UUID) (*models.EscrowPayment, error) {
	return s.repo.GetOpenByOfferID(ctx, offerID)
}

// Initiate создаёт pending-платёж ровно на сумму бюджета оффера и просит
// шлюз удержать средства. Вносить средства может только клиент оффера.
// Ошибка шлюза переводит платёж в failed; запись остаётся для аудита,
// повторный Initiate создаст новую.
func (s *EscrowService) Initiate(ctx context.Context, offerID, actorID uuid.UUID) (*models.EscrowPayment, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if actorID != offer.ClientID {
		return nil, apperror.ErrForbidden
	}

	payment, err := s.repo.Create(ctx, offerID, offer.TotalBudget, offer.Currency, actorID)
	if err != nil {
		return nil, err
	}

	if err := s.gw.HoldFunds(ctx, payment.ID, payment.Amount, payment.Currency); err != nil {
		if failed, markErr := s.repo.MarkFailed(ctx, payment.ID, err.Error()); markErr == nil {
			payment = failed
		} else if logger.Log != nil {
			logger.Log.WithError(markErr).Error("не удалось пометить платёж failed после ошибки шлюза")
		}
		return payment, apperror.Wrap(err, apperror.ErrCodeGateway, "шлюз отклонил удержание средств")
	}

	return payment, nil
}

// HandleWebhook обрабатывает подтверждение или отказ шлюза.
// Идемпотентна при повторной доставке: MarkEscrowed узнаёт повтор по
// gateway_ref и ничего не меняет.
func (s *EscrowService) HandleWebhook(ctx context.Context, event gateway.WebhookEvent) (*models.EscrowPayment, error) {
	switch event.Status {
	case gateway.WebhookStatusEscrowed:
		payment, err := s.repo.MarkEscrowed(ctx, event.PaymentID, event.GatewayRef, nil)
		if err != nil {
			return nil, err
		}
		s.notifyOfferParties(ctx, payment, EventEscrowConfirmed)
		return payment, nil
	case gateway.WebhookStatusFailed:
		reason := event.Reason
		if reason == "" {
			reason = "gateway declined"
		}
		payment, err := s.repo.MarkFailed(ctx, event.PaymentID, reason)
		if err != nil {
			return nil, err
		}
		s.notifyOfferParties(ctx, payment, EventEscrowFailed)
		return payment, nil
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный статус вебхука")
	}
}

// Release перечисляет удержанные средства фрилансеру. Разрешено только
// когда весь биллинг контракта проведён и закрыт счетами.
func (s *EscrowService) Release(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != valueobject.EscrowStatusEscrowed {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"release возможен только из состояния escrowed")
	}

	contract, err := s.contracts.GetByOfferID(ctx, payment.OfferID)
	if err != nil {
		return nil, err
	}
	outstanding, err := s.billing.CountOutstandingByContract(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	if outstanding > 0 {
		return nil, apperror.New(apperror.ErrCodeConflict,
			"по контракту остался непроведённый биллинг")
	}

	// Escrowed-платёж без gateway_ref — повреждённая запись; двигать
	// статус без движения денег нельзя.
	if payment.GatewayRef == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "у escrowed-платежа отсутствует gateway_ref")
	}

	// Сначала движение денег у шлюза, затем авторитетная запись. При
	// падении между шагами повтор безопасен: шлюз идемпотентен по
	// gateway_ref, а запись ещё в escrowed.
	if err := s.gw.ReleaseFunds(ctx, payment.ID, *payment.GatewayRef); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "шлюз отклонил выплату")
	}

	released, err := s.repo.Release(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s.notifyOfferParties(ctx, released, EventEscrowReleased)
	return released, nil
}

// Refund возвращает удержанные средства клиенту. Используется только
// координатором расторжения.
func (s *EscrowService) Refund(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != valueobject.EscrowStatusEscrowed {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"refund возможен только из состояния escrowed")
	}

	if payment.GatewayRef == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "у escrowed-платежа отсутствует gateway_ref")
	}

	if err := s.gw.RefundFunds(ctx, payment.ID, *payment.GatewayRef); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "шлюз отклонил возврат")
	}

	refunded, err := s.repo.Refund(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	s.notifyOfferParties(ctx, refunded, EventEscrowRefunded)
	return refunded, nil
}

// notifyOfferParties шлёт событие статуса клиенту оффера.
func (s *EscrowService) notifyOfferParties(ctx context.Context, payment *models.EscrowPayment, event string) {
	if s.notifier == nil {
		return
	}
	offer, err := s.offers.GetByID(ctx, payment.OfferID)
	if err != nil {
		return
	}
	if err := s.notifier.BroadcastToUser(offer.ClientID, event, payment); err != nil && logger.Log != nil {
		logger.Log.WithError(err).Warn("не удалось отправить событие статуса")
	}
}
