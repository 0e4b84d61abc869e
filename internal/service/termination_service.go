package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

type ContractRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	GetByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Contract, error)
	GetTerminationRequest(ctx context.Context, id uuid.UUID) (*models.TerminationRequest, error)
	CreateTerminationRequest(ctx context.Context, contractID, requestedBy uuid.UUID, reason string) (*models.TerminationRequest, error)
	ApproveTermination(ctx context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, *models.Contract, error)
	RejectTermination(ctx context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, error)
	MarkSettled(ctx context.Context, contractID uuid.UUID, actorID uuid.UUID) (bool, error)
	MarkEscrowRefunded(ctx context.Context, contractID uuid.UUID, actorID uuid.UUID) (bool, error)
}

type SettlementBillingReader interface {
	HasApprovedByContract(ctx context.Context, contractID uuid.UUID) (bool, error)
}

type SettlementPayouts interface {
	BuildBatchForContract(ctx context.Context, contractID, actorID uuid.UUID) (*models.PayoutBatch, error)
	FinalizeInvoice(ctx context.Context, batchID, actorID uuid.UUID) (*models.Invoice, error)
}

type SettlementEscrow interface {
	GetByOffer(ctx context.Context, offerID uuid.UUID) (*models.EscrowPayment, error)
	Refund(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error)
}

// TerminationService координирует расторжение контракта и два
// независимых шага после него: закрытие биллинга финальным счётом и
// возврат escrow. Оба шага идемпотентны; кэш-флаги контракта лишь
// ускоряют повторы, истина всегда сверяется по записям платежей и счетов.
type TerminationService struct {
	contracts ContractRepository
	billing   SettlementBillingReader
	payouts   SettlementPayouts
	escrow    SettlementEscrow
	notifier  Notifier
}

func NewTerminationService(contracts ContractRepository, billing SettlementBillingReader, payouts SettlementPayouts, escrow SettlementEscrow) *TerminationService {
	return &TerminationService{
		contracts: contracts,
		billing:   billing,
		payouts:   payouts,
		escrow:    escrow,
	}
}

func (s *TerminationService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *TerminationService) GetContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	return s.contracts.GetByID(ctx, contractID)
}

// RequestTermination открывает запрос на расторжение. Требовать может
// любая сторона контракта; второй открытый запрос не допускается.
func (s *TerminationService) RequestTermination(ctx context.Context, contractID, requestedBy uuid.UUID, reason string) (*models.TerminationRequest, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина расторжения обязательна")
	}

	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if requestedBy != contract.ClientID && requestedBy != contract.FreelancerID {
		return nil, apperror.ErrForbidden
	}

	return s.contracts.CreateTerminationRequest(ctx, contractID, requestedBy, reason)
}

// Approve утверждает запрос и расторгает контракт. Деньги не двигаются:
// settle и refund_escrow вызываются отдельно, в любом порядке.
func (s *TerminationService) Approve(ctx context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, *models.Contract, error) {
	request, contract, err := s.contracts.ApproveTermination(ctx, requestID, adminID)
	if err != nil {
		return nil, nil, err
	}

	s.notifyParties(contract, EventTerminationDecided, request)
	return request, contract, nil
}

// Reject отклоняет запрос, контракт остаётся активным.
func (s *TerminationService) Reject(ctx context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, error) {
	request, err := s.contracts.RejectTermination(ctx, requestID, adminID)
	if err != nil {
		return nil, err
	}

	if contract, getErr := s.contracts.GetByID(ctx, request.ContractID); getErr == nil {
		s.notifyParties(contract, EventTerminationDecided, request)
	}
	return request, nil
}

// Settle закрывает оставшийся одобренный биллинг контракта финальным
// счётом. Идемпотентна: повторный вызов возвращает успех без эффектов.
// Безопасна к падению между выпуском счёта и записью флага — флаг
// восстанавливается по фактическому состоянию биллинга.
func (s *TerminationService) Settle(ctx context.Context, contractID, actorID uuid.UUID) (*models.Contract, error) {
	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != valueobject.ContractStatusTerminated {
		return nil, apperror.New(apperror.ErrCodeStaleState, "контракт не расторгнут")
	}
	if contract.Settled {
		return contract, nil
	}

	// Истина — в хранилище, не во флаге: смотрим, остались ли
	// одобренные единицы, не попавшие в пакет.
	hasApproved, err := s.billing.HasApprovedByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if hasApproved {
		// Пакет строго в рамках контракта: одобренные единицы других
		// контрактов фрилансера в финальный счёт не попадают.
		batch, err := s.payouts.BuildBatchForContract(ctx, contractID, actorID)
		if err != nil {
			// Пустой пакет при settlement — не ошибка: единицы успел
			// забрать параллельный build_batch.
			if code, ok := apperror.CodeOf(err); !ok || code != apperror.ErrCodeEmptyBatch {
				return nil, err
			}
		}
		if batch != nil {
			if _, err := s.payouts.FinalizeInvoice(ctx, batch.ID, actorID); err != nil {
				// Дубликат означает, что счёт уже выпущен прошлой
				// упавшей попыткой — это и есть успех повтора.
				if code, ok := apperror.CodeOf(err); !ok || code != apperror.ErrCodeDuplicateInvoice {
					return nil, err
				}
			}
		}
	}

	if _, err := s.contracts.MarkSettled(ctx, contractID, actorID); err != nil {
		return nil, err
	}
	return s.contracts.GetByID(ctx, contractID)
}

// RefundEscrow возвращает escrow клиенту расторгнутого контракта.
// Идемпотентна: повтор после уже состоявшегося возврата или выплаты —
// успех без эффектов. Источник истины — состояние платёжной записи.
func (s *TerminationService) RefundEscrow(ctx context.Context, contractID, actorID uuid.UUID) (*models.Contract, error) {
	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != valueobject.ContractStatusTerminated {
		return nil, apperror.New(apperror.ErrCodeStaleState, "контракт не расторгнут")
	}
	if contract.EscrowRefunded {
		return contract, nil
	}

	payment, err := s.escrow.GetByOffer(ctx, contract.OfferID)
	if err != nil {
		if apperror.IsNotFound(err) {
			// Escrow так и не был создан — возвращать нечего.
			return contract, nil
		}
		return nil, err
	}

	switch payment.Status {
	case valueobject.EscrowStatusEscrowed:
		if _, err := s.escrow.Refund(ctx, payment.ID); err != nil {
			return nil, err
		}
	case valueobject.EscrowStatusRefunded:
		// Деньги уже вернулись (упавшая прошлая попытка) — осталось
		// только восстановить кэш-флаг.
	case valueobject.EscrowStatusReleased:
		// Средства уже ушли фрилансеру, возврат невозможен и не нужен.
		return contract, nil
	default:
		// pending/failed: удержания не было, возвращать нечего.
		return contract, nil
	}

	if _, err := s.contracts.MarkEscrowRefunded(ctx, contractID, actorID); err != nil {
		return nil, err
	}
	return s.contracts.GetByID(ctx, contractID)
}

func (s *TerminationService) notifyParties(contract *models.Contract, event string, data any) {
	if s.notifier == nil {
		return
	}
	for _, userID := range []uuid.UUID{contract.ClientID, contract.FreelancerID} {
		if err := s.notifier.BroadcastToUser(userID, event, data); err != nil && logger.Log != nil {
			logger.Log.WithError(err).Warn("не удалось отправить событие статуса")
		}
	}
}
