package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

type BillingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.BillingUnit, error)
	Create(ctx context.Context, unit *models.BillingUnit) (*models.BillingUnit, error)
	Review(ctx context.Context, unitID uuid.UUID, approve bool, reviewerID uuid.UUID) (*models.BillingUnit, error)
	ResolveFlag(ctx context.Context, unitID uuid.UUID, adminID uuid.UUID, explanation string) (*models.BillingUnit, error)
	ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, status valueobject.BillingUnitStatus, limit, offset int) ([]models.BillingUnit, error)
}

type BillingContractReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
}

type BillingOfferReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
}

// Действия ревью.
const (
	ReviewActionApprove = "approve"
	ReviewActionReject  = "reject"
)

// BillingService — ревью единиц биллинга. Одобрение не двигает деньги,
// оно лишь делает единицу кандидатом на следующий пакет выплат.
type BillingService struct {
	repo      BillingRepository
	contracts BillingContractReader
	offers    BillingOfferReader
	notifier  Notifier
}

func NewBillingService(repo BillingRepository, contracts BillingContractReader, offers BillingOfferReader) *BillingService {
	return &BillingService{repo: repo, contracts: contracts, offers: offers}
}

func (s *BillingService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *BillingService) Get(ctx context.Context, unitID uuid.UUID) (*models.BillingUnit, error) {
	return s.repo.GetByID(ctx, unitID)
}

// Submit принимает единицу биллинга от системы тайм-трекинга при
// закрытии блока времени. Фрилансер и ставка берутся из контракта и его
// оффера, а не из запроса.
func (s *BillingService) Submit(ctx context.Context, unit *models.BillingUnit) (*models.BillingUnit, error) {
	if unit.TrackedSeconds < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "tracked_seconds не может быть отрицательным")
	}
	if unit.BillableSeconds < 0 || unit.BillableSeconds > unit.TrackedSeconds {
		return nil, apperror.New(apperror.ErrCodeValidation,
			"billable_seconds должен быть в диапазоне [0, tracked_seconds]")
	}

	contract, err := s.contracts.GetByID(ctx, unit.ContractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != valueobject.ContractStatusActive {
		return nil, apperror.New(apperror.ErrCodeStaleState, "контракт не активен")
	}

	offer, err := s.offers.GetByID(ctx, contract.OfferID)
	if err != nil {
		return nil, err
	}

	unit.FreelancerID = contract.FreelancerID
	unit.HourlyRate = offer.AgreedHourlyRate
	return s.repo.Create(ctx, unit)
}

// Review переводит pending → approved|rejected. Отклонение терминально.
func (s *BillingService) Review(ctx context.Context, unitID uuid.UUID, action string, reviewerID uuid.UUID) (*models.BillingUnit, error) {
	var approve bool
	switch action {
	case ReviewActionApprove:
		approve = true
	case ReviewActionReject:
		approve = false
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "действие должно быть approve или reject")
	}

	unit, err := s.repo.Review(ctx, unitID, approve, reviewerID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.BroadcastToUser(unit.FreelancerID, EventBillingReviewed, unit); err != nil && logger.Log != nil {
			logger.Log.WithError(err).Warn("не удалось отправить событие статуса")
		}
	}
	return unit, nil
}

// ResolveFlag снимает флаг спорных часов объяснением админа, после чего
// единицу можно одобрить.
func (s *BillingService) ResolveFlag(ctx context.Context, unitID, adminID uuid.UUID, explanation string) (*models.BillingUnit, error) {
	if explanation == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "объяснение обязательно")
	}
	return s.repo.ResolveFlag(ctx, unitID, adminID, explanation)
}

// ListByFreelancer возвращает единицы фрилансера.
func (s *BillingService) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, status string, limit, offset int) ([]models.BillingUnit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var unitStatus valueobject.BillingUnitStatus
	if status != "" {
		unitStatus = valueobject.BillingUnitStatus(status)
		if !unitStatus.IsValid() {
			return nil, apperror.New(apperror.ErrCodeValidation, "некорректный статус единицы биллинга")
		}
	}
	return s.repo.ListByFreelancer(ctx, freelancerID, unitStatus, limit, offset)
}
