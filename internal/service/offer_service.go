package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

type OfferRepository interface {
	Create(ctx context.Context, offer *models.Offer) (*models.Offer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	Accept(ctx context.Context, offerID uuid.UUID, actorID uuid.UUID, noticeDays int) (*models.Offer, *models.Contract, error)
	Reject(ctx context.Context, offerID uuid.UUID, actorID uuid.UUID) (*models.Offer, error)
	ExpireSweep(ctx context.Context) ([]uuid.UUID, error)
}

// defaultNoticeDays — срок уведомления о расторжении для новых контрактов.
const defaultNoticeDays = 14

type OfferService struct {
	repo            OfferRepository
	defaultCurrency string
	notifier        Notifier
}

func NewOfferService(repo OfferRepository, defaultCurrency string) *OfferService {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &OfferService{repo: repo, defaultCurrency: defaultCurrency}
}

// SetNotifier подключает хаб статусов.
func (s *OfferService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Create создаёт оффер в статусе pending.
func (s *OfferService) Create(ctx context.Context, offer *models.Offer) (*models.Offer, error) {
	if !offer.TotalBudget.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "бюджет должен быть положительным")
	}
	if !offer.AgreedHourlyRate.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "ставка должна быть положительной")
	}
	if !offer.ValidUntil.After(time.Now()) {
		return nil, apperror.New(apperror.ErrCodeValidation, "срок действия оффера уже истёк")
	}
	if offer.ClientID == offer.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "клиент и фрилансер не могут совпадать")
	}
	if offer.Currency == "" {
		offer.Currency = s.defaultCurrency
	}
	return s.repo.Create(ctx, offer)
}

func (s *OfferService) Get(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return s.repo.GetByID(ctx, id)
}

// Accept принимает оффер и атомарно создаёт контракт. Принять может
// только фрилансер, которому оффер адресован.
func (s *OfferService) Accept(ctx context.Context, offerID, actorID uuid.UUID) (*models.Offer, *models.Contract, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	if actorID != offer.FreelancerID {
		return nil, nil, apperror.ErrForbidden
	}

	offer, contract, err := s.repo.Accept(ctx, offerID, actorID, defaultNoticeDays)
	if err != nil {
		return nil, nil, err
	}

	s.notify(offer.ClientID, EventOfferAccepted, offer)
	return offer, contract, nil
}

// Reject отклоняет оффер. Доступно только адресату.
func (s *OfferService) Reject(ctx context.Context, offerID, actorID uuid.UUID) (*models.Offer, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if actorID != offer.FreelancerID {
		return nil, apperror.ErrForbidden
	}

	offer, err = s.repo.Reject(ctx, offerID, actorID)
	if err != nil {
		return nil, err
	}

	s.notify(offer.ClientID, EventOfferRejected, offer)
	return offer, nil
}

// ExpireSweep переводит просроченные pending-офферы в expired.
// Вызывается только периодическим sweeper-процессом.
func (s *OfferService) ExpireSweep(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireSweep(ctx)
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 && logger.Log != nil {
		logger.Log.WithField("count", len(expired)).Info("офферы переведены в expired")
	}
	return len(expired), nil
}

func (s *OfferService) notify(userID uuid.UUID, event string, data any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BroadcastToUser(userID, event, data); err != nil && logger.Log != nil {
		logger.Log.WithError(err).Warn("не удалось отправить событие статуса")
	}
}
