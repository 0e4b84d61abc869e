package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/logger"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

type PayoutRepository interface {
	GetBatchByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	GetInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListUnitsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.BillingUnit, error)
	BuildBatch(ctx context.Context, freelancerID uuid.UUID, currency string, actorID uuid.UUID) (*models.PayoutBatch, error)
	BuildBatchForContract(ctx context.Context, contractID uuid.UUID, currency string, actorID uuid.UUID) (*models.PayoutBatch, error)
	CreateInvoice(ctx context.Context, batchID uuid.UUID, invoiceNumber int64, split valueobject.FeeSplit, currency string, correctsInvoiceID *uuid.UUID, actorID uuid.UUID) (*models.Invoice, error)
	GetLiveInvoiceByBatch(ctx context.Context, batchID uuid.UUID) (*models.Invoice, error)
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
	CancelInvoice(ctx context.Context, tx *sqlx.Tx, invoiceID uuid.UUID, actorID uuid.UUID) (*models.Invoice, error)
	InsertCorrectedInvoice(ctx context.Context, tx *sqlx.Tx, prior *models.Invoice, invoiceNumber int64, split valueobject.FeeSplit, actorID uuid.UUID) (*models.Invoice, error)
}

// PayoutService собирает одобренные единицы в пакеты и выпускает
// неизменяемые счета. Номера счетов — snowflake: монотонные, глобально
// уникальные, без второго обращения к базе.
type PayoutService struct {
	repo     PayoutRepository
	node     *snowflake.Node
	feeRate  decimal.Decimal
	currency string
	notifier Notifier
}

func NewPayoutService(repo PayoutRepository, node *snowflake.Node, feeRate decimal.Decimal, currency string) *PayoutService {
	return &PayoutService{
		repo:     repo,
		node:     node,
		feeRate:  feeRate,
		currency: currency,
	}
}

func (s *PayoutService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *PayoutService) GetBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	return s.repo.GetBatchByID(ctx, batchID)
}

func (s *PayoutService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	return s.repo.GetInvoiceByID(ctx, invoiceID)
}

func (s *PayoutService) ListBatchUnits(ctx context.Context, batchID uuid.UUID) ([]models.BillingUnit, error) {
	return s.repo.ListUnitsByBatch(ctx, batchID)
}

// BuildBatch собирает все одобренные и ещё не упакованные единицы
// фрилансера в один пакет. Конкурентные вызовы по одному фрилансеру
// сериализуются в хранилище.
func (s *PayoutService) BuildBatch(ctx context.Context, freelancerID, actorID uuid.UUID) (*models.PayoutBatch, error) {
	return s.repo.BuildBatch(ctx, freelancerID, s.currency, actorID)
}

// BuildBatchForContract собирает пакет из единиц одного контракта.
// Финальный счёт расторжения не должен захватывать единицы других
// контрактов того же фрилансера.
func (s *PayoutService) BuildBatchForContract(ctx context.Context, contractID, actorID uuid.UUID) (*models.PayoutBatch, error) {
	return s.repo.BuildBatchForContract(ctx, contractID, s.currency, actorID)
}

// FinalizeInvoice выпускает счёт по пакету: gross = сумма пакета,
// fee = gross × ставка (округление half-up до минорной единицы),
// net = gross − fee. Суммы фиксируются навсегда.
func (s *PayoutService) FinalizeInvoice(ctx context.Context, batchID, actorID uuid.UUID) (*models.Invoice, error) {
	batch, err := s.repo.GetBatchByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	split := valueobject.SplitFee(batch.TotalAmount, s.feeRate)
	invoice, err := s.repo.CreateInvoice(ctx, batch.ID, s.node.Generate().Int64(), split, batch.Currency, nil, actorID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.BroadcastToUser(batch.FreelancerID, EventInvoiceIssued, invoice); err != nil && logger.Log != nil {
			logger.Log.WithError(err).Warn("не удалось отправить событие статуса")
		}
	}
	return invoice, nil
}

// CorrectInvoice оформляет исправление спорного счёта: старый счёт
// атомарно отменяется, выпускается новый с тем же составом пакета и
// ссылкой на предшественника. Правок по месту не бывает.
func (s *PayoutService) CorrectInvoice(ctx context.Context, invoiceID, actorID uuid.UUID) (*models.Invoice, error) {
	prior, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if prior.Status == valueobject.InvoiceStatusCancelled {
		return nil, apperror.New(apperror.ErrCodeStaleState, "счёт уже отменён исправлением")
	}

	batch, err := s.repo.GetBatchByID(ctx, prior.PayoutBatchID)
	if err != nil {
		return nil, err
	}
	split := valueobject.SplitFee(batch.TotalAmount, s.feeRate)

	var corrected *models.Invoice
	err = s.repo.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.repo.CancelInvoice(ctx, tx, prior.ID, actorID); err != nil {
			return err
		}
		var insertErr error
		corrected, insertErr = s.repo.InsertCorrectedInvoice(ctx, tx, prior, s.node.Generate().Int64(), split, actorID)
		return insertErr
	})
	if err != nil {
		return nil, err
	}
	return corrected, nil
}
