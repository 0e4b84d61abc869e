package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
	"github.com/ignatzorin/billing-engine/internal/repository/common"
)

type PayoutRepository struct {
	db *sqlx.DB
}

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) GetBatchByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	return common.GetByID[models.PayoutBatch](ctx, r.db, "payout_batches", id, apperror.ErrBatchNotFound)
}

func (r *PayoutRepository) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return common.GetByID[models.Invoice](ctx, r.db, "invoices", id, apperror.ErrInvoiceNotFound)
}

// ListUnitsByBatch возвращает замороженный состав пакета.
func (r *PayoutRepository) ListUnitsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.BillingUnit, error) {
	var units []models.BillingUnit
	err := r.db.SelectContext(ctx, &units, `
		SELECT * FROM billing_units WHERE payout_batch_id = $1 ORDER BY created_at
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("payout repository: list units by batch %w", err)
	}
	return units, nil
}

// BuildBatch в одной транзакции: сериализация по фрилансеру через
// advisory-лок, выборка одобренных единиц с блокировкой строк, расчёт
// суммы и пометка единиц charged с привязкой к пакету. Ни одна единица
// не может попасть в два пакета — второй конкурентный вызов либо не
// возьмёт лок, либо не найдёт свободных единиц.
func (r *PayoutRepository) BuildBatch(ctx context.Context, freelancerID uuid.UUID, currency string, actorID uuid.UUID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockFreelancerBatch(ctx, tx, freelancerID); err != nil {
			return err
		}

		var units []models.BillingUnit
		if err := tx.SelectContext(ctx, &units, `
			SELECT * FROM billing_units
			WHERE freelancer_id = $1 AND status = 'approved' AND payout_batch_id IS NULL
			ORDER BY created_at
			FOR UPDATE
		`, freelancerID); err != nil {
			return fmt.Errorf("payout repository: select approved units %w", err)
		}

		return r.assembleBatch(ctx, tx, &batch, freelancerID, units, currency, actorID)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// BuildBatchForContract собирает пакет только из единиц одного контракта.
// Используется settlement-координатором: финальный счёт расторгнутого
// контракта не должен захватывать единицы других контрактов того же
// фрилансера.
func (r *PayoutRepository) BuildBatchForContract(ctx context.Context, contractID uuid.UUID, currency string, actorID uuid.UUID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var freelancerID uuid.UUID
		if err := tx.GetContext(ctx, &freelancerID,
			`SELECT freelancer_id FROM contracts WHERE id = $1`, contractID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrContractNotFound
			}
			return fmt.Errorf("payout repository: contract freelancer %w", err)
		}

		// Тот же ключ лока, что и у BuildBatch: пакеты по фрилансеру
		// собираются строго по одному, независимо от охвата.
		if err := lockFreelancerBatch(ctx, tx, freelancerID); err != nil {
			return err
		}

		var units []models.BillingUnit
		if err := tx.SelectContext(ctx, &units, `
			SELECT * FROM billing_units
			WHERE contract_id = $1 AND status = 'approved' AND payout_batch_id IS NULL
			ORDER BY created_at
			FOR UPDATE
		`, contractID); err != nil {
			return fmt.Errorf("payout repository: select contract units %w", err)
		}

		return r.assembleBatch(ctx, tx, &batch, freelancerID, units, currency, actorID)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func lockFreelancerBatch(ctx context.Context, tx *sqlx.Tx, freelancerID uuid.UUID) error {
	var locked bool
	if err := tx.GetContext(ctx, &locked,
		`SELECT pg_try_advisory_xact_lock(hashtextextended('payout_batch:' || $1::text, 0))`,
		freelancerID); err != nil {
		return fmt.Errorf("payout repository: advisory lock %w", err)
	}
	if !locked {
		return apperror.New(apperror.ErrCodeConcurrentBatch,
			"по этому фрилансеру уже собирается пакет выплат")
	}
	return nil
}

// assembleBatch замораживает выбранные единицы в новый пакет: вставка
// записи пакета, перевод единиц в charged и строка журнала, всё в уже
// открытой транзакции.
func (r *PayoutRepository) assembleBatch(ctx context.Context, tx *sqlx.Tx, batch *models.PayoutBatch, freelancerID uuid.UUID, units []models.BillingUnit, currency string, actorID uuid.UUID) error {
	if len(units) == 0 {
		return apperror.New(apperror.ErrCodeEmptyBatch, "нет одобренных единиц для выплаты")
	}

	total := decimal.Zero
	for _, u := range units {
		total = total.Add(valueobject.AmountForSeconds(u.BillableSeconds, u.HourlyRate))
	}

	if err := tx.GetContext(ctx, batch, `
		INSERT INTO payout_batches (freelancer_id, total_amount, currency, unit_count, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING *
	`, freelancerID, total, currency, len(units)); err != nil {
		return fmt.Errorf("payout repository: insert batch %w", err)
	}

	ids := make([]uuid.UUID, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE billing_units
		SET status = 'charged', payout_batch_id = $1, version = version + 1, updated_at = NOW()
		WHERE id = ANY($2::uuid[]) AND status = 'approved' AND payout_batch_id IS NULL
	`, batch.ID, pq.Array(uuidStrings(ids)))
	if err != nil {
		return fmt.Errorf("payout repository: mark charged %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payout repository: mark charged rows %w", err)
	}
	if int(affected) != len(units) {
		// Строки под FOR UPDATE, расхождение возможно только при ошибке
		// в нашей же логике. Откатываем всё.
		return fmt.Errorf("payout repository: charged %d of %d units", affected, len(units))
	}

	return common.RecordLedgerEvent(ctx, tx, models.EntityTypePayoutBatch, batch.ID, &actorID,
		"payout.build_batch", nil, common.StatusPtr(valueobject.BatchStatusOpen),
		map[string]interface{}{"unit_count": len(units), "total_amount": total})
}

// CreateInvoice выпускает счёт по пакету: open → invoiced плюс вставка
// неизменяемой записи счёта. Повторный вызов по тому же пакету —
// DuplicateInvoiceError.
func (r *PayoutRepository) CreateInvoice(ctx context.Context, batchID uuid.UUID, invoiceNumber int64, split valueobject.FeeSplit, currency string, correctsInvoiceID *uuid.UUID, actorID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var batch models.PayoutBatch
		if err := tx.GetContext(ctx, &batch,
			`SELECT * FROM payout_batches WHERE id = $1 FOR UPDATE`, batchID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrBatchNotFound
			}
			return fmt.Errorf("payout repository: invoice lock batch %w", err)
		}

		if batch.Status != valueobject.BatchStatusOpen && correctsInvoiceID == nil {
			return apperror.New(apperror.ErrCodeDuplicateInvoice, "по пакету уже выпущен счёт")
		}

		if err := tx.GetContext(ctx, &invoice, `
			INSERT INTO invoices (payout_batch_id, invoice_number, total_gross, platform_fee, total_net, currency, status, corrects_invoice_id, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'issued', $7, NOW())
			RETURNING *
		`, batchID, invoiceNumber, split.Gross, split.Fee, split.Net, currency, correctsInvoiceID); err != nil {
			if common.IsUniqueViolation(err, "uq_invoices_live_per_batch") {
				return apperror.New(apperror.ErrCodeDuplicateInvoice, "по пакету уже выпущен счёт")
			}
			return fmt.Errorf("payout repository: insert invoice %w", err)
		}

		if batch.Status == valueobject.BatchStatusOpen {
			if _, err := tx.ExecContext(ctx,
				`UPDATE payout_batches SET status = 'invoiced' WHERE id = $1`, batchID); err != nil {
				return fmt.Errorf("payout repository: mark batch invoiced %w", err)
			}
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeInvoice, invoice.ID, &actorID,
			"invoice.issue", nil, common.StatusPtr(valueobject.InvoiceStatusIssued),
			map[string]interface{}{"invoice_number": invoiceNumber})
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// CancelInvoice переводит спорный счёт в cancelled в рамках исправления.
// Вызывается только вместе с выпуском корректирующего счёта.
func (r *PayoutRepository) CancelInvoice(ctx context.Context, tx *sqlx.Tx, invoiceID uuid.UUID, actorID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := tx.GetContext(ctx, &invoice,
		`SELECT * FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("payout repository: cancel invoice lock %w", err)
	}

	if !invoice.Status.CanTransitionTo(valueobject.InvoiceStatusCancelled) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			fmt.Sprintf("счёт в состоянии %s нельзя отменить", invoice.Status))
	}

	oldStatus := invoice.Status
	if err := tx.GetContext(ctx, &invoice, `
		UPDATE invoices SET status = 'cancelled' WHERE id = $1 RETURNING *
	`, invoiceID); err != nil {
		return nil, fmt.Errorf("payout repository: cancel invoice update %w", err)
	}

	if err := common.RecordLedgerEvent(ctx, tx, models.EntityTypeInvoice, invoice.ID, &actorID,
		"invoice.cancel", common.StatusPtr(oldStatus),
		common.StatusPtr(valueobject.InvoiceStatusCancelled), nil); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// WithTx открывает транзакцию репозитория для составных операций
// (исправление счёта = отмена старого + выпуск нового атомарно).
func (r *PayoutRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return common.WithTransaction(ctx, r.db, fn)
}

// InsertCorrectedInvoice вставляет корректирующий счёт в уже открытой
// транзакции исправления.
func (r *PayoutRepository) InsertCorrectedInvoice(ctx context.Context, tx *sqlx.Tx, prior *models.Invoice, invoiceNumber int64, split valueobject.FeeSplit, actorID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := tx.GetContext(ctx, &invoice, `
		INSERT INTO invoices (payout_batch_id, invoice_number, total_gross, platform_fee, total_net, currency, status, corrects_invoice_id, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'issued', $7, NOW())
		RETURNING *
	`, prior.PayoutBatchID, invoiceNumber, split.Gross, split.Fee, split.Net,
		prior.Currency, prior.ID); err != nil {
		return nil, fmt.Errorf("payout repository: insert corrected invoice %w", err)
	}

	if err := common.RecordLedgerEvent(ctx, tx, models.EntityTypeInvoice, invoice.ID, &actorID,
		"invoice.correct", nil, common.StatusPtr(valueobject.InvoiceStatusIssued),
		map[string]interface{}{"corrects": prior.ID, "invoice_number": invoiceNumber}); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetLiveInvoiceByBatch возвращает действующий (не отменённый) счёт пакета.
func (r *PayoutRepository) GetLiveInvoiceByBatch(ctx context.Context, batchID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.GetContext(ctx, &invoice, `
		SELECT * FROM invoices WHERE payout_batch_id = $1 AND status <> 'cancelled'
	`, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("payout repository: get live invoice %w", err)
	}
	return &invoice, nil
}

// uuidStrings конвертирует срез UUID в строки для pq.Array.
func uuidStrings(ids []uuid.UUID) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}
