package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
	"github.com/ignatzorin/billing-engine/internal/repository/common"
)

type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	return common.GetByID[models.EscrowPayment](ctx, r.db, "escrow_payments", id, apperror.ErrEscrowNotFound)
}

// GetOpenByOfferID возвращает живой (не failed) платёж оффера.
func (r *EscrowRepository) GetOpenByOfferID(ctx context.Context, offerID uuid.UUID) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment
	err := r.db.GetContext(ctx, &payment, `
		SELECT * FROM escrow_payments WHERE offer_id = $1 AND status <> 'failed'
	`, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow repository: get open by offer %w", err)
	}
	return &payment, nil
}

// Create создаёт pending-платёж под принятый оффер. Частичный уникальный
// индекс по offer_id гарантирует не больше одного живого платежа даже при
// гонке двух initiate.
func (r *EscrowRepository) Create(ctx context.Context, offerID uuid.UUID, amount decimal.Decimal, currency string, actorID uuid.UUID) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var offerStatus valueobject.OfferStatus
		if err := tx.GetContext(ctx, &offerStatus,
			`SELECT status FROM offers WHERE id = $1 FOR UPDATE`, offerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrOfferNotFound
			}
			return fmt.Errorf("escrow repository: create lock offer %w", err)
		}
		if offerStatus != valueobject.OfferStatusAccepted {
			return apperror.New(apperror.ErrCodeStaleState, "оффер не принят, escrow невозможен")
		}

		if err := tx.GetContext(ctx, &payment, `
			INSERT INTO escrow_payments (offer_id, amount, currency, status)
			VALUES ($1, $2, $3, 'pending')
			RETURNING *
		`, offerID, amount, currency); err != nil {
			if common.IsUniqueViolation(err, "uq_escrow_open_per_offer") {
				return apperror.New(apperror.ErrCodeConflict, "по офферу уже есть незавершённый платёж")
			}
			return fmt.Errorf("escrow repository: create %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeEscrow, payment.ID, &actorID,
			"escrow.initiate", nil, common.StatusPtr(valueobject.EscrowStatusPending), nil)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkEscrowed — единственный переход в escrowed, вызывается вебхуком
// шлюза. Идемпотентна при ретраях: повтор с тем же gateway_ref возвращает
// уже подтверждённый платёж без изменений.
func (r *EscrowRepository) MarkEscrowed(ctx context.Context, paymentID uuid.UUID, gatewayRef string, refundableUntil *time.Time) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &payment,
			`SELECT * FROM escrow_payments WHERE id = $1 FOR UPDATE`, paymentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrEscrowNotFound
			}
			return fmt.Errorf("escrow repository: mark escrowed lock %w", err)
		}

		// Повторная доставка того же подтверждения — no-op.
		if payment.Status == valueobject.EscrowStatusEscrowed &&
			payment.GatewayRef != nil && *payment.GatewayRef == gatewayRef {
			return nil
		}

		if payment.Status != valueobject.EscrowStatusPending {
			return apperror.New(apperror.ErrCodeInvalidTransition,
				fmt.Sprintf("платёж в состоянии %s не может стать escrowed", payment.Status))
		}

		if err := tx.GetContext(ctx, &payment, `
			UPDATE escrow_payments
			SET status = 'escrowed', gateway_ref = $2, escrowed_at = NOW(),
			    refundable_until = $3, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, paymentID, gatewayRef, refundableUntil); err != nil {
			if common.IsUniqueViolation(err, "uq_escrow_gateway_ref") {
				return apperror.New(apperror.ErrCodeConflict, "gateway_ref уже использован другим платежом")
			}
			return fmt.Errorf("escrow repository: mark escrowed update %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeEscrow, payment.ID, nil,
			"escrow.confirm", common.StatusPtr(valueobject.EscrowStatusPending),
			common.StatusPtr(valueobject.EscrowStatusEscrowed),
			map[string]string{"gateway_ref": gatewayRef})
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkFailed переводит pending → failed. Запись сохраняется для аудита
// и никогда не переиспользуется.
func (r *EscrowRepository) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (*models.EscrowPayment, error) {
	return r.transition(ctx, paymentID, valueobject.EscrowStatusPending, valueobject.EscrowStatusFailed,
		"escrow.fail", `
			UPDATE escrow_payments
			SET status = 'failed', failure_reason = $2, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, paymentID, reason)
}

// Release переводит escrowed → released. Из любого другого состояния —
// InvalidTransitionError.
func (r *EscrowRepository) Release(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	return r.transition(ctx, paymentID, valueobject.EscrowStatusEscrowed, valueobject.EscrowStatusReleased,
		"escrow.release", `
			UPDATE escrow_payments
			SET status = 'released', version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'escrowed'
			RETURNING *
		`, paymentID)
}

// Refund переводит escrowed → refunded. Из терминального состояния
// закрывается с ошибкой — идемпотентность обеспечивает координатор выше.
func (r *EscrowRepository) Refund(ctx context.Context, paymentID uuid.UUID) (*models.EscrowPayment, error) {
	return r.transition(ctx, paymentID, valueobject.EscrowStatusEscrowed, valueobject.EscrowStatusRefunded,
		"escrow.refund", `
			UPDATE escrow_payments
			SET status = 'refunded', version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'escrowed'
			RETURNING *
		`, paymentID)
}

// transition выполняет одиночный guard-переход платежа в транзакции.
func (r *EscrowRepository) transition(ctx context.Context, paymentID uuid.UUID, from, to valueobject.EscrowStatus, action, query string, args ...interface{}) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var current models.EscrowPayment
		if err := tx.GetContext(ctx, &current,
			`SELECT * FROM escrow_payments WHERE id = $1 FOR UPDATE`, paymentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrEscrowNotFound
			}
			return fmt.Errorf("escrow repository: %s lock %w", action, err)
		}

		if current.Status != from {
			return apperror.New(apperror.ErrCodeInvalidTransition,
				fmt.Sprintf("переход %s → %s невозможен из состояния %s", from, to, current.Status))
		}

		if err := tx.GetContext(ctx, &payment, query, args...); err != nil {
			return fmt.Errorf("escrow repository: %s update %w", action, err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeEscrow, payment.ID, nil,
			action, common.StatusPtr(from), common.StatusPtr(to), nil)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SweepStalePending переводит в failed платежи, по которым шлюз так и не
// отозвался за отведённое окно. Работает тем же периодическим процессом,
// что и просрочка офферов.
func (r *EscrowRepository) SweepStalePending(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	var swept []uuid.UUID

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &swept, `
			UPDATE escrow_payments
			SET status = 'failed', failure_reason = 'gateway callback timeout',
			    version = version + 1, updated_at = NOW()
			WHERE status = 'pending' AND created_at < NOW() - $1::interval
			RETURNING id
		`, fmt.Sprintf("%d seconds", int64(olderThan.Seconds()))); err != nil {
			return fmt.Errorf("escrow repository: sweep stale %w", err)
		}

		for _, id := range swept {
			if err := common.RecordLedgerEvent(ctx, tx, models.EntityTypeEscrow, id, nil,
				"escrow.timeout", common.StatusPtr(valueobject.EscrowStatusPending),
				common.StatusPtr(valueobject.EscrowStatusFailed), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}
