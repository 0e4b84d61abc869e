package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
	"github.com/ignatzorin/billing-engine/internal/repository/common"
)

type BillingRepository struct {
	db *sqlx.DB
}

func NewBillingRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

func (r *BillingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BillingUnit, error) {
	return common.GetByID[models.BillingUnit](ctx, r.db, "billing_units", id, apperror.ErrBillingUnitNotFound)
}

// Create сохраняет единицу биллинга от системы тайм-трекинга.
// Повторная отправка того же session_id — идемпотентный no-op,
// возвращается существующая запись.
func (r *BillingRepository) Create(ctx context.Context, unit *models.BillingUnit) (*models.BillingUnit, error) {
	var created models.BillingUnit
	err := r.db.GetContext(ctx, &created, `
		INSERT INTO billing_units (session_id, contract_id, freelancer_id, tracked_seconds, billable_seconds, hourly_rate, status, flagged, flag_reason)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)
		RETURNING *
	`, unit.SessionID, unit.ContractID, unit.FreelancerID, unit.TrackedSeconds,
		unit.BillableSeconds, unit.HourlyRate, unit.Flagged, unit.FlagReason)
	if err != nil {
		if common.IsUniqueViolation(err, "uq_billing_units_session") {
			return common.GetByField[models.BillingUnit](ctx, r.db, "billing_units", "session_id",
				unit.SessionID, apperror.ErrBillingUnitNotFound)
		}
		return nil, fmt.Errorf("billing repository: create %w", err)
	}
	return &created, nil
}

// Review переводит pending → approved|rejected. Одобрение заблокировано,
// пока на единице висит неснятый флаг спорных часов.
func (r *BillingRepository) Review(ctx context.Context, unitID uuid.UUID, approve bool, reviewerID uuid.UUID) (*models.BillingUnit, error) {
	var unit models.BillingUnit
	newStatus := valueobject.BillingUnitStatusRejected
	if approve {
		newStatus = valueobject.BillingUnitStatusApproved
	}

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &unit,
			`SELECT * FROM billing_units WHERE id = $1 FOR UPDATE`, unitID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrBillingUnitNotFound
			}
			return fmt.Errorf("billing repository: review lock %w", err)
		}

		if unit.Status != valueobject.BillingUnitStatusPending {
			return apperror.New(apperror.ErrCodeStaleState,
				fmt.Sprintf("единица биллинга уже в состоянии %s", unit.Status))
		}
		if approve && !unit.FlagResolved() {
			return apperror.New(apperror.ErrCodeFlaggedUnit,
				"спорные часы: сначала снимите флаг объяснением")
		}

		if err := tx.GetContext(ctx, &unit, `
			UPDATE billing_units
			SET status = $2, reviewed_by = $3, reviewed_at = NOW(),
			    version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, unitID, newStatus, reviewerID); err != nil {
			return fmt.Errorf("billing repository: review update %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeBillingUnit, unit.ID, &reviewerID,
			"billing.review", common.StatusPtr(valueobject.BillingUnitStatusPending),
			common.StatusPtr(newStatus), nil)
	})
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// ResolveFlag снимает флаг спорных часов объяснением админа.
func (r *BillingRepository) ResolveFlag(ctx context.Context, unitID uuid.UUID, adminID uuid.UUID, explanation string) (*models.BillingUnit, error) {
	var unit models.BillingUnit

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &unit,
			`SELECT * FROM billing_units WHERE id = $1 FOR UPDATE`, unitID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrBillingUnitNotFound
			}
			return fmt.Errorf("billing repository: resolve flag lock %w", err)
		}

		if !unit.Flagged {
			return apperror.New(apperror.ErrCodeValidation, "единица биллинга не помечена как спорная")
		}
		if unit.FlagResolvedAt != nil {
			// Флаг уже снят — повтор ничего не меняет.
			return nil
		}

		if err := tx.GetContext(ctx, &unit, `
			UPDATE billing_units
			SET flag_resolved_by = $2, flag_resolved_at = NOW(),
			    version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING *
		`, unitID, adminID); err != nil {
			return fmt.Errorf("billing repository: resolve flag update %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeBillingUnit, unit.ID, &adminID,
			"billing.resolve_flag", nil, nil, map[string]string{"explanation": explanation})
	})
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

// ListByFreelancer возвращает единицы фрилансера, опционально по статусу.
func (r *BillingRepository) ListByFreelancer(ctx context.Context, freelancerID uuid.UUID, status valueobject.BillingUnitStatus, limit, offset int) ([]models.BillingUnit, error) {
	var units []models.BillingUnit
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &units, `
			SELECT * FROM billing_units WHERE freelancer_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		`, freelancerID, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &units, `
			SELECT * FROM billing_units WHERE freelancer_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4
		`, freelancerID, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("billing repository: list by freelancer %w", err)
	}
	return units, nil
}

// CountOutstandingByContract считает единицы контракта, ещё не дошедшие
// до счёта: pending, approved и charged без выпущенного счёта.
// Нулевой результат — предусловие release escrow.
func (r *BillingRepository) CountOutstandingByContract(ctx context.Context, contractID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM billing_units u
		WHERE u.contract_id = $1
		  AND (u.status IN ('pending', 'approved')
		       OR (u.status = 'charged' AND NOT EXISTS (
		             SELECT 1 FROM invoices i
		             WHERE i.payout_batch_id = u.payout_batch_id
		               AND i.status <> 'cancelled')))
	`, contractID)
	if err != nil {
		return 0, fmt.Errorf("billing repository: count outstanding %w", err)
	}
	return count, nil
}

// HasApprovedByContract сообщает, остались ли одобренные, но ещё не
// упакованные единицы контракта. Используется settlement-координатором.
func (r *BillingRepository) HasApprovedByContract(ctx context.Context, contractID uuid.UUID) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM billing_units
		WHERE contract_id = $1 AND status = 'approved' AND payout_batch_id IS NULL
	`, contractID)
	if err != nil {
		return false, fmt.Errorf("billing repository: has approved %w", err)
	}
	return count > 0, nil
}
