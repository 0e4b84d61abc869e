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

type ContractRepository struct {
	db *sqlx.DB
}

func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

func (r *ContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return common.GetByID[models.Contract](ctx, r.db, "contracts", id, apperror.ErrContractNotFound)
}

func (r *ContractRepository) GetByOfferID(ctx context.Context, offerID uuid.UUID) (*models.Contract, error) {
	return common.GetByField[models.Contract](ctx, r.db, "contracts", "offer_id", offerID, apperror.ErrContractNotFound)
}

func (r *ContractRepository) GetTerminationRequest(ctx context.Context, id uuid.UUID) (*models.TerminationRequest, error) {
	return common.GetByID[models.TerminationRequest](ctx, r.db, "termination_requests", id, apperror.ErrRequestNotFound)
}

// CreateTerminationRequest создаёт pending-запрос на расторжение.
// Частичный уникальный индекс не даст открыть второй запрос даже при
// гонке.
func (r *ContractRepository) CreateTerminationRequest(ctx context.Context, contractID, requestedBy uuid.UUID, reason string) (*models.TerminationRequest, error) {
	var request models.TerminationRequest

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var contract models.Contract
		if err := tx.GetContext(ctx, &contract,
			`SELECT * FROM contracts WHERE id = $1 FOR UPDATE`, contractID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrContractNotFound
			}
			return fmt.Errorf("contract repository: termination request lock %w", err)
		}
		if contract.Status != valueobject.ContractStatusActive {
			return apperror.New(apperror.ErrCodeStaleState, "контракт уже расторгнут")
		}

		if err := tx.GetContext(ctx, &request, `
			INSERT INTO termination_requests (contract_id, requested_by, reason, status)
			VALUES ($1, $2, $3, 'pending')
			RETURNING *
		`, contractID, requestedBy, reason); err != nil {
			if common.IsUniqueViolation(err, "uq_termination_open_per_contract") {
				return apperror.New(apperror.ErrCodeConflict,
					"по контракту уже есть открытый запрос на расторжение")
			}
			return fmt.Errorf("contract repository: create termination request %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeTermination, request.ID, &requestedBy,
			"termination.request", nil, common.StatusPtr(valueobject.TerminationStatusPending),
			map[string]string{"reason": reason})
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// ApproveTermination атомарно переводит запрос в approved и контракт в
// terminated. Денег не двигает: settle и refund_escrow — отдельные,
// независимые шаги.
func (r *ContractRepository) ApproveTermination(ctx context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, *models.Contract, error) {
	var request models.TerminationRequest
	var contract models.Contract

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &request,
			`SELECT * FROM termination_requests WHERE id = $1 FOR UPDATE`, requestID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrRequestNotFound
			}
			return fmt.Errorf("contract repository: approve lock request %w", err)
		}
		if request.Status != valueobject.TerminationStatusPending {
			return apperror.New(apperror.ErrCodeStaleState,
				fmt.Sprintf("запрос уже в состоянии %s", request.Status))
		}

		if err := tx.GetContext(ctx, &contract,
			`SELECT * FROM contracts WHERE id = $1 FOR UPDATE`, request.ContractID); err != nil {
			return fmt.Errorf("contract repository: approve lock contract %w", err)
		}
		if contract.Status != valueobject.ContractStatusActive {
			return apperror.New(apperror.ErrCodeStaleState, "контракт уже расторгнут")
		}

		if err := tx.GetContext(ctx, &request, `
			UPDATE termination_requests
			SET status = 'approved', decided_by = $2, decided_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, requestID, adminID); err != nil {
			return fmt.Errorf("contract repository: approve update request %w", err)
		}

		if err := tx.GetContext(ctx, &contract, `
			UPDATE contracts
			SET status = 'terminated', terminated_at = NOW(), version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'active'
			RETURNING *
		`, request.ContractID); err != nil {
			return fmt.Errorf("contract repository: approve update contract %w", err)
		}

		if err := common.RecordLedgerEvent(ctx, tx, models.EntityTypeTermination, request.ID, &adminID,
			"termination.approve", common.StatusPtr(valueobject.TerminationStatusPending),
			common.StatusPtr(valueobject.TerminationStatusApproved), nil); err != nil {
			return err
		}
		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeContract, contract.ID, &adminID,
			"contract.terminate", common.StatusPtr(valueobject.ContractStatusActive),
			common.StatusPtr(valueobject.ContractStatusTerminated), nil)
	})
	if err != nil {
		return nil, nil, err
	}
	return &request, &contract, nil
}

// RejectTermination переводит запрос в rejected, контракт остаётся active.
func (r *ContractRepository) RejectTermination(ctx context.Context, requestID, adminID uuid.UUID) (*models.TerminationRequest, error) {
	var request models.TerminationRequest

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &request,
			`SELECT * FROM termination_requests WHERE id = $1 FOR UPDATE`, requestID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrRequestNotFound
			}
			return fmt.Errorf("contract repository: reject lock request %w", err)
		}
		if request.Status != valueobject.TerminationStatusPending {
			return apperror.New(apperror.ErrCodeStaleState,
				fmt.Sprintf("запрос уже в состоянии %s", request.Status))
		}

		if err := tx.GetContext(ctx, &request, `
			UPDATE termination_requests
			SET status = 'rejected', decided_by = $2, decided_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, requestID, adminID); err != nil {
			return fmt.Errorf("contract repository: reject update request %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeTermination, request.ID, &adminID,
			"termination.reject", common.StatusPtr(valueobject.TerminationStatusPending),
			common.StatusPtr(valueobject.TerminationStatusRejected), nil)
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// MarkSettled выставляет кэш-флаг settled через compare-and-swap.
// Возвращает false, если флаг уже стоял.
func (r *ContractRepository) MarkSettled(ctx context.Context, contractID uuid.UUID, actorID uuid.UUID) (bool, error) {
	return r.flipFlag(ctx, contractID, actorID, "settled", "contract.settle")
}

// MarkEscrowRefunded выставляет кэш-флаг escrow_refunded через CAS.
func (r *ContractRepository) MarkEscrowRefunded(ctx context.Context, contractID uuid.UUID, actorID uuid.UUID) (bool, error) {
	return r.flipFlag(ctx, contractID, actorID, "escrow_refunded", "contract.refund_escrow")
}

func (r *ContractRepository) flipFlag(ctx context.Context, contractID, actorID uuid.UUID, column, action string) (bool, error) {
	var flipped bool

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE contracts SET %s = TRUE, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'terminated' AND %s = FALSE
		`, column, column), contractID)
		if err != nil {
			return fmt.Errorf("contract repository: flip %s %w", column, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("contract repository: flip %s rows %w", column, err)
		}
		flipped = affected == 1
		if !flipped {
			return nil
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeContract, contractID, &actorID,
			action, nil, nil, nil)
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}
