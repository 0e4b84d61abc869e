package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/billing-engine/internal/domain/valueobject"
	"github.com/ignatzorin/billing-engine/internal/models"
	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
	"github.com/ignatzorin/billing-engine/internal/repository/common"
)

type OfferRepository struct {
	db *sqlx.DB
}

func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

// Create сохраняет новый оффер в статусе pending.
func (r *OfferRepository) Create(ctx context.Context, offer *models.Offer) (*models.Offer, error) {
	var created models.Offer
	err := r.db.GetContext(ctx, &created, `
		INSERT INTO offers (project_id, client_id, freelancer_id, total_budget, agreed_hourly_rate, estimated_hours, currency, status, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING *
	`, offer.ProjectID, offer.ClientID, offer.FreelancerID, offer.TotalBudget,
		offer.AgreedHourlyRate, offer.EstimatedHours, offer.Currency, offer.ValidUntil)
	if err != nil {
		return nil, fmt.Errorf("offer repository: create %w", err)
	}
	return &created, nil
}

func (r *OfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	return common.GetByID[models.Offer](ctx, r.db, "offers", id, apperror.ErrOfferNotFound)
}

// Accept переводит оффер pending → accepted и в той же транзакции создаёт
// контракт. Сбой создания контракта откатывает смену статуса целиком.
func (r *OfferRepository) Accept(ctx context.Context, offerID uuid.UUID, actorID uuid.UUID, noticeDays int) (*models.Offer, *models.Contract, error) {
	var offer models.Offer
	var contract models.Contract

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &offer,
			`SELECT * FROM offers WHERE id = $1 FOR UPDATE`, offerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrOfferNotFound
			}
			return fmt.Errorf("offer repository: accept lock %w", err)
		}

		if offer.Status != valueobject.OfferStatusPending {
			return apperror.New(apperror.ErrCodeStaleState,
				fmt.Sprintf("оффер уже в состоянии %s", offer.Status))
		}
		// Просроченный, но ещё не выметённый оффер принимать нельзя.
		// Сам переход в expired остаётся за sweep-процессом.
		if time.Now().After(offer.ValidUntil) {
			return apperror.New(apperror.ErrCodeStaleState, "срок действия оффера истёк")
		}

		if err := tx.GetContext(ctx, &offer, `
			UPDATE offers SET status = 'accepted', version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, offerID); err != nil {
			return fmt.Errorf("offer repository: accept update %w", err)
		}

		if err := tx.GetContext(ctx, &contract, `
			INSERT INTO contracts (offer_id, client_id, freelancer_id, status, termination_notice_days)
			VALUES ($1, $2, $3, 'active', $4)
			RETURNING *
		`, offer.ID, offer.ClientID, offer.FreelancerID, noticeDays); err != nil {
			return fmt.Errorf("offer repository: accept create contract %w", err)
		}

		if err := common.RecordLedgerEvent(ctx, tx, models.EntityTypeOffer, offer.ID, &actorID,
			"offer.accept", common.StatusPtr(valueobject.OfferStatusPending),
			common.StatusPtr(valueobject.OfferStatusAccepted), nil); err != nil {
			return err
		}
		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeContract, contract.ID, &actorID,
			"contract.create", nil, common.StatusPtr(valueobject.ContractStatusActive), nil)
	})
	if err != nil {
		return nil, nil, err
	}
	return &offer, &contract, nil
}

// Reject переводит оффер pending → rejected.
func (r *OfferRepository) Reject(ctx context.Context, offerID uuid.UUID, actorID uuid.UUID) (*models.Offer, error) {
	var offer models.Offer

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &offer,
			`SELECT * FROM offers WHERE id = $1 FOR UPDATE`, offerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrOfferNotFound
			}
			return fmt.Errorf("offer repository: reject lock %w", err)
		}

		if offer.Status != valueobject.OfferStatusPending {
			return apperror.New(apperror.ErrCodeStaleState,
				fmt.Sprintf("оффер уже в состоянии %s", offer.Status))
		}

		if err := tx.GetContext(ctx, &offer, `
			UPDATE offers SET status = 'rejected', version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, offerID); err != nil {
			return fmt.Errorf("offer repository: reject update %w", err)
		}

		return common.RecordLedgerEvent(ctx, tx, models.EntityTypeOffer, offer.ID, &actorID,
			"offer.reject", common.StatusPtr(valueobject.OfferStatusPending),
			common.StatusPtr(valueobject.OfferStatusRejected), nil)
	})
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// ExpireSweep переводит все просроченные pending-офферы в expired.
// Идемпотентна: повторный запуск не находит кандидатов. Это единственный
// актор, которому разрешён переход по времени.
func (r *OfferRepository) ExpireSweep(ctx context.Context) ([]uuid.UUID, error) {
	var expired []uuid.UUID

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &expired, `
			UPDATE offers SET status = 'expired', version = version + 1, updated_at = NOW()
			WHERE status = 'pending' AND valid_until < NOW()
			RETURNING id
		`); err != nil {
			return fmt.Errorf("offer repository: expire sweep %w", err)
		}

		for _, id := range expired {
			if err := common.RecordLedgerEvent(ctx, tx, models.EntityTypeOffer, id, nil,
				"offer.expire", common.StatusPtr(valueobject.OfferStatusPending),
				common.StatusPtr(valueobject.OfferStatusExpired), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
