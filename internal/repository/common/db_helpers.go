package common

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GetByID - универсальная функция для получения сущности по ID
// Устраняет дубликаты кода GetByID во всех репозиториях
func GetByID[T any](ctx context.Context, db *sqlx.DB, table string, id interface{}, notFoundErr error) (*T, error) {
	var entity T
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", table)

	if err := db.GetContext(ctx, &entity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("get by id from %s: %w", table, err)
	}

	return &entity, nil
}

// GetByField - универсальная функция для получения сущности по любому полю
func GetByField[T any](ctx context.Context, db *sqlx.DB, table, field string, value interface{}, notFoundErr error) (*T, error) {
	var entity T
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", table, field)

	if err := db.GetContext(ctx, &entity, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("get by %s from %s: %w", field, table, err)
	}

	return &entity, nil
}

// WithTransaction выполняет функцию внутри транзакции с правильной обработкой ошибок.
// Каждый переход состояния в движке — ровно одна такая транзакция.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	err = fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// IsUniqueViolation проверяет, является ли ошибка нарушением уникального
// ограничения PostgreSQL. Имя индекса позволяет различать, какой именно
// инвариант сработал (повтор вебхука, второй открытый платёж и т.д.).
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// RecordLedgerEvent пишет строку журнала переходов в той же транзакции,
// что и сам переход.
func RecordLedgerEvent(ctx context.Context, tx *sqlx.Tx, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action string, oldStatus, newStatus *string, payload interface{}) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ledger event payload: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_events (entity_type, entity_id, actor_id, action, old_status, new_status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entityType, entityID, actorID, action, oldStatus, newStatus, raw)
	if err != nil {
		return fmt.Errorf("record ledger event: %w", err)
	}
	return nil
}

// StatusPtr — удобный помощник для записи статусов в журнал.
func StatusPtr[T ~string](s T) *string {
	v := string(s)
	return &v
}
