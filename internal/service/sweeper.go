package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/billing-engine/internal/logger"
)

type SweepOffers interface {
	ExpireSweep(ctx context.Context) (int, error)
}

type SweepEscrow interface {
	SweepStalePending(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}

// Sweeper — единственный актор, которому разрешены переходы по времени:
// просрочка pending-офферов и перевод в failed escrow-платежей, по
// которым шлюз не отозвался за отведённое окно. Оба прохода идемпотентны.
type Sweeper struct {
	offers         SweepOffers
	escrow         SweepEscrow
	interval       time.Duration
	callbackWindow time.Duration
}

func NewSweeper(offers SweepOffers, escrow SweepEscrow, interval, callbackWindow time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		offers:         offers,
		escrow:         escrow,
		interval:       interval,
		callbackWindow: callbackWindow,
	}
}

// Run крутит цикл до отмены контекста. Запускается через goroutine.SafeGo.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход и возвращает количество просроченных
// офферов и затаймаутивших escrow-платежей. Вынесен отдельно для
// ручного запуска и для тестов.
func (s *Sweeper) Sweep(ctx context.Context) (expiredOffers, failedEscrows int) {
	expired, err := s.offers.ExpireSweep(ctx)
	if err != nil && logger.Log != nil {
		logger.Log.WithError(err).Error("sweep: просрочка офферов не удалась")
	}

	swept, err := s.escrow.SweepStalePending(ctx, s.callbackWindow)
	if err != nil {
		if logger.Log != nil {
			logger.Log.WithError(err).Error("sweep: таймаут escrow-платежей не удался")
		}
		return expired, 0
	}
	if len(swept) > 0 && logger.Log != nil {
		logger.Log.WithField("count", len(swept)).Warn("escrow-платежи переведены в failed по таймауту")
	}
	return expired, len(swept)
}
