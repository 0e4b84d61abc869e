package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSweepOffers struct {
	mock.Mock
}

func (m *mockSweepOffers) ExpireSweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockSweepEscrow struct {
	mock.Mock
}

func (m *mockSweepEscrow) SweepStalePending(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func TestSweeper_Sweep(t *testing.T) {
	offers := new(mockSweepOffers)
	escrow := new(mockSweepEscrow)
	window := 30 * time.Minute
	sweeper := NewSweeper(offers, escrow, time.Minute, window)
	ctx := context.Background()

	offers.On("ExpireSweep", ctx).Return(3, nil)
	escrow.On("SweepStalePending", ctx, window).Return([]uuid.UUID{uuid.New()}, nil)

	expired, failed := sweeper.Sweep(ctx)
	assert.Equal(t, 3, expired)
	assert.Equal(t, 1, failed)
	offers.AssertExpectations(t)
	escrow.AssertExpectations(t)
}

func TestSweeper_Sweep_OfferErrorDoesNotBlockEscrow(t *testing.T) {
	offers := new(mockSweepOffers)
	escrow := new(mockSweepEscrow)
	window := 30 * time.Minute
	sweeper := NewSweeper(offers, escrow, time.Minute, window)
	ctx := context.Background()

	offers.On("ExpireSweep", ctx).Return(0, errors.New("db down"))
	escrow.On("SweepStalePending", ctx, window).Return([]uuid.UUID{}, nil)

	expired, failed := sweeper.Sweep(ctx)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 0, failed)
	escrow.AssertExpectations(t)
}

func TestSweeper_Run_StopsOnContextCancel(t *testing.T) {
	offers := new(mockSweepOffers)
	escrow := new(mockSweepEscrow)
	sweeper := NewSweeper(offers, escrow, 5*time.Millisecond, time.Minute)

	offers.On("ExpireSweep", mock.Anything).Return(0, nil).Maybe()
	escrow.On("SweepStalePending", mock.Anything, mock.Anything).Return([]uuid.UUID{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper не остановился после отмены контекста")
	}
}
