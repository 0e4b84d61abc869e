package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/ignatzorin/billing-engine/internal/logger"
)

// SafeGo запускает горутину с обработкой panic.
// Используется для фоновых процессов (sweeper, ws hub), падение
// которых не должно ронять процесс.
func SafeGo(fn func()) {
	go func() {
		defer recoverPanic()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer recoverPanic()
		fn(ctx)
	}()
}

func recoverPanic() {
	if r := recover(); r != nil {
		if logger.Log != nil {
			logger.Log.Errorf("panic в горутине: %v\n%s", r, debug.Stack())
		}
	}
}
