package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"structwatch/internal/observability"
)

// GracefulShutdown запускает мониторинг OS сигналов и возвращает context для отмены.
// Текущие загрузки прерываются, проход всё равно сохраняет проверенное
func GracefulShutdown(parent context.Context, logger *observability.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	// Канал для сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("Shutdown signal received", "signal", sig.String())
			cancel() // Отменяем context при получении сигнала
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
