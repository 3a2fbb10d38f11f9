package report

import (
	"context"
	"fmt"

	"structwatch/internal/observability"
)

// Signal итог процесса для внешнего уведомителя, он же код выхода
type Signal int

const (
	SignalSuccess      Signal = 0
	SignalChanges      Signal = 1
	SignalInconclusive Signal = 2
	// SignalFatal ошибки конфигурации и хранения
	SignalFatal Signal = 3
)

func (s Signal) ExitCode() int {
	return int(s)
}

func (s Signal) String() string {
	switch s {
	case SignalSuccess:
		return "success"
	case SignalChanges:
		return "changes"
	case SignalInconclusive:
		return "inconclusive"
	default:
		return "fatal"
	}
}

// SignalFor сопоставляет статус прохода и сигнал
func SignalFor(status Status) Signal {
	switch status {
	case StatusOK:
		return SignalSuccess
	case StatusChangesDetected:
		return SignalChanges
	case StatusInconclusive:
		return SignalInconclusive
	default:
		return SignalFatal
	}
}

// Journal надёжно дописывает отчёты и никогда не переписывает старые
type Journal interface {
	Append(ctx context.Context, r *RunReport) error
}

// Mirror получает копию отчёта после записи в журнал
type Mirror interface {
	SaveReport(ctx context.Context, r *RunReport) error
}

// Reporter записывает отчёт прохода и выбирает сигнал
type Reporter struct {
	journal Journal
	mirrors []Mirror
	logger  *observability.Logger
}

func NewReporter(journal Journal, logger *observability.Logger, mirrors ...Mirror) *Reporter {
	return &Reporter{
		journal: journal,
		mirrors: mirrors,
		logger:  logger,
	}
}

// Report пишет r в журнал и возвращает сигнал по статусу. Ошибка журнала
// возвращается, ошибки зеркал только логируются
func (rp *Reporter) Report(ctx context.Context, r *RunReport) (Signal, error) {
	if err := rp.journal.Append(ctx, r); err != nil {
		return SignalFatal, fmt.Errorf("journal run report: %w", err)
	}

	// Зеркала вторичны, журнал уже записан
	for _, m := range rp.mirrors {
		if err := m.SaveReport(ctx, r); err != nil {
			rp.logger.Error("Failed to mirror run report",
				"run_id", r.RunID,
				"error", err.Error(),
			)
		}
	}

	signal := SignalFor(r.Status)
	rp.logger.Info("Run report recorded",
		"run_id", r.RunID,
		"status", string(r.Status),
		"changes", len(r.DetectedChanges),
		"signal", signal.String(),
	)
	return signal, nil
}
