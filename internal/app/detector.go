package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"structwatch/internal/config"
	"structwatch/internal/fetcher"
	"structwatch/internal/fingerprint"
	"structwatch/internal/normalize"
	"structwatch/internal/observability"
	"structwatch/internal/report"
	"structwatch/internal/storage"
)

const (
	reasonCancelled = "cancelled"
	previewChars    = 120
)

// Options параметры прохода
type Options struct {
	// Workers сколько целей проверяется одновременно, 1 - последовательно
	Workers int
	Now     func() time.Time
	NewID   func() string
}

// Detector выполняет один проход по настроенным целям
type Detector struct {
	targets   []config.Target
	router    *fetcher.Router
	extractor *fingerprint.Extractor
	baseline  storage.BaselineStore
	logger    *observability.Logger
	metrics   *observability.Metrics
	workers   int
	now       func() time.Time
	newID     func() string
}

func NewDetector(
	targets []config.Target,
	router *fetcher.Router,
	extractor *fingerprint.Extractor,
	baseline storage.BaselineStore,
	logger *observability.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Detector {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Detector{
		targets:   targets,
		router:    router,
		extractor: extractor,
		baseline:  baseline,
		logger:    logger,
		metrics:   metrics,
		workers:   opts.Workers,
		now:       opts.Now,
		newID:     opts.NewID,
	}
}

// Run загружает базовую линию, проверяет все цели, один раз сохраняет базовую
// линию и возвращает отчёт. Сбой цели - пропуск. Проход прерывают только ошибки
// хранения базовой линии, тогда отчёт не возвращается
func (d *Detector) Run(ctx context.Context) (*report.RunReport, error) {
	started := d.now()
	runID := d.newID()

	if err := d.baseline.Load(); err != nil {
		d.logger.Error("Failed to load baseline", "run_id", runID, "error", err.Error())
		return nil, err
	}

	workers := d.workers
	if workers > len(d.targets) {
		workers = len(d.targets)
	}

	d.logger.Info("Starting detection run",
		"run_id", runID,
		"targets", len(d.targets),
		"workers", workers,
	)

	results := make([]report.TargetResult, len(d.targets))
	events := make([]*report.ChangeEvent, len(d.targets))

	// Пул воркеров, результаты раскладываются по индексу цели
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], events[i] = d.check(ctx, d.targets[i])
			}
		}()
	}
	for i := range d.targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Один Flush на проход
	if err := d.baseline.Flush(); err != nil {
		d.logger.Error("Failed to persist baseline", "run_id", runID, "error", err.Error())
		return nil, err
	}

	// События в порядке конфигурации целей
	changes := make([]report.ChangeEvent, 0, len(events))
	for _, ev := range events {
		if ev != nil {
			changes = append(changes, *ev)
		}
	}

	finished := d.now()
	r := report.Build(runID, finished, results, changes)

	d.logger.Info("Detection run completed",
		"run_id", runID,
		"status", string(r.Status),
		"changes", len(r.DetectedChanges),
		"bootstrap", r.Count(report.OutcomeBootstrap),
		"unchanged", r.Count(report.OutcomeUnchanged),
		"changed", r.Count(report.OutcomeChanged),
		"skipped", r.Count(report.OutcomeSkipped),
		"duration", finished.Sub(started).String(),
	)

	if d.metrics != nil {
		for _, res := range r.Targets {
			d.metrics.ObserveTarget(string(res.Outcome))
		}
		statuses := make([]string, len(report.Statuses))
		for i, s := range report.Statuses {
			statuses[i] = string(s)
		}
		d.metrics.ObserveRun(string(r.Status), statuses, len(r.DetectedChanges), finished.Sub(started), finished)
	}

	return r, nil
}

// check проверяет одну цель. Событие возвращается только при изменении
func (d *Detector) check(ctx context.Context, t config.Target) (report.TargetResult, *report.ChangeEvent) {
	logger := d.logger.With("target", t.ID, "url", t.URL)

	if ctx.Err() != nil {
		return d.skip(logger, t, "Target skipped", errors.New(reasonCancelled)), nil
	}

	// Браузер выключен, рендеринг откатывается на HTTP
	if t.Render && !d.router.HasRenderer() {
		logger.Warn("Headless browser disabled, fetching rendered target over HTTP")
	}

	start := d.now()
	snap, err := d.router.For(t.Render).Fetch(ctx, t.URL)
	if d.metrics != nil {
		d.metrics.ObserveFetch(t.ID, d.now().Sub(start))
	}
	if err != nil {
		return d.skip(logger, t, "Fetch failed, target skipped", err), nil
	}

	extraction, err := d.extractor.ExtractDetailed(snap, t.Selectors)
	if err != nil {
		return d.skip(logger, t, "Extraction failed, target skipped", err), nil
	}

	logger.Debug("Structure text extracted",
		"matches", extraction.Matches,
		"preview", normalize.TruncatePreview(extraction.Text, previewChars),
	)

	current := string(extraction.Fingerprint)
	result := report.TargetResult{
		Target:      t.ID,
		Fingerprint: current,
		Matches:     extraction.TotalMatches(),
	}

	// Сравнение с базовой линией
	previous, known := d.baseline.Get(t.ID)
	switch {
	case !known:
		d.baseline.Set(t.ID, current)
		result.Outcome = report.OutcomeBootstrap
		logger.Info("Baseline established", "fingerprint", current, "matches", result.Matches)
		return result, nil

	case previous == current:
		result.Outcome = report.OutcomeUnchanged
		logger.Info("Structure unchanged", "fingerprint", current)
		return result, nil

	default:
		// Старый отпечаток другого алгоритма даёт одно изменение при миграции
		if !d.extractor.Generator().Produced(previous) {
			logger.Warn("Baseline fingerprint was produced by another algorithm",
				"algorithm", d.extractor.Generator().Algorithm(),
				"previous_hash", previous,
			)
		}
		d.baseline.Set(t.ID, current)
		result.Outcome = report.OutcomeChanged
		logger.Warn("Structure change detected",
			"previous_hash", previous,
			"current_hash", current,
			"matches", result.Matches,
		)
		return result, &report.ChangeEvent{
			Page:         t.ID,
			URL:          t.URL,
			PreviousHash: previous,
			CurrentHash:  current,
			DetectedAt:   d.now(),
		}
	}
}

func (d *Detector) skip(logger *observability.Logger, t config.Target, msg string, err error) report.TargetResult {
	logger.Warn(msg, "reason", err.Error())
	return report.TargetResult{
		Target:  t.ID,
		Outcome: report.OutcomeSkipped,
		Reason:  err.Error(),
	}
}
