package report

import "time"

// Status итоговый статус прохода
type Status string

const (
	StatusOK              Status = "ok"
	StatusChangesDetected Status = "changes_detected"
	// StatusInconclusive цели заданы, но ни одну не удалось проверить
	StatusInconclusive Status = "inconclusive"
)

// Statuses все статусы прохода
var Statuses = []Status{StatusOK, StatusChangesDetected, StatusInconclusive}

// Outcome результат проверки одной цели
type Outcome string

const (
	OutcomeBootstrap Outcome = "bootstrap"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeChanged   Outcome = "changed"
	OutcomeSkipped   Outcome = "skipped"
)

// ChangeEvent расхождение отпечатка с существующей базовой линией
type ChangeEvent struct {
	Page         string    `json:"page"`
	URL          string    `json:"url"`
	PreviousHash string    `json:"previous_hash"`
	CurrentHash  string    `json:"current_hash"`
	DetectedAt   time.Time `json:"detected_at"`
}

// TargetResult что произошло с целью за проход
type TargetResult struct {
	Target      string  `json:"target"`
	Outcome     Outcome `json:"outcome"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Matches     int     `json:"matches,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// RunReport итог одного прохода. После Build не изменяется
type RunReport struct {
	RunID           string         `json:"run_id"`
	DetectionTime   time.Time      `json:"detection_time"`
	DetectedChanges []ChangeEvent  `json:"detected_changes"`
	Status          Status         `json:"status"`
	Targets         []TargetResult `json:"targets"`
}

// Build выводит статус прохода из результатов по целям и событий
func Build(runID string, detectedAt time.Time, results []TargetResult, events []ChangeEvent) *RunReport {
	if events == nil {
		events = []ChangeEvent{}
	}
	if results == nil {
		results = []TargetResult{}
	}
	return &RunReport{
		RunID:           runID,
		DetectionTime:   detectedAt,
		DetectedChanges: events,
		Status:          deriveStatus(results, events),
		Targets:         results,
	}
}

func deriveStatus(results []TargetResult, events []ChangeEvent) Status {
	if len(events) > 0 {
		return StatusChangesDetected
	}
	// Без целей проверять нечего, это не ошибка
	if len(results) == 0 {
		return StatusOK
	}
	for _, r := range results {
		if r.Outcome != OutcomeSkipped {
			return StatusOK
		}
	}
	return StatusInconclusive
}

// Count число целей с данным результатом
func (r *RunReport) Count(outcome Outcome) int {
	n := 0
	for _, t := range r.Targets {
		if t.Outcome == outcome {
			n++
		}
	}
	return n
}
