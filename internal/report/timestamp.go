package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// Журналы, записанные до перехода на RFC 3339, содержат время без зоны:
// 2025-01-10T09:00:01.123456. Такое время считается локальным.
const localISOLayout = "2006-01-02T15:04:05.999999999"

// parseTimestamp принимает RFC 3339 и время без зоны. Пустая строка даёт нулевое время
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localISOLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}

// UnmarshalJSON читает detected_at в обоих форматах
func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	type plain ChangeEvent
	aux := struct {
		*plain
		DetectedAt string `json:"detected_at"`
	}{plain: (*plain)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	t, err := parseTimestamp(aux.DetectedAt)
	if err != nil {
		return fmt.Errorf("detected_at: %w", err)
	}
	e.DetectedAt = t
	return nil
}

// UnmarshalJSON читает detection_time в обоих форматах,
// вложенные события разбирает ChangeEvent.UnmarshalJSON
func (r *RunReport) UnmarshalJSON(data []byte) error {
	type plain RunReport
	aux := struct {
		*plain
		DetectionTime string `json:"detection_time"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	t, err := parseTimestamp(aux.DetectionTime)
	if err != nil {
		return fmt.Errorf("detection_time: %w", err)
	}
	r.DetectionTime = t
	return nil
}
