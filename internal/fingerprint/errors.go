package fingerprint

import "fmt"

// ExtractionError - снимок не удалось свести к отпечатку.
// Вызывающий код обрабатывает её как неудачную загрузку
type ExtractionError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
