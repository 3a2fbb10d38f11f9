package storage

import (
	"fmt"
	"path/filepath"
)

const (
	BaselineFileName = "baseline.json"
	JournalFileName  = "changes.log"
)

// Baseline идентификатор цели -> последний наблюдавшийся отпечаток
type Baseline map[string]string

// BaselineStore базовая линия на один проход: загружается один раз,
// меняется в памяти, сохраняется одним Flush
type BaselineStore interface {
	// Load читает сохранённое состояние. Нет файла - пустая базовая линия
	Load() error

	// Get возвращает отпечаток для id
	Get(id string) (string, bool)

	// Set запоминает fp для id только в памяти. Безопасен для конкурентного вызова
	Set(id, fp string)

	// Flush атомарно заменяет сохранённое состояние текущим
	Flush() error

	// Snapshot возвращает копию текущего состояния
	Snapshot() Baseline
}

// PersistenceError не удалось прочитать или записать состояние на диске.
// Локально не восстанавливается, проход завершается фатально
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Paths пути к базовой линии и журналу в каталоге состояния
type Paths struct {
	Baseline string
	Journal  string
}

// PathsFor раскладывает baseline.json и changes.log в stateDir
func PathsFor(stateDir string) Paths {
	return Paths{
		Baseline: filepath.Join(stateDir, BaselineFileName),
		Journal:  filepath.Join(stateDir, JournalFileName),
	}
}
