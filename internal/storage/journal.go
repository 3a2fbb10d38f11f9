package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"structwatch/internal/report"
)

// FileJournal дописывает каждый отчёт JSON блоком с отступами.
// Старые записи не обрезаются и не переписываются
type FileJournal struct {
	path string
	mu   sync.Mutex
}

func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

func (j *FileJournal) Path() string {
	return j.path
}

func (j *FileJournal) Append(_ context.Context, r *report.RunReport) error {
	data, err := encodeJSON(r)
	if err != nil {
		return &PersistenceError{Op: "append", Path: j.path, Err: err}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return &PersistenceError{Op: "append", Path: j.path, Err: err}
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Op: "append", Path: j.path, Err: err}
	}

	// Перед блоком пустая строка, после него перевод строки
	entry := make([]byte, 0, len(data)+1)
	entry = append(entry, '\n')
	entry = append(entry, data...)

	if _, err := f.Write(entry); err != nil {
		_ = f.Close()
		return &PersistenceError{Op: "append", Path: j.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return &PersistenceError{Op: "append", Path: j.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Op: "append", Path: j.path, Err: err}
	}
	return nil
}

// Entries разбирает все отчёты журнала, от старых к новым
func (j *FileJournal) Entries() ([]*report.RunReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: j.path, Err: err}
	}
	defer func() { _ = f.Close() }()

	var entries []*report.RunReport
	dec := json.NewDecoder(f)
	for {
		var r report.RunReport
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entries, &PersistenceError{Op: "read", Path: j.path, Err: fmt.Errorf("entry %d: %w", len(entries)+1, err)}
		}
		entries = append(entries, &r)
	}
	return entries, nil
}
