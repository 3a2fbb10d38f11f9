package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileBaseline хранит базовую линию одним JSON объектом с отступами
type FileBaseline struct {
	path    string
	mu      sync.RWMutex
	entries Baseline

	// beforeRename вызывается после записи временного файла и до замены
	// основного. В тестах имитирует прерванный Flush
	beforeRename func(tmpPath string) error
}

func NewFileBaseline(path string) *FileBaseline {
	return &FileBaseline{
		path:    path,
		entries: make(Baseline),
	}
}

func (b *FileBaseline) Path() string {
	return b.path
}

func (b *FileBaseline) Load() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.mu.Lock()
		b.entries = make(Baseline)
		b.mu.Unlock()
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "load", Path: b.path, Err: err}
	}

	// Пустой файл - пустая базовая линия
	entries := make(Baseline)
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return &PersistenceError{Op: "load", Path: b.path, Err: fmt.Errorf("decode baseline: %w", err)}
		}
	}
	// JSON null обнуляет карту
	if entries == nil {
		entries = make(Baseline)
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}

func (b *FileBaseline) Get(id string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fp, ok := b.entries[id]
	return fp, ok
}

func (b *FileBaseline) Set(id, fp string) {
	b.mu.Lock()
	b.entries[id] = fp
	b.mu.Unlock()
}

func (b *FileBaseline) Snapshot() Baseline {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(Baseline, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Flush пишет временный файл рядом с базовой линией, делает fsync и
// переименовывает его. Читатель видит либо старое, либо новое содержимое
func (b *FileBaseline) Flush() error {
	data, err := encodeJSON(b.Snapshot())
	if err != nil {
		return &PersistenceError{Op: "flush", Path: b.path, Err: err}
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Op: "flush", Path: b.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "flush", Path: b.path, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &PersistenceError{Op: "flush", Path: b.path, Err: cause}
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}

	if b.beforeRename != nil {
		if err := b.beforeRename(tmpPath); err != nil {
			return cleanup(err)
		}
	}

	// Атомарная замена
	if err := os.Rename(tmpPath, b.path); err != nil {
		return cleanup(err)
	}

	syncDir(dir)
	return nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// syncDir фиксирует переименование на диске, где платформа это позволяет
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
