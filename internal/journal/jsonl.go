package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileWriter appends newline-delimited JSON records to a file. It is safe
// for concurrent use.
type FileWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewFileWriter returns a writer appending to path, or nil when path is
// blank. The file is created on the first write.
func NewFileWriter(path string) *FileWriter {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &FileWriter{path: path}
}

// Path returns the target file.
func (w *FileWriter) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

func (w *FileWriter) ensureOpenLocked() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Write appends v as one JSON line and flushes so tailers see it.
func (w *FileWriter) Write(v any) error {
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpenLocked(); err != nil {
		return fmt.Errorf("journal: open %s: %w", w.path, err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes and closes the file.
func (w *FileWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	flushErr := w.w.Flush()
	closeErr := w.file.Close()
	w.file, w.w = nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
