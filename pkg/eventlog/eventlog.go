// Package eventlog provides the append-only CSV audit trail.
//
// Every LLM prompt/response pair, every SQL execution and every plan or
// communication state transition is recorded as one row. The CSV file is the
// canonical record consumed by offline evaluation; operator-facing logging
// goes through slog separately.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var header = []string{"timestamp", "instruction", "query", "response"}

const timestampLayout = "2006-01-02 15:04:05"

// Logger writes structured audit rows to a CSV file.
// It is safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// New opens (or creates) the CSV log at path. The header row is written only
// when the file is new, so a reused path keeps appending to one audit trail.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	l := &Logger{w: csv.NewWriter(f), closer: f}
	if fresh {
		if err := l.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write event log header: %w", err)
		}
		l.w.Flush()
	}
	return l, nil
}

// NewDiscard returns a Logger that drops every row. Useful as a default when
// no audit trail is configured.
func NewDiscard() *Logger {
	return &Logger{w: csv.NewWriter(io.Discard)}
}

// FileName derives the per-process log file name from the configured log name
// and the process start time.
func FileName(logname string, start time.Time) string {
	if logname == "" {
		logname = "default"
	}
	return fmt.Sprintf("%s_%s_llm.csv", logname, start.Format("20060102_150405"))
}

// Log records one audit row. Empty fields are stored as "None" so the CSV
// stays rectangular and grep-friendly.
func (l *Logger) Log(instruction, query, response string) {
	if instruction == "" {
		instruction = "None"
	}
	if query == "" {
		query = "None"
	}
	if response == "" {
		response = "None"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{time.Now().Format(timestampLayout), instruction, query, response}
	if err := l.w.Write(row); err != nil {
		slog.Warn("failed to write event log row", "error", err)
		return
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		slog.Warn("failed to flush event log", "error", err)
	}
}

// Instruction records a row that has no prompt/response payload.
func (l *Logger) Instruction(format string, args ...any) {
	l.Log(fmt.Sprintf(format, args...), "", "")
}

// Close flushes buffered rows and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("failed to flush event log: %w", err)
	}
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
