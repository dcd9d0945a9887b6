// Package audit writes an append-only JSON-lines trail of every
// execution, written best-effort so a write failure never blocks a call.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/connectorrt/runtime/internal/connector"
)

// Log appends connector.AuditEntry records to a JSONL file under a
// process-local write mutex so concurrent writers never interleave.
type Log struct {
	mu   sync.Mutex
	path string
}

// New returns a Log writing to path, creating its parent directory if
// missing. The file itself is opened lazily on the first Record.
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Log{path: path}, nil
}

// Record appends entry as one JSON line. Failures are logged and swallowed:
// audit writes never fail a call.
func (l *Log) Record(ctx context.Context, entry connector.AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("audit_write_failed", "error", err, "path", l.path)
		return
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("audit_marshal_failed", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("audit_write_failed", "error", err, "path", l.path)
	}
}

// Read returns the last limit entries, most recent last. Malformed lines
// are skipped rather than failing the whole read.
func (l *Log) Read(limit int) ([]connector.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []connector.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry connector.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		all = append(all, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 || limit >= len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}
