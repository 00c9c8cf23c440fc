// Package queue implements the append-only JSONL log used both as the primary
// observation store and as the offline retry buffer.
package queue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// pathLocks holds one mutex per absolute file path, so every FileQueue in the
// process pointing at the same file serializes on the same lock.
var pathLocks sync.Map

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// FileQueue stores one JSON-encoded observation per newline-terminated line.
// All operations on the same path are mutually exclusive within the process.
type FileQueue struct {
	path      string
	name      string
	mu        *sync.Mutex
	logger    *slog.Logger
	malformed prometheus.Counter
}

// NewFileQueue opens (creating if needed) the queue file at path. name labels
// logs and metrics, e.g. "storage" or "offline-buffer".
func NewFileQueue(path, name string, logger *slog.Logger, metrics *observability.Metrics) (*FileQueue, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, &domain.StorageError{Op: "open", Path: abs, Err: err}
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Path: abs, Err: err}
	}
	if err := f.Close(); err != nil {
		return nil, &domain.StorageError{Op: "open", Path: abs, Err: err}
	}

	return &FileQueue{
		path:      abs,
		name:      name,
		mu:        lockFor(abs),
		logger:    logger.With("queue", name),
		malformed: metrics.QueueMalformedLines.WithLabelValues(name),
	}, nil
}

// Path returns the absolute path of the backing file.
func (q *FileQueue) Path() string { return q.path }

// Name returns the queue label.
func (q *FileQueue) Name() string { return q.name }

// Append adds one observation. The record is written with a single write
// call and synced before Append returns.
func (q *FileQueue) Append(obs domain.Observation) error {
	return q.AppendAll([]domain.Observation{obs})
}

// AppendAll adds observations in order as one locked, synced write.
func (q *FileQueue) AppendAll(records []domain.Observation) error {
	if len(records) == 0 {
		return nil
	}
	data, err := encodeLines(records)
	if err != nil {
		return &domain.StorageError{Op: "append", Path: q.path, Err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &domain.StorageError{Op: "append", Path: q.path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &domain.StorageError{Op: "append", Path: q.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &domain.StorageError{Op: "append", Path: q.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.StorageError{Op: "append", Path: q.path, Err: err}
	}
	return nil
}

// ReadAll returns every parseable record in append order. Malformed lines
// are skipped.
func (q *FileQueue) ReadAll() ([]domain.Observation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked()
}

// WriteAll replaces the whole file with records. The new content is written
// to a temporary file and renamed over the old one, so readers see either the
// old or the new content, never a mix.
func (q *FileQueue) WriteAll(records []domain.Observation) error {
	data, err := encodeLines(records)
	if err != nil {
		return &domain.StorageError{Op: "write", Path: q.path, Err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := writeFileAtomic(q.path, data); err != nil {
		return &domain.StorageError{Op: "write", Path: q.path, Err: err}
	}
	return nil
}

// PopAll returns all records and empties the queue under one lock, so an
// Append from another goroutine lands either before the read or after the
// truncate.
func (q *FileQueue) PopAll() ([]domain.Observation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.readLocked()
	if err != nil {
		return nil, err
	}
	if err := q.truncateLocked(); err != nil {
		return nil, err
	}
	return records, nil
}

// Clear empties the queue.
func (q *FileQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.truncateLocked()
}

// Count returns the number of non-empty lines, malformed ones included.
func (q *FileQueue) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &domain.StorageError{Op: "count", Path: q.path, Err: err}
	}
	defer f.Close()

	n := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return 0, &domain.StorageError{Op: "count", Path: q.path, Err: err}
		}
	}
}

func (q *FileQueue) readLocked() ([]domain.Observation, error) {
	f, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "read", Path: q.path, Err: err}
	}
	defer f.Close()

	var records []domain.Observation
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if rec, ok := q.decodeLine(line, lineNo); ok {
			records = append(records, rec)
		}
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, &domain.StorageError{Op: "read", Path: q.path, Err: err}
		}
	}
}

func (q *FileQueue) decodeLine(line []byte, lineNo int) (domain.Observation, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return domain.Observation{}, false
	}
	var rec domain.Observation
	if line[0] != '{' {
		q.skip(lineNo, errors.New("not a JSON object"))
		return rec, false
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		q.skip(lineNo, err)
		return rec, false
	}
	return rec, true
}

func (q *FileQueue) skip(lineNo int, err error) {
	q.logger.Debug("skipping malformed queue line", "path", q.path, "line", lineNo, "error", err)
	q.malformed.Inc()
}

func (q *FileQueue) truncateLocked() error {
	if err := os.Truncate(q.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.StorageError{Op: "truncate", Path: q.path, Err: err}
	}
	return nil
}

func encodeLines(records []domain.Observation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		// Encode terminates each value with '\n'.
		if err := enc.Encode(records[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
