package paper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrRecorderClosed is returned when writing to a closed recorder.
var ErrRecorderClosed = errors.New("recorder closed")

// Record kinds written on each JSON line.
const (
	KindTrade    = "trade"
	KindSnapshot = "snapshot"
)

// Entry is one line of the JSONL journal. Exactly one of Trade or Snapshot is set.
type Entry struct {
	Kind     string    `json:"kind"`
	Written  time.Time `json:"written"`
	Trade    *Trade    `json:"trade,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// JSONLRecorder appends trades and ledger snapshots as JSON lines for later analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// RecordTrade writes a single trade line.
func (r *JSONLRecorder) RecordTrade(ctx context.Context, trade Trade) error {
	return r.write(ctx, Entry{Kind: KindTrade, Written: time.Now().UTC(), Trade: &trade})
}

// RecordSnapshot writes a ledger snapshot line. The trade list is omitted;
// trades are journaled individually.
func (r *JSONLRecorder) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	snap.Trades = nil
	return r.write(ctx, Entry{Kind: KindSnapshot, Written: time.Now().UTC(), Snapshot: &snap})
}

func (r *JSONLRecorder) write(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrRecorderClosed
	}
	if err := r.enc.Encode(entry); err != nil {
		return fmt.Errorf("encode %s: %w", entry.Kind, err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
