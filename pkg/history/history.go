// Package history implements the append-only invocation log. Records are
// whole, newline-delimited JSON objects; a cross-process advisory lock
// serializes writers while readers take lock-free snapshots of committed
// records.
package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/bijux/bijux-cli/pkg/core"
)

// Entry is one immutable record of a past command invocation.
type Entry struct {
	// Sequence is globally unique and strictly increasing across all
	// writers to the same history file.
	Sequence uint64 `json:"sequence" yaml:"sequence" validate:"required,min=1"`

	// Timestamp is the invocation time in RFC 3339 format.
	Timestamp string `json:"timestamp" yaml:"timestamp" validate:"required"`

	// Command is the dispatched command path.
	Command string `json:"command" yaml:"command" validate:"required"`

	// Args are the invocation arguments.
	Args []string `json:"args" yaml:"args"`

	// ResultSummary is a small structured outcome description.
	ResultSummary map[string]any `json:"resultSummary" yaml:"resultSummary"`
}

// ListOptions shape a List call. The zero value returns every committed
// entry in sequence order.
type ListOptions struct {
	// Filter is a Starlark boolean expression over command, args, sequence
	// and timestamp. Empty means no filtering.
	Filter string

	// SortBy is one of sequence, timestamp, command. Empty means sequence.
	SortBy string

	// Descending reverses the sort order.
	Descending bool

	// Limit caps the result count; zero means unlimited.
	Limit int
}

// Store is the append-only history log over a single local file.
type Store struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	validate    *validator.Validate
	logger      zerolog.Logger

	// writer serializes in-process writers. The flock handle reports itself
	// as already held when relocked from the same Store, so it only mediates
	// between processes; this slot mediates between goroutines.
	writer chan struct{}
}

// DefaultLockTimeout bounds the wait for the cross-process append lock.
const DefaultLockTimeout = 5 * time.Second

// NewStore creates a history store over the given file path. The lock
// timeout bounds every exclusive acquisition; zero selects the default.
func NewStore(path string, lockTimeout time.Duration, logger zerolog.Logger) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
		validate:    validator.New(),
		logger:      logger.With().Str("component", "history").Logger(),
		writer:      make(chan struct{}, 1),
	}
}

// Path returns the history file path.
func (s *Store) Path() string {
	return s.path
}

// Append assigns the next sequence number and writes entry as one whole,
// atomically-flushed record. The advisory lock is held only around the
// read-max-and-append window and released on every exit path.
func (s *Store) Append(ctx context.Context, entry Entry) (Entry, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	maxSeq, err := s.maxSequence()
	if err != nil {
		return Entry{}, err
	}
	entry.Sequence = maxSeq + 1
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := s.validate.Struct(entry); err != nil {
		return Entry{}, core.NewValidationError("invalid history entry", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, core.NewEncodingError("failed to encode history entry", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Entry{}, fmt.Errorf("failed to create history directory: %w", err)
	}
	f, err := s.openForAppend()
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	// One whole line per write; readers only ever see complete records.
	if _, err := f.Write(line); err != nil {
		return Entry{}, fmt.Errorf("failed to append history entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return Entry{}, fmt.Errorf("failed to flush history entry: %w", err)
	}
	return entry, nil
}

// List takes a snapshot of committed records and applies filter, sort, and
// limit in memory. No lock is required for reads.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	entries, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	if opts.Filter != "" {
		pred, err := CompileFilter(opts.Filter)
		if err != nil {
			return nil, err
		}
		kept := entries[:0]
		for _, e := range entries {
			ok, err := pred.Match(ctx, e)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	if err := sortEntries(entries, opts.SortBy, opts.Descending); err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GroupByCommand buckets the listed entries by command path.
func (s *Store) GroupByCommand(ctx context.Context, opts ListOptions) (map[string][]Entry, error) {
	entries, err := s.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]Entry)
	for _, e := range entries {
		groups[e.Command] = append(groups[e.Command], e)
	}
	return groups, nil
}

// Export writes every committed entry to path as a JSON array.
func (s *Store) Export(ctx context.Context, path string) error {
	entries, err := s.snapshot()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return core.NewEncodingError("failed to encode history export", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write history export: %w", err)
	}
	return nil
}

// Import merges the records from path. Every record is validated before any
// is merged; a single malformed record aborts the whole import. Imported
// entries are re-sequenced after the current maximum.
func (s *Store) Import(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, core.NewNotFoundError(fmt.Sprintf("history import file %s", path), err)
	}

	var incoming []Entry
	if err := json.Unmarshal(data, &incoming); err != nil {
		return 0, core.NewValidationError("history import is not a JSON array of entries", err)
	}
	for i := range incoming {
		// Sequence is reassigned on merge; validate the rest of the record.
		candidate := incoming[i]
		candidate.Sequence = 1
		if err := s.validate.Struct(candidate); err != nil {
			return 0, core.NewValidationError(
				fmt.Sprintf("history import record %d failed validation", i), err)
		}
	}

	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	maxSeq, err := s.maxSequence()
	if err != nil {
		return 0, err
	}

	f, err := s.openForAppend()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for i := range incoming {
		incoming[i].Sequence = maxSeq + uint64(i) + 1
		line, err := json.Marshal(incoming[i])
		if err != nil {
			return 0, core.NewEncodingError("failed to encode imported entry", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return 0, fmt.Errorf("failed to append imported entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush history import: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync history import: %w", err)
	}
	return len(incoming), nil
}

// Clear truncates the history file under the same exclusive lock used by
// Append.
func (s *Store) Clear(ctx context.Context) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Truncate(s.path, 0); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to truncate history file: %w", err)
	}
	return nil
}

// openForAppend opens the history file for appending, discarding any torn
// trailing fragment first so a new record never merges into it. The fragment
// was never committed, so truncating it loses nothing. Callers must hold the
// exclusive lock.
func (s *Store) openForAppend() (*os.File, error) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat history file: %w", err)
	}
	if info.Size() > 0 {
		tail := make([]byte, 1)
		if _, err := f.ReadAt(tail, info.Size()-1); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to inspect history file: %w", err)
		}
		if tail[0] != '\n' {
			committed, err := s.committedLength(f, info.Size())
			if err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Truncate(committed); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to discard torn history record: %w", err)
			}
		}
	}
	return f, nil
}

// committedLength returns the file length up to and including the last
// newline, which is the committed prefix.
func (s *Store) committedLength(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil {
			return 0, fmt.Errorf("failed to scan history file: %w", err)
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// acquire takes the writer slot, then the exclusive cross-process lock, both
// within one bounded wait.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	select {
	case s.writer <- struct{}{}:
	case <-lockCtx.Done():
		if ctx.Err() != nil {
			return nil, core.NewCancelledError("history lock wait cancelled", ctx.Err())
		}
		return nil, core.NewTimeoutError(
			fmt.Sprintf("could not lock history file within %s", s.lockTimeout), nil,
		).WithFailure(core.FailHistoryLocked)
	}

	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		<-s.writer
		if ctx.Err() != nil {
			return nil, core.NewCancelledError("history lock wait cancelled", ctx.Err())
		}
		return nil, core.NewTimeoutError(
			fmt.Sprintf("could not lock history file within %s", s.lockTimeout), err,
		).WithFailure(core.FailHistoryLocked)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release history lock")
		}
		<-s.writer
	}, nil
}

// snapshot reads the committed records. A trailing line without a newline is
// an uncommitted torn write and is ignored; a malformed committed line is
// corruption and fails the read.
func (s *Store) snapshot() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var entries []Entry
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// Only lines terminated by the split are committed; the final
		// fragment of a torn write has no trailing newline.
		if !bytes.HasSuffix(data, []byte{'\n'}) && i == bytes.Count(data, []byte{'\n'}) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, core.NewValidationError(
				fmt.Sprintf("history record %d is corrupt", i+1), err)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return entries, nil
}

func (s *Store) maxSequence() (uint64, error) {
	entries, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, e := range entries {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max, nil
}

func sortEntries(entries []Entry, key string, descending bool) error {
	var less func(i, j int) bool
	switch key {
	case "", "sequence":
		less = func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence }
	case "timestamp":
		less = func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp }
	case "command":
		less = func(i, j int) bool { return entries[i].Command < entries[j].Command }
	default:
		return core.NewUsageError(fmt.Sprintf("unknown sort key %q", key), nil)
	}
	if descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(entries, less)
	return nil
}
