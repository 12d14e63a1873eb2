package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrConflict is returned by a store when a list version (or the expected
	// location of the task being moved) changed since the snapshot was taken.
	ErrConflict = errors.New("position: list version conflict")
	// ErrRetryExhausted means every attempt in the budget hit ErrConflict.
	ErrRetryExhausted = errors.New("position: retry attempts exhausted")
)

const DefaultMaxAttempts = 5

// Snapshot is the state of one list at read time.
type Snapshot struct {
	ListID  string
	Version int64
	Count   int
}

type SnapshotReader interface {
	ListSnapshot(ctx context.Context, listID string) (Snapshot, error)
}

// Txn collects the list versions observed during one attempt. Stores compare
// them against the current versions when committing a Plan.
type Txn struct {
	ctx      context.Context
	reader   SnapshotReader
	versions map[string]int64
}

// Snapshot reads a list and records its version for the commit check.
func (t *Txn) Snapshot(listID string) (Snapshot, error) {
	snap, err := t.reader.ListSnapshot(t.ctx, listID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, seen := t.versions[listID]; !seen {
		t.versions[listID] = snap.Version
	}
	return snap, nil
}

// Versions returns the expected version of every list read so far.
func (t *Txn) Versions() map[string]int64 {
	out := make(map[string]int64, len(t.versions))
	for id, v := range t.versions {
		out[id] = v
	}
	return out
}

func (t *Txn) Context() context.Context { return t.ctx }

// Allocator runs positional mutations under optimistic concurrency control.
type Allocator struct {
	reader      SnapshotReader
	maxAttempts int
	backoff     time.Duration
	log         *log.Logger
}

func NewAllocator(reader SnapshotReader, maxAttempts int, logger *log.Logger) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Allocator{reader: reader, maxAttempts: maxAttempts, backoff: 2 * time.Millisecond, log: logger}
}

// Run calls fn with a fresh Txn until it succeeds, fails with anything other
// than ErrConflict, or the attempt budget is spent.
func (a *Allocator) Run(ctx context.Context, fn func(*Txn) error) error {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		txn := &Txn{ctx: ctx, reader: a.reader, versions: map[string]int64{}}
		err := fn(txn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		a.log.WithFields(log.Fields{"attempt": attempt, "lists": txn.Versions()}).Debug("position conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * a.backoff):
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrRetryExhausted, a.maxAttempts)
}
