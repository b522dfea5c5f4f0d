// Package eventlog keeps the per-kind, capacity-bounded event logs in a
// scoped key-value store.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
)

// Ring is one append-only log stored as a JSON array under a single key. Only
// the newest capacity entries are retained.
type Ring[T any] struct {
	mu       sync.Mutex
	key      string
	capacity int
	store    telemetry.KeyValueStore
	logger   *logging.ChanneledLogger

	// mirror is the last list this process appended or loaded. It outlives a
	// failed write so reports still see the event for this process.
	mirror []T
	// dirty is set while the mirror holds entries the store is missing.
	dirty bool
}

func newRing[T any](store telemetry.KeyValueStore, key string, capacity int, logger *logging.ChanneledLogger) *Ring[T] {
	return &Ring[T]{
		key:      key,
		capacity: capacity,
		store:    store,
		logger:   logger,
		mirror:   []T{},
	}
}

// Key returns the store key of the ring.
func (r *Ring[T]) Key() string { return r.key }

// load restores the ring from the store. A list that is not valid JSON is
// discarded as a whole; entries failing the schema are dropped one by one.
func (r *Ring[T]) load() *telemetry.ParseError {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok, err := r.store.Get(r.key)
	if err != nil {
		r.logger.Storage().Error("Failed to read event log", "key", r.key, "error", err)
		return &telemetry.ParseError{Key: r.key, Err: err}
	}
	if !ok || raw == "" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		r.logger.Storage().Warn("Discarding corrupted event log", "key", r.key, "error", err)
		r.rewrite(nil)
		return &telemetry.ParseError{Key: r.key, Err: err}
	}

	kept := make([]T, 0, len(items))
	var firstErr error
	for _, item := range items {
		var entry T
		if err := json.Unmarshal(item, &entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := telemetry.Validate(entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		kept = append(kept, entry)
	}
	kept = r.trim(kept)
	r.mirror = kept

	dropped := len(items) - len(kept)
	if firstErr == nil {
		if dropped > 0 {
			r.rewrite(kept)
		}
		return nil
	}

	r.logger.Storage().Warn("Dropped invalid event log entries",
		"key", r.key, "dropped", dropped, "kept", len(kept), "error", firstErr)
	r.rewrite(kept)
	return &telemetry.ParseError{Key: r.key, Dropped: dropped, Err: firstErr}
}

// rewrite replaces the stored list after load-time cleanup. Failures only log.
func (r *Ring[T]) rewrite(entries []T) {
	if entries == nil {
		entries = []T{}
	}
	if err := r.write(entries); err != nil {
		r.logger.Storage().Warn("Failed to rewrite cleaned event log", "key", r.key, "error", err)
	}
}

// Append stores entry after the existing ones, evicting the oldest beyond
// capacity. A failed write returns a *telemetry.PersistenceError but the entry
// stays visible through Entries.
func (r *Ring[T]) Append(entry T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.current()
	next := make([]T, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, entry)
	next = r.trim(next)
	r.mirror = next

	if err := r.write(next); err != nil {
		perr := &telemetry.PersistenceError{Key: r.key, Err: err}
		r.dirty = true
		r.logger.Storage().Error("Failed to persist event", "key", r.key, "entries", len(next), "error", err)
		return perr
	}
	r.dirty = false
	return nil
}

// current reads the stored list, falling back to the mirror when the store
// cannot be read or decoded, or is behind after a failed write.
func (r *Ring[T]) current() []T {
	if r.dirty {
		return r.mirror
	}
	raw, ok, err := r.store.Get(r.key)
	if err != nil {
		r.logger.Storage().Warn("Failed to read event log, using in-memory copy", "key", r.key, "error", err)
		return r.mirror
	}
	if !ok || raw == "" {
		if len(r.mirror) > 0 {
			// A previous write failed or the key was removed externally.
			return r.mirror
		}
		return nil
	}
	var stored []T
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		r.logger.Storage().Warn("Stored event log is corrupted, using in-memory copy", "key", r.key, "error", err)
		return r.mirror
	}
	return stored
}

func (r *Ring[T]) trim(entries []T) []T {
	if r.capacity > 0 && len(entries) > r.capacity {
		return entries[len(entries)-r.capacity:]
	}
	return entries
}

func (r *Ring[T]) write(entries []T) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", r.key, err)
	}
	return r.store.Set(r.key, string(payload))
}

// Entries returns a copy of the retained entries, oldest first.
func (r *Ring[T]) Entries() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.mirror))
	copy(out, r.mirror)
	return out
}

// Len returns the number of retained entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mirror)
}

// clearLocked removes the stored list. The caller holds r.mu.
func (r *Ring[T]) clearLocked() error {
	r.mirror = []T{}
	r.dirty = false
	if err := r.store.Delete(r.key); err != nil {
		return &telemetry.PersistenceError{Key: r.key, Err: err}
	}
	return nil
}

// IsPersistenceError reports whether err came from a failed store write.
func IsPersistenceError(err error) bool {
	var perr *telemetry.PersistenceError
	return errors.As(err, &perr)
}
