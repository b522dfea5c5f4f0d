package telemetry

import "fmt"

// ValidationError reports the first field of an event that failed its schema.
type ValidationError struct {
	Kind  Kind
	Field string
	Rule  string
	Value any
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("invalid %s event: field %q", e.Kind, e.Field)
	}
	return fmt.Sprintf("invalid %s event: field %q failed %q (value: %v)", e.Kind, e.Field, e.Rule, e.Value)
}

// PersistenceError wraps a durable store write failure.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ParseError wraps stored data that could not be decoded on load.
type ParseError struct {
	Key     string
	Dropped int
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s (%d entries dropped): %v", e.Key, e.Dropped, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DispatchError wraps a failed collector or tag sink delivery.
type DispatchError struct {
	Events     int
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to dispatch %d events: collector returned status %d", e.Events, e.StatusCode)
	}
	return fmt.Sprintf("failed to dispatch %d events: %v", e.Events, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
