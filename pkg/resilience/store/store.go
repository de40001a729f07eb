// Package store provides bounded persistence for aggregated error
// log entries. Stores keep only the newest entries up to a fixed cap
// so local persistence can never grow without bound.
package store

import "errors"

// Store errors.
var (
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// DefaultCap is the default retained-entry ceiling.
const DefaultCap = 1000

// Entry is one persisted log record. Data is an opaque serialized
// payload; stores never inspect it.
type Entry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Data      []byte `json:"data"`
}

// Store persists log entries newest-last with a bounded cap.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists entries and evicts the oldest beyond the cap.
	Append(entries ...Entry) error

	// Recent returns up to limit entries, newest first. A non-positive
	// limit returns everything retained.
	Recent(limit int) ([]Entry, error)

	// Count returns the number of retained entries.
	Count() (int, error)

	// Clear removes all entries.
	Clear() error

	// Close releases resources. Operations after Close fail with
	// ErrStoreClosed.
	Close() error
}
