package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// WriteOptions controls how an individual write is acknowledged.
type WriteOptions struct {
	// AwaitDurable makes the write return only after the storage
	// engine has confirmed that it is persisted.
	AwaitDurable bool
}

// A KVStore represents the key value store being benchmarked.
// Implementations must be safe for concurrent use by multiple
// writers without any external locking.
type KVStore interface {
	io.Closer
	Put(ctx context.Context, key, value []byte, opts WriteOptions) error
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// Options captures the engine level settings applied when a
// storage engine is opened. Nil fields are left to the engine's
// own defaults.
type Options struct {
	// WALEnabled controls whether the engine logs writes ahead
	// of applying them.
	WALEnabled bool
	// FlushInterval is the interval at which buffered writes are
	// made durable in the background.
	FlushInterval *time.Duration
	// MemTableSize is the size in bytes of the in-memory write buffer.
	MemTableSize *uint64
	// L0SSTSize is the target size in bytes of level 0 tables.
	L0SSTSize *uint64
	// InMemory keeps all data in memory. No files are created.
	InMemory bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{WALEnabled: true}
}

var (
	// ErrKeyNotFound is returned by Get for keys that are absent.
	ErrKeyNotFound = errors.New("key not found")
	// ErrOpen wraps every failure to open or attach to a storage engine.
	ErrOpen = errors.New("unable to open storage engine")
)

// OpenError wraps the given cause so that it matches ErrOpen.
func OpenError(engine string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrOpen, engine, cause)
}
