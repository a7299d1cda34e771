package wavecache

import (
	"context"
	"errors"
)

var (
	// ErrStoreDeleted is returned by writes through a handle whose store was
	// deleted after the handle was opened.
	ErrStoreDeleted = errors.New("cache store deleted")
	// ErrStorageClosed is returned after Storage.Close.
	ErrStorageClosed = errors.New("cache storage closed")
)

// Storage is the set of named cache stores.
type Storage interface {
	// Open returns the store called name, creating it if needed. Opening the
	// same name twice returns the same handle until the store is deleted.
	Open(ctx context.Context, name string) (Cache, error)
	// Delete removes the store and all its entries. It reports whether the
	// store existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists stores in creation order.
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Cache is one named store. Implementations serialize writes; readers never
// observe a partially written entry.
type Cache interface {
	Name() string
	// Match returns a copy of the stored response for key.
	Match(ctx context.Context, key string) (*Response, bool)
	// Put stores resp under key. An existing entry is replaced and moves to
	// the back of the insertion order.
	Put(ctx context.Context, key string, resp *Response) error
	Delete(ctx context.Context, key string) (bool, error)
	// Keys lists entry keys oldest first.
	Keys(ctx context.Context) ([]string, error)
}
