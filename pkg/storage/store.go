package storage

import (
	"context"
	"errors"
	"fmt"

	"selfvault/pkg/types"
)

var ErrNotFound = errors.New("chunk not found")

// ChunkStore is a reference counted content-addressed store of encrypted
// chunks. Keys are the hash of the stored bytes.
type ChunkStore interface {
	// Get returns the bytes stored under hash, or ErrNotFound.
	Get(ctx context.Context, hash types.Hash) ([]byte, error)

	// Store saves content under hash and takes one reference on it.
	// Storing identical content again only bumps the count.
	Store(ctx context.Context, hash types.Hash, content []byte) error

	// Delete drops one reference; the data goes away when none remain.
	Delete(ctx context.Context, hash types.Hash) error

	// Count returns the number of references held, 0 when absent.
	Count(ctx context.Context, hash types.Hash) (int64, error)

	Has(ctx context.Context, hash types.Hash) (bool, error)
}

// Release drops one reference on each hash. Hashes that are already gone
// are skipped; any other failure is collected and returned joined.
func Release(ctx context.Context, store ChunkStore, hashes []types.Hash) error {
	var errs []error
	for _, h := range hashes {
		if h.IsZero() {
			continue
		}
		if err := store.Delete(ctx, h); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("release %s: %w", h.Short(), err))
		}
	}
	return errors.Join(errs...)
}
