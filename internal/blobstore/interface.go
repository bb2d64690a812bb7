// Package blobstore defines the storage engine contract for immutable blobs
// and provides its engines: a flat filesystem directory, a bbolt file, a
// SQLite database and an S3 bucket.
package blobstore

import (
	"context"
	"time"

	"github.com/medvied/mze/internal/models"
)

// Store manages the lifecycle of a storage instance.
type Store interface {
	// Init binds the engine to an existing store. Returns ErrNoStore if the
	// store does not exist. A second Init rebinds to the new configuration.
	Init(ctx context.Context, cfg Config) error

	// Fini unbinds the engine. It is idempotent.
	Fini(ctx context.Context) error

	// Create makes a new store and binds the engine to it.
	// Returns ErrAlreadyExists if the store exists.
	Create(ctx context.Context, cfg Config) error

	// Destroy removes the bound store and unbinds the engine.
	// Returns ErrNotEmpty while any blob remains.
	Destroy(ctx context.Context) error

	// Fsck checks the store and returns an error wrapping ErrConsistency
	// listing every finding. It never repairs.
	Fsck(ctx context.Context) error
}

// BlobStorage is the vectored CRUD surface. Results are positional: the i-th
// result corresponds to the i-th input, nil meaning the blob is absent.
type BlobStorage interface {
	Get(ctx context.Context, ids []models.BlobID) ([]*models.BlobData, error)

	// Put stores each entry, minting ids for entries without one.
	// Returns ErrAlreadyExists for an explicit id that is already stored.
	Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error)

	Head(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error)

	// Catalog enumerates every stored blob in no particular order.
	Catalog(ctx context.Context) ([]models.IDInfo, error)

	// Delete removes each blob and returns its prior info. A missing id is
	// not an error.
	Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error)
}

// Storage is a complete engine.
type Storage interface {
	Store
	BlobStorage
}

// TempSweeper is implemented by engines that stage writes in temporary files.
type TempSweeper interface {
	// SweepTemps removes temporary files older than olderThan and returns
	// how many were removed.
	SweepTemps(ctx context.Context, olderThan time.Duration) (int, error)
}
