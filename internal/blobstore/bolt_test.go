package blobstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/blobstore/storetest"
	"github.com/medvied/mze/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (blobstore.Storage, blobstore.Config) {
		return blobstore.NewBoltStore(), blobstore.Config{"path": filepath.Join(t.TempDir(), "db", "blobs.db")}
	})
}

func TestBoltStore_PutBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := blobstore.NewBoltStore()
	require.NoError(t, s.Create(ctx, blobstore.Config{"path": filepath.Join(t.TempDir(), "blobs.db")}))
	t.Cleanup(func() { s.Fini(ctx) })

	existing := models.NewBlobID()
	_, err := s.Put(ctx, []models.PutEntry{{ID: &existing, Data: models.InlineData([]byte("old"))}})
	require.NoError(t, err)

	_, err = s.Put(ctx, []models.PutEntry{
		{Data: models.InlineData([]byte("new"))},
		{ID: &existing, Data: models.InlineData([]byte("clash"))},
	})
	require.ErrorIs(t, err, blobstore.ErrAlreadyExists)
	assert.Contains(t, err.Error(), "entry 1")

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog, 1, "the first entry was rolled back")
}
