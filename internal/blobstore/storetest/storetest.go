// Package storetest is a conformance suite for blobstore.Storage engines.
package storetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an unbound engine and a config naming a store that does not
// exist yet.
type Factory func(t *testing.T) (blobstore.Storage, blobstore.Config)

// Run exercises the Storage contract against engines produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s blobstore.Storage, cfg blobstore.Config)
	}{
		{"CreateDestroy", testCreateDestroy},
		{"CreateFiniInitDestroy", testCreateFiniInitDestroy},
		{"CreateTwice", testCreateTwice},
		{"NotInitialized", testNotInitialized},
		{"CRUD", testCRUD},
		{"DuplicateID", testDuplicateID},
		{"RoundTrip", testRoundTrip},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"DeleteRepeatedID", testDeleteRepeatedID},
		{"WriteFileIsIndependent", testWriteFileIsIndependent},
		{"CatalogComplete", testCatalogComplete},
		{"DestroyNotEmpty", testDestroyNotEmpty},
		{"PutFromFile", testPutFromFile},
		{"BatchValidation", testBatchValidation},
		{"FsckClean", testFsckClean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cfg := newStore(t)
			t.Cleanup(func() { _ = s.Fini(context.Background()) })
			tt.fn(t, s, cfg)
		})
	}
}

func create(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), cfg))
}

func readData(t *testing.T, d *models.BlobData) []byte {
	t.Helper()
	require.NotNil(t, d)
	b, err := d.Bytes()
	require.NoError(t, err)
	return b
}

func putOne(t *testing.T, s blobstore.Storage, id *models.BlobID, data []byte) models.IDInfo {
	t.Helper()
	out, err := s.Put(context.Background(), []models.PutEntry{{ID: id, Data: models.InlineData(data)}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func testCreateDestroy(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)
	require.NoError(t, s.Destroy(ctx))

	err := s.Init(ctx, cfg)
	assert.ErrorIs(t, err, blobstore.ErrNoStore)
}

func testCreateFiniInitDestroy(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)
	require.NoError(t, s.Fini(ctx))
	require.NoError(t, s.Fini(ctx))
	require.NoError(t, s.Init(ctx, cfg))
	require.NoError(t, s.Destroy(ctx))
}

func testCreateTwice(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)
	err := s.Create(ctx, cfg)
	assert.ErrorIs(t, err, blobstore.ErrAlreadyExists)
}

func testNotInitialized(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	id := models.NewBlobID()

	_, err := s.Get(ctx, []models.BlobID{id})
	assert.ErrorIs(t, err, blobstore.ErrNotInitialized)
	_, err = s.Put(ctx, []models.PutEntry{{Data: models.InlineData([]byte("x"))}})
	assert.ErrorIs(t, err, blobstore.ErrNotInitialized)
	_, err = s.Head(ctx, []models.BlobID{id})
	assert.ErrorIs(t, err, blobstore.ErrNotInitialized)
	_, err = s.Catalog(ctx)
	assert.ErrorIs(t, err, blobstore.ErrNotInitialized)
	_, err = s.Delete(ctx, []models.BlobID{id})
	assert.ErrorIs(t, err, blobstore.ErrNotInitialized)
	assert.ErrorIs(t, s.Fsck(ctx), blobstore.ErrNotInitialized)
	assert.ErrorIs(t, s.Destroy(ctx), blobstore.ErrNotInitialized)

	assert.ErrorIs(t, s.Init(ctx, cfg), blobstore.ErrNoStore)
}

func testCRUD(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	data := []byte("hello, blob")
	put := putOne(t, s, nil, data)
	require.NotNil(t, put.Info)
	assert.Equal(t, int64(len(data)), put.Info.Size)

	infos, err := s.Head(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.NotNil(t, infos[0])
	assert.Equal(t, int64(len(data)), infos[0].Size)

	got, err := s.Get(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, data, readData(t, got[0]))

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, put.ID, catalog[0].ID)
	assert.Equal(t, int64(len(data)), catalog[0].Info.Size)

	deleted, err := s.Delete(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	require.NotNil(t, deleted[0])
	assert.Equal(t, int64(len(data)), deleted[0].Size)

	infos, err = s.Head(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	assert.Nil(t, infos[0])

	got, err = s.Get(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	assert.Nil(t, got[0])

	require.NoError(t, s.Destroy(ctx))
}

func testDuplicateID(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	id := models.NewBlobID()
	putOne(t, s, &id, []byte("first"))

	_, err := s.Put(ctx, []models.PutEntry{{ID: &id, Data: models.InlineData([]byte("second"))}})
	assert.ErrorIs(t, err, blobstore.ErrAlreadyExists)

	got, err := s.Get(ctx, []models.BlobID{id})
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), readData(t, got[0]))
}

func testRoundTrip(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte("binary\x00\xff\x10"),
		make([]byte, 64*1024),
	}
	entries := make([]models.PutEntry, len(payloads))
	ids := make([]models.BlobID, len(payloads))
	for i, p := range payloads {
		ids[i] = models.NewBlobID()
		entries[i] = models.PutEntry{ID: &ids[i], Data: models.InlineData(p)}
	}

	out, err := s.Put(ctx, entries)
	require.NoError(t, err)
	require.Len(t, out, len(payloads))
	for i := range payloads {
		assert.Equal(t, ids[i], out[i].ID, "put order")
		assert.Equal(t, int64(len(payloads[i])), out[i].Info.Size)
	}

	got, err := s.Get(ctx, ids)
	require.NoError(t, err)
	require.Len(t, got, len(payloads))
	for i, p := range payloads {
		assert.Equal(t, p, readData(t, got[i]), "payload %d", i)
	}
}

func testDeleteIdempotent(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	put := putOne(t, s, nil, []byte("gone soon"))
	missing := models.NewBlobID()

	deleted, err := s.Delete(ctx, []models.BlobID{missing, put.ID})
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.Nil(t, deleted[0])
	assert.NotNil(t, deleted[1])

	deleted, err = s.Delete(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	assert.Nil(t, deleted[0])
}

func testDeleteRepeatedID(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	put := putOne(t, s, nil, []byte("hi"))
	deleted, err := s.Delete(ctx, []models.BlobID{put.ID, put.ID})
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	require.NotNil(t, deleted[0])
	assert.Equal(t, int64(2), deleted[0].Size)
	assert.Nil(t, deleted[1], "info once, then absent")
}

func testWriteFileIsIndependent(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	put := putOne(t, s, nil, []byte("hi"))
	got, err := s.Get(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	require.NotNil(t, got[0])

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, got[0].WriteFile(dst))
	f, err := os.OpenFile(dst, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(" tampered")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	infos, err := s.Head(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	require.NotNil(t, infos[0])
	assert.Equal(t, int64(2), infos[0].Size)

	got, err = s.Get(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), readData(t, got[0]))
}

func testCatalogComplete(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	want := map[models.BlobID]int64{}
	for i := 0; i < 5; i++ {
		data := make([]byte, i*3)
		put := putOne(t, s, nil, data)
		want[put.ID] = int64(len(data))
	}

	catalog, err = s.Catalog(ctx)
	require.NoError(t, err)
	got := map[models.BlobID]int64{}
	for _, e := range catalog {
		require.NotNil(t, e.Info)
		got[e.ID] = e.Info.Size
	}
	assert.Equal(t, want, got)
}

func testDestroyNotEmpty(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	put := putOne(t, s, nil, []byte("still here"))
	assert.ErrorIs(t, s.Destroy(ctx), blobstore.ErrNotEmpty)

	got, err := s.Get(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), readData(t, got[0]))

	_, err = s.Delete(ctx, []models.BlobID{put.ID})
	require.NoError(t, err)
	require.NoError(t, s.Destroy(ctx))
}

func testPutFromFile(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, []byte("from a file"), 0644))

	out, err := s.Put(ctx, []models.PutEntry{{Data: models.FileData(src)}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(len("from a file")), out[0].Info.Size)

	got, err := s.Get(ctx, []models.BlobID{out[0].ID})
	require.NoError(t, err)
	assert.Equal(t, []byte("from a file"), readData(t, got[0]))
}

func testBatchValidation(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)

	_, err := s.Put(ctx, []models.PutEntry{
		{Data: models.InlineData([]byte("valid"))},
		{Data: models.BlobData{}},
	})
	assert.ErrorIs(t, err, blobstore.ErrValidation)

	id := models.NewBlobID()
	_, err = s.Put(ctx, []models.PutEntry{
		{ID: &id, Data: models.InlineData([]byte("one"))},
		{ID: &id, Data: models.InlineData([]byte("two"))},
	})
	assert.ErrorIs(t, err, blobstore.ErrValidation)

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog, "a rejected batch writes nothing")
}

func testFsckClean(t *testing.T, s blobstore.Storage, cfg blobstore.Config) {
	ctx := context.Background()
	create(t, s, cfg)
	putOne(t, s, nil, []byte("fine"))
	assert.NoError(t, s.Fsck(ctx))
}
