package blobstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/blobstore/storetest"
	"github.com/medvied/mze/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (blobstore.Storage, blobstore.Config) {
		return blobstore.NewFSStore(), blobstore.Config{"path": filepath.Join(t.TempDir(), "blobs")}
	})
}

func newFSStore(t *testing.T) (*blobstore.FSStore, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "nested", "blobs")
	s := blobstore.NewFSStore()
	require.NoError(t, s.Create(context.Background(), blobstore.Config{"path": root}))
	t.Cleanup(func() { s.Fini(context.Background()) })
	return s, root
}

func TestFSStore_CreateMakesParents(t *testing.T) {
	s, root := newFSStore(t)
	assert.Equal(t, root, s.Root())

	fi, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestFSStore_InitRejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, nil, 0644))

	err := blobstore.NewFSStore().Init(context.Background(), blobstore.Config{"path": p})
	assert.ErrorIs(t, err, blobstore.ErrConfig)
}

func TestFSStore_InitMissingPath(t *testing.T) {
	err := blobstore.NewFSStore().Init(context.Background(), blobstore.Config{})
	assert.ErrorIs(t, err, blobstore.ErrConfig)
}

func TestFSStore_Layout(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	out, err := s.Put(ctx, []models.PutEntry{{Data: models.InlineData([]byte("flat"))}})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, out[0].ID.String()))
	require.NoError(t, err)
	assert.Equal(t, []byte("flat"), b)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestFSStore_GetReturnsFileReference(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	out, err := s.Put(ctx, []models.PutEntry{{Data: models.InlineData([]byte("ref"))}})
	require.NoError(t, err)

	got, err := s.Get(ctx, []models.BlobID{out[0].ID})
	require.NoError(t, err)
	require.NotNil(t, got[0])
	assert.True(t, got[0].IsFile())
	assert.Equal(t, filepath.Join(root, out[0].ID.String()), got[0].Path())
}

func TestFSStore_CatalogMalformedName(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "not-a-uuid"), []byte("x"), 0644))

	_, err := s.Catalog(ctx)
	assert.ErrorIs(t, err, blobstore.ErrConsistency)
}

func TestFSStore_CatalogSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	tmp := filepath.Join(root, blobstore.TempName(models.NewBlobID().String()))
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0644))

	catalog, err := s.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestFSStore_CatalogDirectoryEntry(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	require.NoError(t, os.Mkdir(filepath.Join(root, models.NewBlobID().String()), 0755))

	_, err := s.Catalog(ctx)
	assert.ErrorIs(t, err, blobstore.ErrConsistency)
}

func TestFSStore_FsckFindings(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "junk"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, models.NewBlobID().String()), 0755))
	stale := filepath.Join(root, blobstore.TempName(models.NewBlobID().String()))
	require.NoError(t, os.WriteFile(stale, nil, 0644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	err := s.Fsck(ctx)
	require.ErrorIs(t, err, blobstore.ErrConsistency)
	assert.Contains(t, err.Error(), `malformed name "junk"`)
	assert.Contains(t, err.Error(), "is not a regular file")
	assert.Contains(t, err.Error(), "stale temp file")
}

func TestFSStore_DestroyIgnoresTempFiles(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, blobstore.TempName("x")), nil, 0644))
	require.NoError(t, s.Destroy(ctx))

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestFSStore_SweepTemps(t *testing.T) {
	ctx := context.Background()
	s, root := newFSStore(t)

	stale := filepath.Join(root, blobstore.TempName("stale"))
	fresh := filepath.Join(root, blobstore.TempName("fresh"))
	require.NoError(t, os.WriteFile(stale, nil, 0644))
	require.NoError(t, os.WriteFile(fresh, nil, 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	n, err := s.SweepTemps(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestFSStore_InitRebinds(t *testing.T) {
	ctx := context.Background()
	s, _ := newFSStore(t)

	other := t.TempDir()
	require.NoError(t, s.Init(ctx, blobstore.Config{"path": other}))
	assert.Equal(t, other, s.Root())
}
