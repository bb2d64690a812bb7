package recordstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "records"))
	require.NoError(t, err)
	return s
}

func putString(t *testing.T, s *Store, record uuid.UUID, body string) models.Version {
	t.Helper()
	v, err := s.Put(context.Background(), record, strings.NewReader(body))
	require.NoError(t, err)
	return v
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func TestStore_PutNumbersVersions(t *testing.T) {
	s := newTestStore(t)
	record := uuid.New()

	v0 := putString(t, s, record, "zero")
	v1 := putString(t, s, record, "one")
	assert.Equal(t, 0, v0.Number)
	assert.Equal(t, 1, v1.Number)

	_, err := os.Stat(filepath.Join(s.Root(), record.String(), v1.Name()))
	assert.NoError(t, err)

	versions, err := s.Versions(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, []models.Version{v0, v1}, versions)
}

func TestStore_Open(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	record := uuid.New()

	v0 := putString(t, s, record, "zero")
	v1 := putString(t, s, record, "one")

	f, v, err := s.Open(ctx, record, nil)
	require.NoError(t, err)
	assert.Equal(t, v1, v)
	assert.Equal(t, "one", readAll(t, f))

	f, v, err = s.Open(ctx, record, &v0.ID)
	require.NoError(t, err)
	assert.Equal(t, v0, v)
	assert.Equal(t, "zero", readAll(t, f))

	missing := uuid.New()
	_, _, err = s.Open(ctx, record, &missing)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	_, _, err = s.Open(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestStore_ConcurrentPutsSameRecord(t *testing.T) {
	s := newTestStore(t)
	record := uuid.New()
	const n = 16

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(context.Background(), record, strings.NewReader("x"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := s.Versions(context.Background(), record)
	require.NoError(t, err)
	require.Len(t, versions, n)
	for i, v := range versions {
		assert.Equal(t, i, v.Number)
	}
	assert.Equal(t, 0, s.locks.size(), "lock entries are released")
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n == 0 {
		return 0, errors.New("connection reset")
	}
	r.n--
	p[0] = 'x'
	return 1, nil
}

func TestStore_PutFailedBodyLeavesNoVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	record := uuid.New()

	_, err := s.Put(ctx, record, &failingReader{n: 3})
	require.Error(t, err)

	versions, err := s.Versions(ctx, record)
	require.NoError(t, err)
	assert.Empty(t, versions)

	entries, err := os.ReadDir(filepath.Join(s.Root(), record.String()))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file removed")
}

func TestStore_PutCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, uuid.New(), strings.NewReader("never"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, b := uuid.New(), uuid.New()
	a0 := putString(t, s, a, "a0")
	a1 := putString(t, s, a, "a1")
	b0 := putString(t, s, b, "b0")
	missing := uuid.New()

	tests := []struct {
		name  string
		query models.ListQuery
		want  models.Listing
	}{
		{"all records", models.ListQuery{},
			models.Listing{a: {}, b: {}}},
		{"all records all versions", models.ListQuery{AllVersions: true},
			models.Listing{a: {a0.ID, a1.ID}, b: {b0.ID}}},
		{"latest", models.ListQuery{Record: &a},
			models.Listing{a: {a1.ID}}},
		{"record all versions", models.ListQuery{Record: &a, AllVersions: true},
			models.Listing{a: {a0.ID, a1.ID}}},
		{"specific version", models.ListQuery{Record: &a, Version: &a0.ID},
			models.Listing{a: {a0.ID}}},
		{"absent version", models.ListQuery{Record: &a, Version: &b0.ID},
			models.Listing{}},
		{"absent record", models.ListQuery{Record: &missing},
			models.Listing{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.List(ctx, models.ListQuery{Version: &a0.ID})
	assert.ErrorIs(t, err, blobstore.ErrValidation)
}

func TestStore_ListEmptyVersionsAreNonNil(t *testing.T) {
	s := newTestStore(t)
	putString(t, s, uuid.New(), "x")

	got, err := s.List(context.Background(), models.ListQuery{})
	require.NoError(t, err)
	for _, ids := range got {
		assert.NotNil(t, ids)
	}
}

func TestAllVersions_Consistency(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{"gap", []string{"0-" + uuid.NewString(), "2-" + uuid.NewString()}},
		{"duplicate", []string{"0-" + uuid.NewString(), "0-" + uuid.NewString()}},
		{"not from zero", []string{"1-" + uuid.NewString()}},
		{"malformed", []string{"garbage"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0644))
			}
			_, err := allVersions(dir)
			assert.ErrorIs(t, err, blobstore.ErrConsistency)
		})
	}
}

func TestAllVersions_SkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	v := models.Version{Number: 0, ID: uuid.New()}
	require.NoError(t, os.WriteFile(filepath.Join(dir, v.Name()), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, blobstore.TempName("1-x")), nil, 0644))

	versions, err := allVersions(dir)
	require.NoError(t, err)
	assert.Equal(t, []models.Version{v}, versions)
}

func TestStore_RecordsRejectsStrayEntries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray"), nil, 0644))

	_, err := s.Records(context.Background())
	assert.ErrorIs(t, err, blobstore.ErrConsistency)
}

func TestStore_Fsck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	good := uuid.New()
	putString(t, s, good, "ok")
	require.NoError(t, s.Fsck(ctx))

	bad := uuid.New()
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), bad.String()), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), bad.String(), "3-"+uuid.NewString()), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray"), nil, 0644))

	err := s.Fsck(ctx)
	require.ErrorIs(t, err, blobstore.ErrConsistency)
	assert.Contains(t, err.Error(), bad.String())
	assert.Contains(t, err.Error(), `unexpected entry "stray"`)
}

func TestStore_SweepTemps(t *testing.T) {
	s := newTestStore(t)
	record := uuid.New()
	putString(t, s, record, "v0")

	tmp := filepath.Join(s.Root(), record.String(), blobstore.TempName("1-x"))
	require.NoError(t, os.WriteFile(tmp, nil, 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(tmp, old, old))

	n, err := s.SweepTemps(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	versions, err := s.Versions(context.Background(), record)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}
