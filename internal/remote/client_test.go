package remote_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/blobstore/storetest"
	"github.com/medvied/mze/internal/models"
	"github.com/medvied/mze/internal/remote"
	"github.com/medvied/mze/internal/remote/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFlatServer serves an unbound FS engine whose default store directory
// does not exist yet.
func startFlatServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "blobs")

	cfg := server.DefaultServerConfig()
	cfg.WebLocation = "/mze"
	cfg.Defaults = blobstore.Config{"path": dir}
	cfg.SweepInterval = 0
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	h, cleanup := server.Handler(blobstore.NewFSStore(), cfg, logger)
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		ts.Close()
		cleanup()
	})
	return ts, dir
}

func TestHTTPClient_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (blobstore.Storage, blobstore.Config) {
		ts, _ := startFlatServer(t)
		return remote.NewHTTPClient(ts.URL + "/mze"), blobstore.Config{}
	})
}

func TestRetryClient_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (blobstore.Storage, blobstore.Config) {
		ts, _ := startFlatServer(t)
		cfg := remote.DefaultRetryConfig()
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
		return remote.NewRetryClient(remote.NewHTTPClient(ts.URL+"/mze"), cfg), blobstore.Config{}
	})
}

func TestHTTPClient_ErrorsUnwrapToSentinels(t *testing.T) {
	ts, _ := startFlatServer(t)
	c := remote.NewHTTPClient(ts.URL + "/mze")
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, nil))
	err := c.Create(ctx, nil)
	require.ErrorIs(t, err, blobstore.ErrAlreadyExists)

	var remoteErr *remote.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, remote.CodeAlreadyExists, remoteErr.Code)
	assert.Equal(t, http.StatusConflict, remoteErr.Status)
}

func TestHTTPClient_FsckConsistency(t *testing.T) {
	ts, dir := startFlatServer(t)
	c := remote.NewHTTPClient(ts.URL + "/mze")
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray"), nil, 0644))

	assert.ErrorIs(t, c.Fsck(ctx), blobstore.ErrConsistency)
	_, err := c.Catalog(ctx)
	assert.ErrorIs(t, err, blobstore.ErrConsistency)
}

func TestHTTPClient_Unreachable(t *testing.T) {
	ts, _ := startFlatServer(t)
	url := ts.URL
	ts.Close()

	c := remote.NewHTTPClient(url + "/mze")
	_, err := c.Head(context.Background(), []models.BlobID{models.NewBlobID()})
	require.Error(t, err)
	var remoteErr *remote.RemoteError
	assert.False(t, errors.As(err, &remoteErr))
}
