package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a blobstore.Storage with automatic retry on transient
// errors. Only idempotent operations are retried.
type RetryClient struct {
	inner  blobstore.Storage
	config *RetryConfig
}

var _ blobstore.Storage = (*RetryClient)(nil)

// NewRetryClient creates a RetryClient that wraps the given storage.
func NewRetryClient(inner blobstore.Storage, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if re.Code == CodeConsistency || re.Code == CodeNotImplemented {
			return false
		}
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, permanent := range []error{
		blobstore.ErrValidation, blobstore.ErrConsistency, blobstore.ErrConfig,
		blobstore.ErrNotFound, blobstore.ErrAlreadyExists, blobstore.ErrNotEmpty,
		blobstore.ErrNotInitialized, blobstore.ErrNoStore,
		models.ErrInvalidData, models.ErrInvalidID,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

func (rc *RetryClient) Init(ctx context.Context, cfg blobstore.Config) error {
	return rc.retry(ctx, "init", func() error {
		return rc.inner.Init(ctx, cfg)
	})
}

func (rc *RetryClient) Fini(ctx context.Context) error {
	return rc.retry(ctx, "fini", func() error {
		return rc.inner.Fini(ctx)
	})
}

func (rc *RetryClient) Create(ctx context.Context, cfg blobstore.Config) error {
	// A retried create could observe its own first attempt as AlreadyExists.
	return rc.inner.Create(ctx, cfg)
}

func (rc *RetryClient) Destroy(ctx context.Context) error {
	return rc.inner.Destroy(ctx)
}

func (rc *RetryClient) Fsck(ctx context.Context) error {
	return rc.retry(ctx, "fsck", func() error {
		return rc.inner.Fsck(ctx)
	})
}

func (rc *RetryClient) Get(ctx context.Context, ids []models.BlobID) (out []*models.BlobData, err error) {
	err = rc.retry(ctx, "get", func() error {
		out, err = rc.inner.Get(ctx, ids)
		return err
	})
	return
}

func (rc *RetryClient) Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error) {
	// Not retried: an entry with a minted id would be stored twice.
	return rc.inner.Put(ctx, entries)
}

func (rc *RetryClient) Head(ctx context.Context, ids []models.BlobID) (out []*models.BlobInfo, err error) {
	err = rc.retry(ctx, "head", func() error {
		out, err = rc.inner.Head(ctx, ids)
		return err
	})
	return
}

func (rc *RetryClient) Catalog(ctx context.Context) (out []models.IDInfo, err error) {
	err = rc.retry(ctx, "catalog", func() error {
		out, err = rc.inner.Catalog(ctx)
		return err
	})
	return
}

func (rc *RetryClient) Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	return rc.inner.Delete(ctx, ids)
}
