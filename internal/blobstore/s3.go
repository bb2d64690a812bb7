package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/medvied/mze/internal/models"
)

// S3Store implements Storage on an S3 bucket. Each blob is the object
// <prefix><blob-id>.
//
// Config: {"bucket": "...", "prefix": "...", "region": "...", "endpoint": "..."}.
// Only bucket is required; endpoint selects an S3-compatible service and
// implies path-style addressing.
type S3Store struct {
	mu     sync.RWMutex
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store returns an unbound S3 engine.
func NewS3Store() *S3Store {
	return &S3Store{}
}

var _ Storage = (*S3Store)(nil)

type s3Binding struct {
	client *s3.Client
	bucket string
	prefix string
	region string
}

func newS3Binding(ctx context.Context, cfg Config) (*s3Binding, error) {
	bucket, err := cfg.String("bucket")
	if err != nil {
		return nil, err
	}
	prefix, err := cfg.OptionalString("prefix")
	if err != nil {
		return nil, err
	}
	region, err := cfg.OptionalString("region")
	if err != nil {
		return nil, err
	}
	endpoint, err := cfg.OptionalString("endpoint")
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("err creating s3 context: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Binding{client: client, bucket: bucket, prefix: prefix, region: awsCfg.Region}, nil
}

func (s *S3Store) bind(b *s3Binding) {
	s.mu.Lock()
	s.client, s.bucket, s.prefix = b.client, b.bucket, b.prefix
	s.mu.Unlock()
}

func (s *S3Store) bound() (*s3.Client, string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, "", "", ErrNotInitialized
	}
	return s.client, s.bucket, s.prefix, nil
}

func isStatus(err error, status int) bool {
	var responseError *awshttp.ResponseError
	return errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == status
}

// Init checks that the bucket exists.
func (s *S3Store) Init(ctx context.Context, cfg Config) error {
	b, err := newS3Binding(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("init bucket %s: %w", b.bucket, ErrNoStore)
		}
		return fmt.Errorf("init bucket %s: %w", b.bucket, err)
	}
	s.bind(b)
	return nil
}

// Fini drops the client.
func (s *S3Store) Fini(_ context.Context) error {
	s.mu.Lock()
	s.client, s.bucket, s.prefix = nil, "", ""
	s.mu.Unlock()
	return nil
}

// Create makes the bucket. With a prefix the bucket may already exist, in
// which case the prefix must hold no objects.
func (s *S3Store) Create(ctx context.Context, cfg Config) error {
	b, err := newS3Binding(ctx, cfg)
	if err != nil {
		return err
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.region != "" && b.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	_, err = b.client.CreateBucket(ctx, in)
	var owned *types.BucketAlreadyOwnedByYou
	var taken *types.BucketAlreadyExists
	switch {
	case err == nil:
	case errors.As(err, &owned) && b.prefix != "":
		nonEmpty, err := hasObjects(ctx, b.client, b.bucket, b.prefix)
		if err != nil {
			return err
		}
		if nonEmpty {
			return fmt.Errorf("create %s/%s: %w", b.bucket, b.prefix, ErrAlreadyExists)
		}
	case errors.As(err, &owned), errors.As(err, &taken):
		return fmt.Errorf("create bucket %s: %w", b.bucket, ErrAlreadyExists)
	default:
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	s.bind(b)
	return nil
}

func hasObjects(ctx context.Context, client *s3.Client, bucket, prefix string) (bool, error) {
	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list bucket %s: %w", bucket, err)
	}
	return len(out.Contents) > 0, nil
}

// Destroy deletes the bucket when no prefix is configured. With a prefix only
// the emptiness check applies.
func (s *S3Store) Destroy(ctx context.Context) error {
	client, bucket, prefix, err := s.bound()
	if err != nil {
		return err
	}
	nonEmpty, err := hasObjects(ctx, client, bucket, prefix)
	if err != nil {
		return err
	}
	if nonEmpty {
		return fmt.Errorf("destroy %s/%s: %w", bucket, prefix, ErrNotEmpty)
	}
	if prefix == "" {
		if _, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return fmt.Errorf("delete bucket %s: %w", bucket, err)
		}
	}
	return s.Fini(ctx)
}

// Get downloads each object into inline data.
func (s *S3Store) Get(ctx context.Context, ids []models.BlobID) ([]*models.BlobData, error) {
	client, bucket, prefix, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobData, len(ids))
	for i, id := range ids {
		rv, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(prefix + id.String()),
		})
		if err != nil {
			if isStatus(err, http.StatusNotFound) {
				continue
			}
			return nil, fmt.Errorf("error getting object from S3: %w", err)
		}
		b, err := io.ReadAll(rv.Body)
		rv.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read object %s: %w", id, err)
		}
		data := models.InlineData(b)
		out[i] = &data
	}
	return out, nil
}

func headObject(ctx context.Context, client *s3.Client, bucket, key string) (*models.BlobInfo, error) {
	rv, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error checking for object existence in s3: %w", err)
	}
	return &models.BlobInfo{Size: aws.ToInt64(rv.ContentLength)}, nil
}

// Put uploads each entry with a conditional write so a concurrent writer of
// the same id loses with ErrAlreadyExists.
func (s *S3Store) Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error) {
	client, bucket, prefix, err := s.bound()
	if err != nil {
		return nil, err
	}
	if err := ValidatePut(entries); err != nil {
		return nil, err
	}
	out := make([]models.IDInfo, 0, len(entries))
	for i, e := range entries {
		id := resolveID(e)
		key := prefix + id.String()
		existing, err := headObject(ctx, client, bucket, key)
		if err != nil {
			return out, fmt.Errorf("put entry %d (%s): %w", i, id, err)
		}
		if existing != nil {
			return out, fmt.Errorf("put entry %d (%s): %w", i, id, ErrAlreadyExists)
		}
		data, err := e.Data.Bytes()
		if err != nil {
			return out, fmt.Errorf("put entry %d (%s): %w", i, id, err)
		}
		if _, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			IfNoneMatch: aws.String("*"),
		}); err != nil {
			if isStatus(err, http.StatusPreconditionFailed) {
				return out, fmt.Errorf("put entry %d (%s): %w", i, id, ErrAlreadyExists)
			}
			return out, fmt.Errorf("error uploading blob to s3: %w", err)
		}
		info, err := headObject(ctx, client, bucket, key)
		if err != nil {
			return out, fmt.Errorf("put entry %d (%s): %w", i, id, err)
		}
		if info == nil || info.Size != int64(len(data)) {
			return out, fmt.Errorf("put entry %d (%s): %w: uploaded object does not match", i, id, ErrConsistency)
		}
		out = append(out, models.IDInfo{ID: id, Info: info})
	}
	return out, nil
}

// Head issues a HEAD per object.
func (s *S3Store) Head(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	client, bucket, prefix, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobInfo, len(ids))
	for i, id := range ids {
		if out[i], err = headObject(ctx, client, bucket, prefix+id.String()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// walk visits every object under the prefix.
func (s *S3Store) walk(ctx context.Context, fn func(name string, size int64) error) error {
	client, bucket, prefix, err := s.bound()
	if err != nil {
		return err
	}
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list bucket %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if err := fn(name, aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Catalog lists the prefix. A key that is not a blob id is a consistency error.
func (s *S3Store) Catalog(ctx context.Context) ([]models.IDInfo, error) {
	out := []models.IDInfo{}
	err := s.walk(ctx, func(name string, size int64) error {
		id, err := models.ParseBlobID(name)
		if err != nil {
			return fmt.Errorf("%w: unexpected object %q", ErrConsistency, name)
		}
		out = append(out, models.IDInfo{ID: id, Info: &models.BlobInfo{Size: size}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes each object, returning its prior info.
func (s *S3Store) Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	client, bucket, prefix, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobInfo, len(ids))
	for i, id := range ids {
		key := prefix + id.String()
		info, err := headObject(ctx, client, bucket, key)
		if err != nil {
			return out, fmt.Errorf("delete entry %d: %w", i, err)
		}
		if info == nil {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			return out, fmt.Errorf("delete entry %d (%s): %w", i, id, err)
		}
		out[i] = info
	}
	return out, nil
}

// Fsck reports every key under the prefix that is not a blob id.
func (s *S3Store) Fsck(ctx context.Context) error {
	var findings Findings
	err := s.walk(ctx, func(name string, _ int64) error {
		if _, err := models.ParseBlobID(name); err != nil {
			findings.Addf("malformed object name %q", name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return findings.Err()
}
