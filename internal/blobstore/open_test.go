package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		url     string
		engine  Storage
		wantCfg Config
	}{
		{"file:/srv/blobs", &FSStore{}, Config{"path": "/srv/blobs"}},
		{"file:relative/dir", &FSStore{}, Config{"path": "relative/dir"}},
		{"/srv/blobs", &FSStore{}, Config{"path": "/srv/blobs"}},
		{"bolt:/var/lib/mze.db", &BoltStore{}, Config{"path": "/var/lib/mze.db"}},
		{"sqlite:blobs.sqlite", &SQLiteStore{}, Config{"path": "blobs.sqlite"}},
		{"s3://bucket/some/prefix?region=eu-west-1&endpoint=http://localhost:9000", &S3Store{},
			Config{"bucket": "bucket", "prefix": "some/prefix", "region": "eu-west-1", "endpoint": "http://localhost:9000"}},
		{"s3://bucket", &S3Store{}, Config{"bucket": "bucket"}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			s, cfg, err := Open(tt.url)
			require.NoError(t, err)
			assert.IsType(t, tt.engine, s)
			assert.Equal(t, tt.wantCfg, cfg)
		})
	}
}

func TestOpen_Invalid(t *testing.T) {
	for _, raw := range []string{"ftp://host/x", "s3:///prefix", "file:", "bolt:"} {
		_, _, err := Open(raw)
		assert.ErrorIs(t, err, ErrConfig, raw)
	}
}
