package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerFlags_Apply(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := NewServerFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--listen", "127.0.0.1:8080",
		"--mode", "record",
		"--requests-per-minute", "30",
		"--workers", "0",
		"--max-blob-size", "1024",
		"--webhook-urls", "http://a, http://b",
	}))

	s := Default().Server
	s.StorageDir = "/from/file"
	s.Workers = 16
	flags.Apply(&s)

	assert.Equal(t, "127.0.0.1:8080", s.Listen)
	assert.Equal(t, ModeRecord, s.Mode)
	assert.Equal(t, 30, s.RequestsPerMinute)
	assert.Equal(t, 0, s.Workers, "an explicit zero overrides the file")
	assert.Equal(t, int64(1024), s.MaxBlobSize)
	assert.Equal(t, []string{"http://a", "http://b"}, s.WebhookURLs)
	assert.Equal(t, "/from/file", s.StorageDir, "unset flags keep the loaded value")
	assert.Equal(t, "info", s.LogLevel)
}

func TestServerFlags_NothingSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := NewServerFlags(fs)
	require.NoError(t, fs.Parse(nil))

	s := Default().Server
	want := s
	flags.Apply(&s)
	assert.Equal(t, want, s)
}
