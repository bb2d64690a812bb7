package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[client]
server_url = "http://localhost:8080/mze"

[server]
mode = "record"
workers = 8
webhook_urls = ["http://hook"]
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/mze", cfg.Client.ServerURL)
	assert.Equal(t, ModeRecord, cfg.Server.Mode)
	assert.Equal(t, 8, cfg.Server.Workers)
	assert.Equal(t, []string{"http://hook"}, cfg.Server.WebhookURLs)
	// untouched keys keep their defaults
	assert.Equal(t, "0.0.0.0:80", cfg.Server.Listen)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Client.ServerURL = "sqlite:/tmp/blobs.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	id := uuid.NewString()
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"MZE_SERVER_URL":    "file:/srv/blobs",
		"MZE_INSTANCE_UUID": id,
		"MZE_SERVER_MODE":   "record",
		"MZE_WORKERS":       "3",
		"MZE_WEBHOOK_URLS":  " http://a , ,http://b",
	}))
	require.NoError(t, err)
	assert.Equal(t, "file:/srv/blobs", cfg.Client.ServerURL)
	assert.Equal(t, id, cfg.Server.InstanceID)
	assert.Equal(t, ModeRecord, cfg.Server.Mode)
	assert.Equal(t, 3, cfg.Server.Workers)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.WebhookURLs)
}

func TestApplyEnv_InstanceIDWins(t *testing.T) {
	a, b := uuid.NewString(), uuid.NewString()
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{"MZE_INSTANCE_ID": a, "MZE_INSTANCE_UUID": b})))
	assert.Equal(t, a, cfg.Server.InstanceID)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	err := Default().ApplyEnv(envMap(map[string]string{"MZE_WORKERS": "many"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestInstanceUUID(t *testing.T) {
	id := uuid.New()
	s := &ServerConfig{InstanceID: id.String()}
	got, err := s.InstanceUUID()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "nope", "{" + id.String() + "}", "urn:uuid:" + id.String()} {
		s.InstanceID = bad
		_, err := s.InstanceUUID()
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestValidate(t *testing.T) {
	s := Default().Server
	s.InstanceID = uuid.NewString()
	require.NoError(t, s.Validate())

	s.Mode = "mirror"
	assert.ErrorIs(t, s.Validate(), ErrInvalid)
}

func TestEngineURL(t *testing.T) {
	s := ServerConfig{StorageDir: "/data"}
	assert.Equal(t, "file:/data", s.EngineURL())
	s.StorageURL = "bolt:/data/blobs.db"
	assert.Equal(t, "bolt:/data/blobs.db", s.EngineURL())
}
