package blobstore

import (
	"testing"

	"github.com/medvied/mze/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_String(t *testing.T) {
	cfg := Config{"path": "/x", "n": 3.0, "empty": ""}

	v, err := cfg.String("path")
	require.NoError(t, err)
	assert.Equal(t, "/x", v)

	for _, key := range []string{"missing", "n", "empty"} {
		_, err := cfg.String(key)
		assert.ErrorIs(t, err, ErrConfig, key)
	}

	v, err = cfg.OptionalString("missing")
	require.NoError(t, err)
	assert.Empty(t, v)
	_, err = cfg.OptionalString("n")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestConfig_Merge(t *testing.T) {
	defaults := Config{"path": "/default", "region": "eu"}
	got := Config{"path": "/mine"}.Merge(defaults)

	assert.Equal(t, Config{"path": "/mine", "region": "eu"}, got)
	assert.Equal(t, "/default", defaults["path"], "defaults are not modified")
}

func TestValidatePut(t *testing.T) {
	id := models.NewBlobID()
	other := models.NewBlobID()

	tests := []struct {
		name    string
		entries []models.PutEntry
		wantErr bool
	}{
		{"empty batch", nil, false},
		{"minted ids", []models.PutEntry{{Data: models.InlineData(nil)}, {Data: models.InlineData(nil)}}, false},
		{"distinct ids", []models.PutEntry{{ID: &id, Data: models.InlineData(nil)}, {ID: &other, Data: models.FileData("/f")}}, false},
		{"no payload", []models.PutEntry{{Data: models.BlobData{}}}, true},
		{"repeated id", []models.PutEntry{{ID: &id, Data: models.InlineData(nil)}, {ID: &id, Data: models.InlineData(nil)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePut(tt.entries)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTempName(t *testing.T) {
	name := TempName("abc")
	assert.True(t, IsTempName(name))
	assert.NotEqual(t, name, TempName("abc"))
	assert.False(t, IsTempName("abc"))
	assert.False(t, IsTempName(models.NewBlobID().String()))
}

func TestFindings(t *testing.T) {
	var f Findings
	assert.NoError(t, f.Err())

	f.Addf("first %d", 1)
	f.Addf("second")
	assert.Equal(t, 2, f.Len())
	err := f.Err()
	assert.ErrorIs(t, err, ErrConsistency)
	assert.Contains(t, err.Error(), "first 1")
	assert.Contains(t, err.Error(), "second")
}
