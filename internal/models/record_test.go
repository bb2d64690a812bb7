package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionName(t *testing.T) {
	v := Version{Number: 12, ID: uuid.New()}
	assert.Equal(t, "12-"+v.ID.String(), v.Name())

	got, err := ParseVersionName(v.Name())
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestParseVersionName_Malformed(t *testing.T) {
	id := uuid.New().String()
	for _, name := range []string{
		"",
		"0",
		id,
		"x-" + id,
		"01-" + id,
		"+1-" + id,
		"-1-" + id,
		"1-not-a-uuid",
	} {
		_, err := ParseVersionName(name)
		assert.ErrorIs(t, err, ErrInvalidID, name)
	}
}
