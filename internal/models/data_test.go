package models

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlobData(t *testing.T) {
	_, err := NewBlobData([]byte("x"), "/some/file")
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = NewBlobData(nil, "")
	assert.ErrorIs(t, err, ErrInvalidData)

	d, err := NewBlobData([]byte{}, "")
	require.NoError(t, err)
	assert.False(t, d.IsFile())

	d, err = NewBlobData(nil, "/some/file")
	require.NoError(t, err)
	assert.True(t, d.IsFile())
	assert.Equal(t, "/some/file", d.Path())
}

func TestBlobData_ZeroValueInvalid(t *testing.T) {
	var d BlobData
	assert.ErrorIs(t, d.Validate(), ErrInvalidData)
	_, err := d.Bytes()
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.ErrorIs(t, d.WriteFile(filepath.Join(t.TempDir(), "out")), ErrInvalidData)
}

func TestBlobData_Inline(t *testing.T) {
	d := InlineData([]byte("inline"))

	n, err := d.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	r, err := d.Open()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, []byte("inline"), b)

	b, err = InlineData(nil).Bytes()
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Empty(t, b)
}

func TestBlobData_File(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("on disk"), 0644))

	d := FileData(src)
	b, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("on disk"), b)

	n, err := d.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = FileData(filepath.Join(dir, "missing")).Bytes()
	assert.Error(t, err)
}

func TestBlobData_WriteFile(t *testing.T) {
	dir := t.TempDir()

	dst := filepath.Join(dir, "inline-out")
	require.NoError(t, InlineData([]byte("abc")).WriteFile(dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), b)

	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("copied"), 0644))
	dst = filepath.Join(dir, "file-out")
	require.NoError(t, FileData(src).WriteFile(dst))
	b, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("copied"), b)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files remain")
}

func TestBlobData_WriteFileCopiesFileReference(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0644))

	dst := filepath.Join(dir, "out")
	require.NoError(t, FileData(src).WriteFile(dst))

	f, err := os.OpenFile(dst, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(" tampered")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), b, "source must not share storage with the output")

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	assert.False(t, os.SameFile(srcInfo, dstInfo))
}

func TestBlobData_WriteFileMissingSourceLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out")

	err := FileData(filepath.Join(dir, "missing")).WriteFile(dst)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
