package models

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidData is returned for a BlobData with no payload or two payloads.
var ErrInvalidData = errors.New("invalid blob data")

type dataKind uint8

const (
	kindNone dataKind = iota
	kindInline
	kindFile
)

// BlobData holds a payload either in memory or as a reference to a local
// file. Exactly one representation is active; the zero value has none and
// is rejected by Validate.
type BlobData struct {
	kind dataKind
	data []byte
	path string
}

// InlineData wraps in-memory content.
func InlineData(b []byte) BlobData {
	if b == nil {
		b = []byte{}
	}
	return BlobData{kind: kindInline, data: b}
}

// FileData references content stored in a local file.
func FileData(path string) BlobData {
	return BlobData{kind: kindFile, path: path}
}

// NewBlobData builds a BlobData from optional parts, rejecting the
// both-set and neither-set combinations.
func NewBlobData(data []byte, path string) (BlobData, error) {
	switch {
	case data != nil && path != "":
		return BlobData{}, fmt.Errorf("%w: both inline bytes and file reference set", ErrInvalidData)
	case data != nil:
		return InlineData(data), nil
	case path != "":
		return FileData(path), nil
	default:
		return BlobData{}, fmt.Errorf("%w: neither inline bytes nor file reference set", ErrInvalidData)
	}
}

// Validate reports whether exactly one representation is populated.
func (d BlobData) Validate() error {
	switch d.kind {
	case kindInline:
		return nil
	case kindFile:
		if d.path == "" {
			return fmt.Errorf("%w: empty file reference", ErrInvalidData)
		}
		return nil
	default:
		return fmt.Errorf("%w: no payload", ErrInvalidData)
	}
}

// IsFile reports whether the payload is a file reference.
func (d BlobData) IsFile() bool { return d.kind == kindFile }

// Path returns the referenced file, or "" for inline data.
func (d BlobData) Path() string { return d.path }

// Size returns the payload length in bytes.
func (d BlobData) Size() (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	if d.kind == kindInline {
		return int64(len(d.data)), nil
	}
	fi, err := os.Stat(d.path)
	if err != nil {
		return 0, fmt.Errorf("stat blob data %s: %w", d.path, err)
	}
	return fi.Size(), nil
}

// Bytes materializes the payload in memory.
func (d BlobData) Bytes() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.kind == kindInline {
		return d.data, nil
	}
	b, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read blob data %s: %w", d.path, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// Open returns a reader over the payload.
func (d BlobData) Open() (io.ReadCloser, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.kind == kindInline {
		return io.NopCloser(bytes.NewReader(d.data)), nil
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open blob data %s: %w", d.path, err)
	}
	return f, nil
}

// WriteFile materializes the payload at dst as an independent copy: the
// content is written to a temporary file and renamed into place. dst is
// either left untouched or fully replaced.
func (d BlobData) WriteFile(dst string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-"+ulid.Make().String())
	defer os.Remove(tmp)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	src, err := d.Open()
	if err != nil {
		f.Close()
		return err
	}
	defer src.Close()

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("write blob data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return rename(tmp, dst)
}

func rename(tmp, dst string) error {
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename to %s: %w", dst, err)
	}
	return nil
}
