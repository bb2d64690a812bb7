// Package models defines the value types shared by storage engines and
// transports: blob ids, blob metadata, payloads and record versions.
package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a string is not a canonical UUID.
var ErrInvalidID = errors.New("invalid id")

// ParseUUID parses s and requires it to round-trip to itself, so braces,
// urn: prefixes and upper case hex are rejected.
func ParseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	if u.String() != s {
		return uuid.Nil, fmt.Errorf("%w: %q is not in canonical form %q", ErrInvalidID, s, u.String())
	}
	return u, nil
}

// BlobID identifies a stored blob.
type BlobID struct {
	uuid.UUID
}

// NewBlobID mints a random blob id.
func NewBlobID() BlobID {
	return BlobID{uuid.New()}
}

// ParseBlobID parses the canonical textual form of a blob id.
func ParseBlobID(s string) (BlobID, error) {
	u, err := ParseUUID(s)
	if err != nil {
		return BlobID{}, err
	}
	return BlobID{u}, nil
}

// UnmarshalText accepts only the canonical form.
func (id *BlobID) UnmarshalText(b []byte) error {
	parsed, err := ParseBlobID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// BlobInfo is metadata derived from stored content.
type BlobInfo struct {
	Size int64 `json:"size"`
}

// IDInfo pairs a blob id with its info. Info is nil for absent blobs.
// On the wire it is a two element array: [id, info].
type IDInfo struct {
	ID   BlobID
	Info *BlobInfo
}

func (p IDInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.ID, p.Info})
}

func (p *IDInfo) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode id/info pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode id/info pair: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.ID); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	p.Info = nil
	if err := json.Unmarshal(pair[1], &p.Info); err != nil {
		return fmt.Errorf("decode info: %w", err)
	}
	return nil
}

// PutEntry is one element of a put batch. A nil ID asks the engine to mint one.
type PutEntry struct {
	ID   *BlobID
	Data BlobData
}
