package blobstore

import (
	"fmt"
	"strings"

	"github.com/medvied/mze/internal/models"
	"github.com/oklog/ulid/v2"
)

// Config is an engine configuration as decoded from JSON.
type Config map[string]any

// String returns the required string value of key.
func (c Config) String(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrConfig, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrConfig, key)
	}
	return s, nil
}

// OptionalString returns the string value of key, or "" when it is absent.
func (c Config) OptionalString(key string) (string, error) {
	if _, ok := c[key]; !ok {
		return "", nil
	}
	v, ok := c[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrConfig, key)
	}
	return v, nil
}

// Merge returns a copy of c with keys missing from c taken from defaults.
func (c Config) Merge(defaults Config) Config {
	out := make(Config, len(c)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ValidatePut checks a whole put batch before any entry is written: every
// payload must be valid and explicit ids must not repeat within the batch.
func ValidatePut(entries []models.PutEntry) error {
	seen := make(map[models.BlobID]int, len(entries))
	for i, e := range entries {
		if err := e.Data.Validate(); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrValidation, i, err)
		}
		if e.ID == nil {
			continue
		}
		if j, dup := seen[*e.ID]; dup {
			return fmt.Errorf("%w: entry %d repeats the id of entry %d: %s", ErrValidation, i, j, e.ID)
		}
		seen[*e.ID] = i
	}
	return nil
}

// TempName returns a fresh hidden temporary name for staging base.
func TempName(base string) string {
	return "." + base + ".tmp-" + ulid.Make().String()
}

// IsTempName reports whether name was produced by TempName.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

// resolveID returns the entry's explicit id or mints one.
func resolveID(e models.PutEntry) models.BlobID {
	if e.ID != nil {
		return *e.ID
	}
	return models.NewBlobID()
}
