package blobstore

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrConfig is returned for a missing or malformed configuration value.
	ErrConfig = errors.New("invalid configuration")

	// ErrAlreadyExists is returned when creating a store or putting a blob
	// that already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned where absence cannot be expressed as a nil result.
	ErrNotFound = errors.New("not found")

	// ErrNotEmpty is returned by Destroy while blobs remain.
	ErrNotEmpty = errors.New("store not empty")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConsistency is returned when stored state violates the store's
	// invariants, e.g. a malformed name in the blob directory.
	ErrConsistency = errors.New("consistency violation")

	// ErrNotInitialized is returned by data operations before Init or Create.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrNoStore is returned by Init when the store does not exist.
	ErrNoStore = errors.New("store does not exist")
)

// Findings collects fsck problems.
type Findings struct {
	merr *multierror.Error
}

// Addf records one finding.
func (f *Findings) Addf(format string, args ...any) {
	f.merr = multierror.Append(f.merr, fmt.Errorf(format, args...))
}

// Len returns the number of findings.
func (f *Findings) Len() int {
	if f.merr == nil {
		return 0
	}
	return f.merr.Len()
}

// Err returns nil when there are no findings, otherwise an error wrapping
// ErrConsistency that lists them all.
func (f *Findings) Err() error {
	if f.Len() == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrConsistency, f.merr.Error())
}
