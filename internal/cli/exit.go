package cli

import (
	"context"
	"errors"
	"net/url"

	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/config"
	"github.com/medvied/mze/internal/models"
	"github.com/medvied/mze/internal/remote"
)

// Process exit codes. Each error kind gets its own code so scripts can
// tell them apart.
const (
	ExitOK             = 0
	ExitInternal       = 1
	ExitUsage          = 2
	ExitConfig         = 3
	ExitAlreadyExists  = 4
	ExitNotEmpty       = 5
	ExitValidation     = 6
	ExitConsistency    = 7
	ExitNotInitialized = 8
	ExitNoStore        = 9
	ExitNotFound       = 10
	ExitRemote         = 11
)

// UsageError reports a malformed command line.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

func usageErrorf(msg string) error { return &UsageError{msg: msg} }

var exitCodes = []struct {
	err  error
	code int
}{
	{blobstore.ErrConsistency, ExitConsistency},
	{blobstore.ErrConfig, ExitConfig},
	{config.ErrInvalid, ExitConfig},
	{blobstore.ErrAlreadyExists, ExitAlreadyExists},
	{blobstore.ErrNotEmpty, ExitNotEmpty},
	{blobstore.ErrValidation, ExitValidation},
	{models.ErrInvalidID, ExitValidation},
	{models.ErrInvalidData, ExitValidation},
	{blobstore.ErrNotInitialized, ExitNotInitialized},
	{blobstore.ErrNoStore, ExitNoStore},
	{blobstore.ErrNotFound, ExitNotFound},
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	for _, ec := range exitCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	var remoteErr *remote.RemoteError
	var urlErr *url.Error
	if errors.As(err, &remoteErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return ExitRemote
	}
	return ExitInternal
}
