// Package remote defines the wire protocol of the mze storage server and the
// HTTP clients that speak it.
package remote

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeBadRequest     = "bad_request"
	CodeConfig         = "config_error"
	CodeNotFound       = "not_found"
	CodeAlreadyExists  = "already_exists"
	CodeNotEmpty       = "not_empty"
	CodeNotInitialized = "not_initialized"
	CodeNoStore        = "no_store"
	CodeConsistency    = "consistency_error"
	CodeInternal       = "internal_error"
	CodeNotImplemented = "not_implemented"
	CodeTooLarge       = "too_large"
	CodeUnavailable    = "unavailable"
	CodeRateLimited    = "rate_limited"
)

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

var codeErrors = []struct {
	err    error
	code   string
	status int
}{
	{blobstore.ErrConsistency, CodeConsistency, http.StatusInternalServerError},
	{blobstore.ErrValidation, CodeBadRequest, http.StatusBadRequest},
	{models.ErrInvalidID, CodeBadRequest, http.StatusBadRequest},
	{models.ErrInvalidData, CodeBadRequest, http.StatusBadRequest},
	{blobstore.ErrConfig, CodeConfig, http.StatusBadRequest},
	{blobstore.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{blobstore.ErrAlreadyExists, CodeAlreadyExists, http.StatusConflict},
	{blobstore.ErrNotEmpty, CodeNotEmpty, http.StatusConflict},
	{blobstore.ErrNotInitialized, CodeNotInitialized, http.StatusConflict},
	{blobstore.ErrNoStore, CodeNoStore, http.StatusNotFound},
	{context.DeadlineExceeded, CodeUnavailable, http.StatusServiceUnavailable},
}

// ErrorCode classifies err into a wire code and HTTP status.
func ErrorCode(err error) (string, int) {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code, ce.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// sentinelFor maps a wire code back to the blobstore sentinel.
func sentinelFor(code string) error {
	switch code {
	case CodeBadRequest:
		return blobstore.ErrValidation
	case CodeConfig:
		return blobstore.ErrConfig
	case CodeNotFound:
		return blobstore.ErrNotFound
	case CodeAlreadyExists:
		return blobstore.ErrAlreadyExists
	case CodeNotEmpty:
		return blobstore.ErrNotEmpty
	case CodeNotInitialized:
		return blobstore.ErrNotInitialized
	case CodeNoStore:
		return blobstore.ErrNoStore
	case CodeConsistency:
		return blobstore.ErrConsistency
	default:
		return nil
	}
}

// InstanceListing is the record server's response to put and list:
// {instance: {record: [version, ...]}}.
type InstanceListing map[uuid.UUID]models.Listing
