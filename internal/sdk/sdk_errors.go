package sdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("sdk: server url missing")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeUnknownError   = "E_UNKNOWN_ERR"     // unknown error

	// Upload session errors
	CodeSessionNotFound   = "E_SESSION_NOT_FOUND"
	CodeSessionExpired    = "E_SESSION_EXPIRED"
	CodeInvalidTransition = "E_INVALID_TRANSITION"
	CodeIncompleteUpload  = "E_INCOMPLETE_UPLOAD"
	CodeChunkOutOfRange   = "E_CHUNK_OUT_OF_RANGE"
	CodeAssemblyFailed    = "E_ASSEMBLY_FAILED"

	// Streaming errors
	CodeChunkNotAvailable   = "E_CHUNK_NOT_AVAILABLE"
	CodeRangeNotSatisfiable = "E_RANGE_NOT_SATISFIABLE"
)

type SDKError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// APIError is the server's error envelope decoded back into a typed
// error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) ErrorCode() string    { return e.Code }
func (e *APIError) ErrorMessage() string { return e.Message }

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

var _ SDKError = (*APIError)(nil)

// IsPermanent reports whether an error should never be retried: the
// session is gone, the request is malformed, or the chunk index is
// simply wrong. Everything else (network errors, 5xx, rate limits) is
// treated as transient.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case CodeSessionNotFound, CodeSessionExpired, CodeInvalidTransition,
		CodeChunkOutOfRange, CodeInvalidRequest, CodeIncompleteUpload:
		return true
	}
	return false
}

// handleAPIError folds the (response, transport error) pair into one
// error, surfacing the decoded envelope when the server sent one.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok && err.Code != "" {
			return fmt.Errorf("%s: %w", operation, err)
		}
		return fmt.Errorf("%s: %w", operation, &APIError{
			Code:    CodeUnknownError,
			Message: resp.Status,
		})
	}

	return nil
}
