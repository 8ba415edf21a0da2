package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Common error codes
const (
	// Client errors (4xx)
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"

	// Authentication specific
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"

	// Job lifecycle
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeCapacityExceeded  = "CAPACITY_EXCEEDED"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeTimeout           = "TIMEOUT"
	CodeCorruptOutput     = "CORRUPT_OUTPUT"
	CodeUnsupportedKind   = "UNSUPPORTED_KIND"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeStorageError  = "STORAGE_ERROR"

	// External service errors
	CodeExtractionError   = "EXTRACTION_ERROR"
	CodeDownloadError     = "DOWNLOAD_ERROR"
	CodeSegmentFetchError = "SEGMENT_FETCH_ERROR"
	CodeManifestError     = "MANIFEST_ERROR"
	CodeExternalTimeout   = "EXTERNAL_TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// ErrorResponse is the JSON structure returned to clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryClient, http.StatusUnauthorized)
}

func InvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "invalid API key", CategoryClient, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, CategoryClient, http.StatusUnauthorized)
}

func TokenExpired() *AppError {
	return New(CodeTokenExpired, "token has expired", CategoryClient, http.StatusUnauthorized)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func JobNotFound() *AppError {
	return New(CodeJobNotFound, "job not found", CategoryClient, http.StatusNotFound)
}

func UnsupportedKind(kind string) *AppError {
	return New(CodeUnsupportedKind, fmt.Sprintf("unsupported download kind: %s", kind), CategoryClient, http.StatusBadRequest)
}

// CapacityExceeded signals that the queue rejected a submission outright.
// Not retryable at the queue's initiative; the caller decides when to resubmit.
func CapacityExceeded(pending, capacity int) *AppError {
	return New(CodeCapacityExceeded, "download queue is full", CategoryClient, http.StatusTooManyRequests).
		WithDetails(map[string]any{"pending": pending, "capacity": capacity})
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message, CategoryServer, http.StatusInternalServerError)
}

func StorageError(message string) *AppError {
	return New(CodeStorageError, message, CategoryServer, http.StatusInternalServerError)
}

// ResourceExhausted signals the pre-flight guard tripped before a job started.
// The job never ran, so the caller may retry later.
func ResourceExhausted(message string) *AppError {
	return New(CodeResourceExhausted, message, CategoryServer, http.StatusServiceUnavailable)
}

// Timeout signals a job exceeded its hard wall-clock budget and was killed.
func Timeout(message string) *AppError {
	return New(CodeTimeout, message, CategoryServer, http.StatusGatewayTimeout)
}

// CorruptOutput signals the post-condition check on a produced artifact failed
// even though the extractor reported success.
func CorruptOutput(path string, size int64) *AppError {
	return New(CodeCorruptOutput, fmt.Sprintf("output file %s is undersized (%d bytes)", path, size), CategoryServer, http.StatusInternalServerError)
}

// External service error constructors

func ExtractionError(message string) *AppError {
	return New(CodeExtractionError, message, CategoryExternal, http.StatusBadGateway)
}

func DownloadError(message string) *AppError {
	return New(CodeDownloadError, message, CategoryExternal, http.StatusBadGateway)
}

// SegmentFetchError is per-segment and non-fatal: it feeds the retry/drop
// policy instead of aborting the stream.
func SegmentFetchError(index int, cause error) *AppError {
	return New(CodeSegmentFetchError, fmt.Sprintf("segment %d fetch failed", index), CategoryExternal, http.StatusBadGateway).
		WithCause(cause)
}

// ManifestError is fatal for the stream it belongs to.
func ManifestError(message string) *AppError {
	return New(CodeManifestError, message, CategoryExternal, http.StatusBadGateway)
}

func ExternalTimeout(service string) *AppError {
	return New(CodeExternalTimeout, fmt.Sprintf("%s request timed out", service), CategoryExternal, http.StatusGatewayTimeout)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	var appErr *AppError

	switch e := err.(type) {
	case *AppError:
		appErr = e
	default:
		// Wrap unknown errors as internal errors
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Code extracts the application error code from any error.
func Code(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	// A full queue or a corrupt artifact will not heal by retrying the same call
	switch appErr.Code {
	case CodeCapacityExceeded, CodeCorruptOutput, CodeManifestError:
		return false
	}

	// External service errors are typically retryable
	if appErr.Category == CategoryExternal {
		return true
	}

	// Server errors may be retryable (except database conflicts, etc.)
	if appErr.Category == CategoryServer {
		return appErr.Code != CodeDatabaseError
	}

	return false
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsServerError returns true if the error is a server error
func IsServerError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryServer
}

// IsExternalError returns true if the error is an external service error
func IsExternalError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryExternal
}
