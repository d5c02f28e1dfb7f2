package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// The last four digits of a code carry the HTTP status the error maps to,
// followed by a discriminator digit (e.g. "WA-SESS-4091" is a 409).
type DomainError struct {
	Code    string // Error code (e.g., "WA-SESS-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps cause and copies its text into Details so the message
// survives serialization.
func (e *DomainError) Wrap(cause error) *DomainError {
	if cause == nil {
		return e.WithCause(nil)
	}
	out := e.WithCause(cause)
	if out.Details == "" {
		out.Details = cause.Error()
	}
	return out
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrSessionNotFound indicates no live session has the requested id.
	ErrSessionNotFound = NewDomainError("WA-SESS-4040", "session not found")

	// ErrPairingChallengeUnavailable indicates the session is not awaiting a scan.
	ErrPairingChallengeUnavailable = NewDomainError("WA-SESS-4041", "pairing challenge not available")

	// ErrSessionConflict indicates the session id is already live.
	ErrSessionConflict = NewDomainError("WA-SESS-4090", "session id conflict")

	// ErrSessionInvalidState indicates the operation needs a connected session.
	ErrSessionInvalidState = NewDomainError("WA-SESS-4091", "session not connected")

	// ErrSessionRestore indicates one session could not be restored at startup.
	ErrSessionRestore = NewDomainError("WA-SESS-5001", "session restore failed")

	// ErrTransportFailure wraps an error reported by the transport.
	ErrTransportFailure = NewDomainError("WA-SESS-5020", "transport failure")

	// ErrManagerClosed indicates the session manager has been shut down.
	ErrManagerClosed = NewDomainError("WA-SESS-5030", "session manager closed")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAPIKeyMissing indicates no API key was provided.
	ErrAPIKeyMissing = NewDomainError("WA-AUTH-4010", "api key not provided")

	// ErrAPIKeyInvalid indicates the API key is not configured.
	ErrAPIKeyInvalid = NewDomainError("WA-AUTH-4011", "invalid api key")
)

// ============================================================================
// Storage Errors (STORE)
// ============================================================================

var (
	// ErrCredentialStore indicates the credential directory tree could not be used.
	ErrCredentialStore = NewDomainError("WA-STORE-5000", "credential store error")

	// ErrMessageLogStore indicates the message log store failed.
	ErrMessageLogStore = NewDomainError("WA-STORE-5001", "message log store error")

	// ErrMetadataNotFound indicates a session directory has no metadata file.
	ErrMetadataNotFound = NewDomainError("WA-STORE-4040", "session metadata not found")

	// ErrMetadataCorrupt indicates a metadata file could not be decoded.
	ErrMetadataCorrupt = NewDomainError("WA-STORE-4220", "session metadata corrupt")
)

// ============================================================================
// System and Argument Errors (SYS, ARG)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("WA-SYS-5000", "internal server error")

	// ErrServiceUnavailable indicates the service is temporarily unavailable.
	ErrServiceUnavailable = NewDomainError("WA-SYS-5030", "service unavailable")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("WA-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("WA-SYS-4290", "too many requests")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("WA-ARG-4000", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("WA-ARG-4001", "missing required argument")
)
