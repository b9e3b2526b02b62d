package tools

import (
	"errors"
	"fmt"
)

// DomainError is a structured tool failure that the run loop feeds back into
// the transcript instead of aborting. It preserves causal context while
// implementing the standard error interface, so errors.Is/As work across
// wrapped chains.
type DomainError struct {
	// Message is the human-readable summary surfaced as observation text.
	Message string
	// Cause links to the underlying failure, enabling error chains.
	Cause *DomainError
}

// NewDomainError constructs a DomainError with the provided message.
func NewDomainError(message string) *DomainError {
	if message == "" {
		message = "tool error"
	}
	return &DomainError{Message: message}
}

// DomainErrorf formats according to a format specifier and returns the result
// as a DomainError.
func DomainErrorf(format string, args ...any) *DomainError {
	return NewDomainError(fmt.Sprintf(format, args...))
}

// WrapDomainError constructs a DomainError that wraps an underlying error.
// The cause is converted into a DomainError chain so diagnostics survive while
// errors.Is/As keep working through Unwrap.
func WrapDomainError(message string, cause error) *DomainError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &DomainError{Message: message, Cause: domainErrorChain(cause)}
}

// AsDomainError reports whether err carries a DomainError anywhere in its
// chain and returns it.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// domainErrorChain converts an arbitrary error into a DomainError chain.
func domainErrorChain(err error) *DomainError {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return &DomainError{Message: err.Error(), Cause: domainErrorChain(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *DomainError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
