// Package errors provides standardized error handling for the edge sync
// engine. It includes error classification, sentinel error variables for the
// synchronization domain, and helpers for consistent error wrapping across
// uplink processors, downlink converters, and stores.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or state
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for the synchronization domain.
var (
	// Store lookups
	ErrEntityNotFound = errors.New("entity not found")
	ErrEdgeNotFound   = errors.New("edge not found")

	// Name resolution. ErrNameConflict is the store's authoritative
	// unique-constraint rejection; the resolver's pre-check is best effort.
	ErrNameConflict = errors.New("entity name already in use")

	// Validation
	ErrEntityLimitReached = errors.New("tenant entity limit reached")
	ErrOwnerNotFound      = errors.New("owning entity reference does not exist")
	ErrInvalidEntity      = errors.New("entity failed validation")

	// Wire protocol
	ErrUnsupportedMsgType     = errors.New("unsupported message type")
	ErrUnsupportedVersion     = errors.New("unsupported protocol version")
	ErrMalformedPayload       = errors.New("malformed wire payload")
	ErrUnknownEntityType      = errors.New("unknown entity type")
	ErrProcessorNotRegistered = errors.New("no processor registered for entity type")

	// Infrastructure
	ErrNoConnection       = errors.New("no connection available")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrShuttingDown       = errors.New("engine is shutting down")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Raw store/transport errors that slipped through without classification
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "unavailable", "temporary"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or state
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrOwnerNotFound) ||
		errors.Is(err, ErrInvalidEntity) ||
		errors.Is(err, ErrUnsupportedMsgType)
}

// IsLimitReached reports whether err is the per-tenant entity limit. Uplink
// processors swallow this one: the apply reports success with no effect so a
// misconfigured edge does not enter a retry storm.
func IsLimitReached(err error) bool {
	return errors.Is(err, ErrEntityLimitReached)
}

// IsNameConflict reports whether err is the store's unique-name rejection.
func IsNameConflict(err error) bool {
	return errors.Is(err, ErrNameConflict)
}

// IsNotFound reports whether err indicates a missing entity or edge.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrEdgeNotFound)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
