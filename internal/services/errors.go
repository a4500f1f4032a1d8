package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external service error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled by owner")
)

// ErrorKind is the coarse classification attached to wrapped errors.
type ErrorKind string

const (
	ErrorKindExternal      ErrorKind = "external"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindCancelled     ErrorKind = "cancelled"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &serviceError{
		marker:    marker,
		stage:     strings.TrimSpace(stage),
		operation: strings.TrimSpace(operation),
		message:   strings.TrimSpace(message),
		cause:     err,
	}
}

type serviceError struct {
	marker    error
	stage     string
	operation string
	message   string
	cause     error
}

func (e *serviceError) Error() string {
	detail := buildDetail(e.stage, e.operation, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.marker, detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker, detail)
}

func (e *serviceError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.cause}
}

// ErrorDetails is the structured view of a wrapped error used by failure logging.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details extracts structured context from err. Errors that were not produced
// by Wrap report only a kind and message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: ErrorKindUnknown}
	}
	details := ErrorDetails{Kind: KindOf(err), Message: strings.TrimSpace(err.Error())}
	var svc *serviceError
	if errors.As(err, &svc) {
		details.Stage = svc.stage
		details.Operation = svc.operation
		if svc.message != "" {
			details.Message = svc.message
		}
		details.Cause = svc.cause
	}
	return details
}

// KindOf maps an error to its ErrorKind based on the sentinel it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.Is(err, ErrCancelled):
		return ErrorKindCancelled
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrTransient):
		return ErrorKindTransient
	case errors.Is(err, ErrExternalTool):
		return ErrorKindExternal
	default:
		return ErrorKindUnknown
	}
}

// Retryable reports whether a stage failure should go back through the
// watchdog retry budget rather than failing the job immediately.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindValidation, ErrorKindConfiguration, ErrorKindNotFound, ErrorKindCancelled:
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
