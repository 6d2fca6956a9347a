package logsapi

import (
	"errors"
	"fmt"
)

// Error kinds returned by the client. Match them with errors.Is.
var (
	ErrArgument  = errors.New("invalid argument")
	ErrAuth      = errors.New("unauthorized")
	ErrForbidden = errors.New("forbidden")
	ErrTransient = errors.New("transient fetch error")
	ErrProtocol  = errors.New("protocol error")
)

// ArgumentError reports an invalid construction input.
func ArgumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArgument, fmt.Sprintf(format, args...))
}

// APIError describes a failed call to the Management API.
type APIError struct {
	Kind       error
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v (%d %s): %s", e.Kind, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%v: %s", e.Kind, msg)
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Retryable reports whether err is worth another attempt within the run.
// Argument errors are the only kind that never heal.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrArgument)
}

func kindForStatus(status int) error {
	switch {
	case status == 401:
		return ErrAuth
	case status == 403:
		return ErrForbidden
	case status == 429 || status >= 500:
		return ErrTransient
	default:
		return ErrProtocol
	}
}
