package memory

import (
	"errors"
	"fmt"
)

// ConfigError is invalid or missing configuration: bad paths, missing
// credentials, unsupported backend names. Fatal, never retried.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Msg, e.Err)
	}
	return "config error: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BackendError is a terminal failure reported by a backend operation. The
// orchestrator marks the stage failed.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// TransientError is a retryable condition. Operations retry internally; if
// retries exhaust, the error is converted to a BackendError.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// UnsupportedOperationError means the caller invoked an operation the
// backend does not support. Callers must feature-detect via Capabilities.
type UnsupportedOperationError struct {
	Backend string
	Op      string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("backend %s does not support %s", e.Backend, e.Op)
}

// IdNotSupportedError means the caller passed an identifier in a shape the
// backend does not accept. The message names both the rejected shape and the
// accepted one.
type IdNotSupportedError struct {
	Backend string
	ID      string
	Msg     string
}

func (e *IdNotSupportedError) Error() string {
	return fmt.Sprintf("backend %s: id %q not supported: %s", e.Backend, e.ID, e.Msg)
}

// ValidationError means a payload does not match the schema. Field-level
// details are carried so the log can name what is wrong.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload validation failed: %v", e.Fields)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
