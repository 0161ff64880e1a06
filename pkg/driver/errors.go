package driver

import (
	"fmt"
	"time"
)

// Outcome classifies how an attempt against a destination ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetriable Outcome = "retriable"
	OutcomePermanent Outcome = "permanent"
)

// ErrorKind enumerates the structural error taxonomy from the spec's
// error handling design. The engine classifies on Kind, never on the
// error string.
type ErrorKind string

const (
	KindConfig    ErrorKind = "config"
	KindSchema    ErrorKind = "schema_sync"
	KindTransform ErrorKind = "transform"
	KindTransient ErrorKind = "transient_driver"
	KindPermanent ErrorKind = "permanent_driver"
	KindCancelled ErrorKind = "cancelled"
)

// Error wraps a driver-reported failure with its structural kind and,
// for transient failures, an optional server-supplied retry hint.
type Error struct {
	Kind       ErrorKind
	Driver     string
	Operation  string
	Message    string
	RetryAfter time.Duration // zero means "no hint, use computed backoff"
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s in %s operation: %v", e.Kind, e.Driver, e.Message, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s in %s operation", e.Kind, e.Driver, e.Message, e.Operation)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retriable reports whether the engine should schedule a retry for
// this error, per §4.10 of the spec.
func (e *Error) Retriable() bool {
	return e.Kind == KindTransient
}

// NewTransient builds a retriable driver error.
func NewTransient(driverName, op, msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Driver: driverName, Operation: op, Message: msg, Cause: cause}
}

// NewTransientWithRetryAfter builds a retriable error carrying a
// server-supplied delay hint (e.g. webhook Retry-After, BigQuery
// streaming-buffer contention).
func NewTransientWithRetryAfter(driverName, op, msg string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindTransient, Driver: driverName, Operation: op, Message: msg, RetryAfter: retryAfter, Cause: cause}
}

// NewPermanent builds a non-retriable driver error.
func NewPermanent(driverName, op, msg string, cause error) *Error {
	return &Error{Kind: KindPermanent, Driver: driverName, Operation: op, Message: msg, Cause: cause}
}

// NewSchemaError builds a schema-sync failure.
func NewSchemaError(driverName, op, msg string, cause error) *Error {
	return &Error{Kind: KindSchema, Driver: driverName, Operation: op, Message: msg, Cause: cause}
}

// NewTransformError builds a transform/shouldReplicate failure; always
// terminal, never retried.
func NewTransformError(resource, msg string, cause error) *Error {
	return &Error{Kind: KindTransform, Driver: "", Operation: resource, Message: msg, Cause: cause}
}

// NewCancelled builds the error reported for work dropped during shutdown.
func NewCancelled(driverName, op string) *Error {
	return &Error{Kind: KindCancelled, Driver: driverName, Operation: op, Message: "cancelled during shutdown"}
}

// ConfigError signals a malformed configuration or unknown driver kind
// at startup; always fatal, never a runtime concern.
type ConfigError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error at %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("config error at %s: %s", e.Path, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError builds a ConfigError rooted at the given path (a
// driver name, replicator id, or dotted config key).
func NewConfigError(path, msg string, cause error) *ConfigError {
	return &ConfigError{Path: path, Message: msg, Cause: cause}
}
