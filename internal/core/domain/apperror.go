package domain

import (
	"fmt"
	"time"
)

// ErrorKind is the failure taxonomy used above the transport.
type ErrorKind string

const (
	ErrorKindNetwork        ErrorKind = "network"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindAuthorization  ErrorKind = "authorization"
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindServer         ErrorKind = "server"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindOffline        ErrorKind = "offline"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// Connectivity reports whether the kind is caused by the link rather than the server.
func (k ErrorKind) Connectivity() bool {
	return k == ErrorKindNetwork || k == ErrorKindTimeout || k == ErrorKindOffline
}

// Severity ranks an AppError for logging and presentation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError is a classified failure. It is created once and never mutated.
type AppError struct {
	Kind        ErrorKind      `json:"kind"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	UserMessage string         `json:"user_message"`
	Retryable   bool           `json:"retryable"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Err         error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the raw error that was classified.
func (e *AppError) Unwrap() error {
	return e.Err
}
