package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the voice pipeline.
type ErrorCode string

// Session-fatal error codes. Transport and configuration failures close the
// session; everything else is scoped to a single pipeline stage.
const (
	ErrTransport        ErrorCode = "TRANSPORT_ERROR"
	ErrConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	ErrSessionClosed    ErrorCode = "SESSION_CLOSED"
	ErrProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
)

// Capability error codes, one per provider contract.
const (
	ErrRecognition   ErrorCode = "RECOGNITION_ERROR"   // VAD
	ErrTranscription ErrorCode = "TRANSCRIPTION_ERROR" // ASR
	ErrGeneration    ErrorCode = "GENERATION_ERROR"    // LLM
	ErrSynthesis     ErrorCode = "SYNTHESIS_ERROR"     // TTS
	ErrMemory        ErrorCode = "MEMORY_ERROR"
	ErrIntent        ErrorCode = "INTENT_ERROR"
	ErrUpstream      ErrorCode = "UPSTREAM_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithStage sets the pipeline stage the error occurred in.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether the error must close the session rather than
// degrade the current turn.
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrTransport, ErrConfiguration:
		return true
	}
	return false
}
