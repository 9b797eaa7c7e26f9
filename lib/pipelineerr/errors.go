// Package pipelineerr defines the hook pipeline's error taxonomy: a small,
// closed set of classes the dispatcher and handlers use to decide HTTP
// status codes and retry/log behavior, instead of inspecting arbitrary
// wrapped errors.
package pipelineerr

import (
	"fmt"
	"net/http"
	"time"
)

// Class is one of the seven error classes the pipeline distinguishes.
type Class string

const (
	EnvelopeInvalid    Class = "ENVELOPE_INVALID"
	ProjectNotFound    Class = "PROJECT_NOT_FOUND"
	ChannelUnresolved  Class = "CHANNEL_UNRESOLVED"
	PlatformTransient  Class = "PLATFORM_TRANSIENT"
	WindowMissing      Class = "WINDOW_MISSING"
	RuntimeUnavailable Class = "RUNTIME_UNAVAILABLE"
	Oversize           Class = "OVERSIZE"
	InvalidJSON        Class = "INVALID_JSON"
)

// httpStatus maps each class to the status code §6/§7 require.
var httpStatus = map[Class]int{
	EnvelopeInvalid:    http.StatusBadRequest,
	ProjectNotFound:    http.StatusBadRequest,
	ChannelUnresolved:  http.StatusBadRequest,
	PlatformTransient:  http.StatusOK, // swallowed, never surfaced to the hook caller
	WindowMissing:      http.StatusNotFound,
	RuntimeUnavailable: http.StatusNotImplemented,
	Oversize:           http.StatusRequestEntityTooLarge,
	InvalidJSON:        http.StatusBadRequest,
}

// retryable marks classes whose cause may clear on its own (transient
// platform failures), as opposed to ones that need a corrected request.
var retryable = map[Class]bool{
	PlatformTransient: true,
}

// Error is the pipeline's error type: a class, a message, the wrapped
// cause, and enough context to log without re-deriving it at the call site.
type Error struct {
	Class     Class
	Message   string
	Operation string
	Err       error
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the pipeline should answer with.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Class]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the condition may resolve without caller
// action (e.g. a transient chat-platform API failure).
func (e *Error) Retryable() bool { return retryable[e.Class] }

// New constructs a classed error for operation, wrapping cause if non-nil.
func New(class Class, operation, message string, cause error) *Error {
	return &Error{
		Class:     class,
		Message:   message,
		Operation: operation,
		Err:       cause,
		Timestamp: time.Now(),
	}
}
