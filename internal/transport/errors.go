// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeTimeout
	ErrTypeRequestFailed
	ErrTypeTransport
	ErrTypeStreamUnreadable
	ErrTypeSessionMissing
)

// String returns the taxonomy name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeRequestFailed:
		return "RequestFailed"
	case ErrTypeTransport:
		return "TransportError"
	case ErrTypeStreamUnreadable:
		return "StreamUnreadable"
	case ErrTypeSessionMissing:
		return "SessionMissing"
	default:
		return "Unknown"
	}
}

// Error is the single error type surfaced by the chat client. Only the
// fields relevant to Type are set.
type Error struct {
	Type ErrorType

	// Op is the operation class that failed (chat-send, history-fetch, ...).
	Op Class

	// Budget is the timeout budget that expired (Timeout only).
	Budget time.Duration

	// Status and Reason describe a non-2xx response (RequestFailed only).
	Status int
	Reason string

	Message string
	Cause   error
}

func (e *Error) Error() string {
	var msg string
	switch e.Type {
	case ErrTypeTimeout:
		msg = fmt.Sprintf("%s request timeout after %s", e.Op, e.Budget)
	case ErrTypeRequestFailed:
		msg = fmt.Sprintf("%s request failed: %d %s", e.Op, e.Status, e.Reason)
	default:
		msg = e.Message
		if e.Op != "" && msg != "" {
			msg = string(e.Op) + ": " + msg
		}
	}
	if e.Cause != nil && e.Type != ErrTypeTimeout {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Type, so the sentinels below work with
// errors.Is regardless of the populated detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// Sentinel errors for easy checking.
var (
	ErrTimeout          = &Error{Type: ErrTypeTimeout}
	ErrRequestFailed    = &Error{Type: ErrTypeRequestFailed}
	ErrTransport        = &Error{Type: ErrTypeTransport, Message: "transport error"}
	ErrStreamUnreadable = &Error{Type: ErrTypeStreamUnreadable, Message: "response body is not readable"}
	ErrSessionMissing   = &Error{Type: ErrTypeSessionMissing, Message: "no chat session is bound"}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Timeout builds the error returned when op exceeded its budget.
func Timeout(op Class, budget time.Duration) *Error {
	return &Error{Type: ErrTypeTimeout, Op: op, Budget: budget, Cause: context.DeadlineExceeded}
}

// RequestFailed builds the error returned for a non-2xx response.
func RequestFailed(op Class, status int, reason string) *Error {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &Error{Type: ErrTypeRequestFailed, Op: op, Status: status, Reason: reason}
}

// TransportFault builds the error returned for any other network failure.
func TransportFault(op Class, cause error) *Error {
	return &Error{Type: ErrTypeTransport, Op: op, Message: "transport error", Cause: cause}
}

// StreamUnreadable builds the error returned when a response body cannot be read.
func StreamUnreadable(op Class, cause error) *Error {
	return &Error{Type: ErrTypeStreamUnreadable, Op: op, Message: "response body is not readable", Cause: cause}
}

// TypeOf returns the ErrorType carried by err, or ErrTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrTypeUnknown
}

// IsTimeout reports whether err is a Timeout failure.
func IsTimeout(err error) bool {
	return TypeOf(err) == ErrTypeTimeout
}

// reasonPhrase extracts the reason phrase from an http.Response status
// line ("404 Not Found" -> "Not Found").
func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
