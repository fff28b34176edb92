package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Error is a failed provider call.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error: %s", e.Provider, msg)
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.Provider, e.StatusCode, msg)
}

// Retryable reports whether the call may succeed if repeated.
func (e *Error) Retryable() bool { return e.Transient }

// ErrorFromStatus classifies an HTTP failure. Timeouts, rate limits and server
// errors are retryable; other client errors are not; unknown codes are.
func ErrorFromStatus(provider string, status int, message string) *Error {
	e := &Error{Provider: provider, StatusCode: status, Message: message}
	switch {
	case status == 408 || status == 429:
		e.Transient = true
	case status >= 400 && status < 500:
		e.Transient = false
	default:
		e.Transient = true
	}
	return e
}

// IsRetryable is the default retry predicate. Errors that expose Retryable()
// decide for themselves; network timeouts are retried; everything else,
// including context errors, is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
