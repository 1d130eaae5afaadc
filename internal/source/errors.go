package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrBookNotFound is returned when the remote has no book with the given id.
	ErrBookNotFound = errors.New("book not found")

	// ErrEmptyDirectory is returned when a book's directory lists no chapters.
	ErrEmptyDirectory = errors.New("book directory is empty")

	// ErrTransient marks failures worth retrying: 5xx, timeouts, broken connections.
	ErrTransient = errors.New("transient remote failure")

	// ErrMalformed is returned when a payload does not match the documented shape.
	ErrMalformed = errors.New("malformed remote payload")

	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d chapters", MaxBatchSize)
)

// CooldownError is returned when the remote asks the caller to slow down,
// either with HTTP 429 or a "cooldown" response code.
type CooldownError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *CooldownError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *CooldownError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformed)
}

// IsPermanent reports whether err means the book cannot be downloaded at all.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrEmptyDirectory)
}

// RetryAfter returns the server-requested wait carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var ce *CooldownError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// classifyTransport maps a failed round trip to a transient error, leaving
// cancellation of the caller's context untouched.
func classifyTransport(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func isCooldownMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "cooldown")
}

func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not exist")
}
