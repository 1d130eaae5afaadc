// Package audio turns rendered chapters into narrated audio files through an
// OpenAI-compatible speech API.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one synthesis call.
type Request struct {
	Text   string
	Format string // mp3, wav, opus, aac, flac
}

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// RateLimitError is returned when the speech API asks the caller to back off.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError reports whether err is a RateLimitError and returns it.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
