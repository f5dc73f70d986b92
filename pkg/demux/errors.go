package demux

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLanguage is returned by Demux for an empty language tag or one
	// containing whitespace.
	ErrInvalidLanguage = errors.New("invalid language tag")

	// ErrStreamCancelled is the cancellation cause recorded when a consumer
	// cancels its stream.
	ErrStreamCancelled = errors.New("stream cancelled by consumer")
)

// FrameError reports a record whose data payload could not be decoded. It is
// only surfaced in strict mode; otherwise such records are skipped.
type FrameError struct {
	Payload string
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("decoding frame payload %q: %v", truncate(e.Payload, 64), e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
