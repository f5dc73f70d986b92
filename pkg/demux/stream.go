package demux

import (
	"context"
	"io"
	"strings"
	"sync"
)

type streamState int

const (
	streamOpen streamState = iota
	streamClosed
	streamErrored
	streamCancelled
)

// Stream is one output of a Demux call. It is safe for one producer and any
// number of concurrent readers, although usually there is a single reader.
type Stream struct {
	name string

	mu    sync.Mutex
	queue []string
	state streamState
	err   error
	wake  chan struct{} // closed and replaced whenever queue or state changes

	cancelOnce sync.Once

	// onDone runs once, when the stream leaves the open state. cancelled
	// reports whether the consumer ended it.
	onDone func(cancelled bool)
}

func newStream(name string) *Stream {
	return &Stream{
		name: name,
		wake: make(chan struct{}),
	}
}

// Name returns "main" for the main stream and the language tag otherwise.
func (s *Stream) Name() string {
	return s.name
}

// Read returns the next queued text. It blocks until text is available, the
// stream ends or ctx is done. After a clean close Read returns io.EOF; after a
// failure it returns the error the stream was failed with.
func (s *Stream) Read(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			text := s.queue[0]
			s.queue[0] = ""
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return text, nil
		}
		state, err, wake := s.state, s.err, s.wake
		s.mu.Unlock()

		switch state {
		case streamClosed, streamCancelled:
			return "", io.EOF
		case streamErrored:
			return "", err
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Cancel tells the producer that this consumer is done. Queued text is
// discarded. On an open stream further reads return io.EOF and, depending on
// the cancel policy, the shared source is cancelled. Cancelling a stream that
// already ended has no effect on the source.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		wasOpen := s.state == streamOpen
		if wasOpen {
			s.state = streamCancelled
		}
		s.queue = nil
		s.broadcast()
		s.mu.Unlock()

		if wasOpen && s.onDone != nil {
			s.onDone(true)
		}
	})
}

// Reader returns an io.Reader view of the stream.
func (s *Stream) Reader() io.Reader {
	return &streamReader{stream: s}
}

// push enqueues text. It reports false if the stream no longer accepts text.
func (s *Stream) push(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != streamOpen {
		return false
	}
	s.queue = append(s.queue, text)
	s.broadcast()
	return true
}

// close ends the stream cleanly. Queued text stays readable.
func (s *Stream) close() bool {
	return s.finish(streamClosed, nil)
}

// fail ends the stream with err. Queued text stays readable before the error.
func (s *Stream) fail(err error) bool {
	return s.finish(streamErrored, err)
}

func (s *Stream) finish(state streamState, err error) bool {
	s.mu.Lock()
	if s.state != streamOpen {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.err = err
	s.broadcast()
	s.mu.Unlock()

	if s.onDone != nil {
		s.onDone(false)
	}
	return true
}

// broadcast wakes all waiting readers. Callers hold s.mu.
func (s *Stream) broadcast() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// streamReader adapts a Stream to io.Reader, keeping text that did not fit into
// p for the next call.
type streamReader struct {
	stream *Stream
	buffer string
}

func (r *streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.buffer == "" {
		text, err := r.stream.Read(context.Background())
		if err != nil {
			return 0, err
		}
		r.buffer = text
	}
	n := copy(p, r.buffer)
	r.buffer = r.buffer[n:]
	return n, nil
}

// ReadAll reads s until it ends and returns everything it delivered. A clean
// end is not reported as an error.
func ReadAll(ctx context.Context, s *Stream) (string, error) {
	var sb strings.Builder
	for {
		text, err := s.Read(ctx)
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(text)
	}
}

// ReadParts is like ReadAll but keeps every delivered piece separately.
func ReadParts(ctx context.Context, s *Stream) ([]string, error) {
	var parts []string
	for {
		text, err := s.Read(ctx)
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, text)
	}
}
