package demux

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// Source is a pull-based supplier of raw text fragments.
//
// Read returns the next fragment, io.EOF once the source is exhausted, or any
// other error if reading failed. Cancel asks the source to stop; it may be
// called from another goroutine while Read blocks, and a cancelled source
// reports io.EOF.
type Source interface {
	Read(ctx context.Context) (string, error)
	Cancel()
}

const readerSourceBufSize = 4096

// ReaderSource adapts an io.Reader, for example an HTTP response body.
type ReaderSource struct {
	r       io.Reader
	buf     []byte
	pending []byte // incomplete UTF-8 sequence from the previous read
	err     error  // error returned together with data, reported on the next Read

	cancelled  atomic.Bool
	cancelOnce sync.Once
}

var _ Source = &ReaderSource{}

// NewReaderSource returns a Source reading from r. If r is an io.Closer it is
// closed on Cancel.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{
		r:   r,
		buf: make([]byte, readerSourceBufSize),
	}
}

// Read returns the next decoded fragment. A multi-byte character split across
// two reads of the underlying reader is held back until it is complete.
func (s *ReaderSource) Read(ctx context.Context) (string, error) {
	for {
		if s.cancelled.Load() {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.err != nil {
			return s.drain()
		}

		n, err := s.r.Read(s.buf)
		if s.cancelled.Load() {
			return "", io.EOF
		}
		if err != nil {
			s.err = err
		}
		if n == 0 {
			continue
		}

		data := append(s.pending, s.buf[:n]...)
		cut := completePrefix(data)
		s.pending = append([]byte(nil), data[cut:]...)
		if cut > 0 {
			return string(data[:cut]), nil
		}
	}
}

// drain flushes what is left after the underlying reader stopped.
func (s *ReaderSource) drain() (string, error) {
	if len(s.pending) > 0 {
		text := string(s.pending)
		s.pending = nil
		return text, nil
	}
	return "", s.err
}

// Cancel stops the source and closes the underlying reader if it can be closed.
func (s *ReaderSource) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		if c, ok := s.r.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// completePrefix returns the length of the longest prefix of data that does not
// end in the middle of a UTF-8 sequence.
func completePrefix(data []byte) int {
	end := len(data)
	for i := end - 1; i >= 0 && i >= end-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			return i
		}
		break
	}
	return end
}

// ChanSource reads fragments sent on a channel by another goroutine. Closing the
// channel ends the source.
type ChanSource struct {
	ch   <-chan string
	done chan struct{}
	once sync.Once
}

var _ Source = &ChanSource{}

// NewChanSource returns a Source fed by ch.
func NewChanSource(ch <-chan string) *ChanSource {
	return &ChanSource{
		ch:   ch,
		done: make(chan struct{}),
	}
}

func (s *ChanSource) Read(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return "", io.EOF
	default:
	}
	select {
	case frag, ok := <-s.ch:
		if !ok {
			return "", io.EOF
		}
		return frag, nil
	case <-s.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the source has been cancelled. Producers feeding the
// channel select on it to stop sending.
func (s *ChanSource) Done() <-chan struct{} {
	return s.done
}

func (s *ChanSource) Cancel() {
	s.once.Do(func() {
		close(s.done)
	})
}

// FailingSource wraps a Source and reports err once the wrapped source is
// exhausted. It is useful to surface an error seen by the code feeding a
// ChanSource.
type FailingSource struct {
	Source
	errp *atomic.Pointer[error]
}

// NewFailingSource returns a Source that reads from src and, at its end, returns
// the error set with Fail instead of io.EOF.
func NewFailingSource(src Source) *FailingSource {
	return &FailingSource{
		Source: src,
		errp:   &atomic.Pointer[error]{},
	}
}

// Fail records err. It must be called before the wrapped source ends.
func (s *FailingSource) Fail(err error) {
	s.errp.Store(&err)
}

func (s *FailingSource) Read(ctx context.Context) (string, error) {
	frag, err := s.Source.Read(ctx)
	if errors.Is(err, io.EOF) {
		if p := s.errp.Load(); p != nil {
			return "", *p
		}
	}
	return frag, err
}
