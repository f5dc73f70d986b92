// Package transcript records what each output stream delivered, in the order it
// was delivered, with a timestamp per entry.
//
// Each entry is written as
//
//	stream timestamp length: content\n
//
// where length is the byte length of content and the newline separator is
// always appended, so content may itself contain newlines.
package transcript

import (
	"fmt"
	"io"
	"time"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one delivery to one stream.
type Entry struct {
	Stream    string
	Timestamp time.Time
	Text      string
}

// Format renders an entry in transcript format.
func Format(e Entry) []byte {
	ts := e.Timestamp.UTC().Format(timeLayout)
	out := fmt.Appendf(nil, "%s %s %d: ", e.Stream, ts, len(e.Text))
	out = append(out, e.Text...)
	return append(out, '\n')
}

// Writer serializes entries from any number of goroutines onto one io.Writer.
// A single goroutine owns the io.Writer until Close.
type Writer struct {
	entries chan Entry
	done    chan struct{}
	err     error
	now     func() time.Time
}

// NewWriter starts the goroutine that writes to w.
func NewWriter(w io.Writer) *Writer {
	t := &Writer{
		entries: make(chan Entry, 100),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go func() {
		defer close(t.done)
		for e := range t.entries {
			if t.err != nil {
				continue
			}
			if _, err := w.Write(Format(e)); err != nil {
				t.err = fmt.Errorf("writing transcript: %w", err)
			}
		}
	}()

	return t
}

// Record queues text delivered to stream. It must not be called after Close.
func (t *Writer) Record(stream, text string) {
	t.entries <- Entry{
		Stream:    stream,
		Timestamp: t.now().UTC(),
		Text:      text,
	}
}

// Close waits until every recorded entry was written and returns the first
// write error.
func (t *Writer) Close() error {
	close(t.entries)
	<-t.done
	return t.err
}
