package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"
)

// Result holds the output streams of a Demux call.
type Result struct {
	Main  *Stream
	Named map[string]*Stream

	done chan struct{}
	err  error
}

// Wait blocks until the source has been consumed and every stream reached its
// terminal state. It returns the error delivered to the streams, or nil after a
// clean end or a consumer cancellation.
func (r *Result) Wait() error {
	<-r.done
	return r.err
}

// Done is closed once Wait would no longer block.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Demux starts consuming src and returns the main stream plus one stream per
// requested language. Language tags are matched case-insensitively; duplicates
// are collapsed. The source is read by a single goroutine which ends when the
// source is exhausted, fails, or is cancelled through ctx or a stream.
//
// Cancelling ctx counts as a source failure: every open stream receives the
// context's cause.
func Demux(ctx context.Context, src Source, languages []string, opts ...Option) (*Result, error) {
	if src == nil {
		return nil, errors.New("demux: nil source")
	}
	langs, err := normalizeLanguages(languages)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)

	mux := newMultiplexer(langs)
	res := &Result{
		Main:  mux.main,
		Named: make(map[string]*Stream, len(langs)),
		done:  make(chan struct{}),
	}
	for lang, s := range mux.named {
		res.Named[lang] = s
	}

	pctx, cancel := context.WithCancelCause(ctx)
	c := &controller{
		src:    src,
		mux:    mux,
		fence:  newFenceMachine(langs, o.reopen),
		reopen: o.reopen,
		log:    o.logger,
		result: res,
	}
	c.frames = frameDecoder{
		strict: o.strict,
		skipped: func(payload string, err error) {
			c.log.Debug("Skipping undecodable frame", "payload", truncate(payload, 64), "error", err)
		},
	}

	// remaining counts open streams. With ref-counting the source is cancelled
	// once no stream is left open and at least one of them was cancelled.
	streams := mux.streams()
	var remaining atomic.Int32
	var consumerCancelled atomic.Bool
	remaining.Store(int32(len(streams)))
	for _, s := range streams {
		name := s.Name()
		s.onDone = func(cancelled bool) {
			left := remaining.Add(-1)
			if cancelled {
				consumerCancelled.Store(true)
			}
			if c.terminated.Load() {
				return
			}
			if o.refCounted {
				if left > 0 || !consumerCancelled.Load() {
					c.log.Debug("Stream ended, source kept alive", "stream", name, "remaining", left)
					return
				}
			} else if !cancelled {
				return
			}
			c.log.Debug("Stream cancelled, cancelling source", "stream", name)
			cancel(ErrStreamCancelled)
		}
	}

	go c.run(pctx, cancel)
	return res, nil
}

func normalizeLanguages(languages []string) ([]string, error) {
	seen := make(map[string]bool, len(languages))
	out := make([]string, 0, len(languages))
	for i, lang := range languages {
		tag := strings.ToLower(strings.TrimSpace(lang))
		if tag == "" || strings.IndexFunc(tag, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("%w: %q at index %d", ErrInvalidLanguage, lang, i)
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out, nil
}

// controller runs the pump loop of one Demux call. All of its state is owned
// by the pump goroutine.
type controller struct {
	src    Source
	frames frameDecoder
	lines  lineBuffer
	fence  *fenceMachine
	mux    *multiplexer
	reopen ReopenPolicy
	log    *slog.Logger
	result *Result

	// terminated is set before the controller ends all streams itself.
	terminated atomic.Bool
}

func (c *controller) run(ctx context.Context, cancel context.CancelCauseFunc) {
	stop := context.AfterFunc(ctx, c.src.Cancel)
	defer func() {
		stop()
		cancel(nil)
		close(c.result.done)
	}()

	for {
		frag, err := c.src.Read(ctx)
		if ctx.Err() != nil {
			c.abort(context.Cause(ctx))
			return
		}
		if errors.Is(err, io.EOF) {
			c.finish()
			return
		}
		if err != nil {
			c.fail(err)
			return
		}
		if err := c.consume(frag); err != nil {
			c.src.Cancel()
			c.fail(err)
			return
		}
	}
}

func (c *controller) consume(frag string) error {
	chunks, err := c.frames.feed(frag)
	for _, chunk := range chunks {
		c.route(chunk)
	}
	return err
}

// route sends chunk to the main stream and its completed lines through the
// fence machine.
func (c *controller) route(chunk string) {
	c.mux.writeMain(chunk)
	for _, line := range c.lines.feed(chunk) {
		c.routeLine(line)
	}
}

func (c *controller) routeLine(line string) {
	ev, lang := c.fence.process(line)
	switch ev {
	case fenceLine:
		c.mux.writeNamed(lang, line)
	case fenceOpen:
		c.log.Debug("Fence opened", "language", lang)
	case fenceClose:
		c.log.Debug("Fence closed", "language", lang)
		if c.reopen == ReopenIgnore {
			c.mux.closeNamed(lang)
		}
	case fenceNone:
		if lang != "" {
			c.log.Warn("Ignoring repeated fence for finished language", "language", lang)
		}
	}
}

// finish handles end of source: the unterminated record and the trailing
// partial line are processed before every stream is closed.
func (c *controller) finish() {
	chunk, ok, err := c.frames.flush()
	if err != nil {
		c.fail(err)
		return
	}
	if ok {
		c.route(chunk)
	}
	if line, ok := c.lines.flush(); ok {
		c.routeLine(line)
	}
	if c.fence.inside() {
		c.log.Debug("Source ended inside fence", "language", c.fence.active)
	}
	c.terminated.Store(true)
	c.mux.closeAll()
	c.log.Debug("Demux finished")
}

func (c *controller) fail(err error) {
	c.log.Debug("Demux failed", "error", err)
	c.result.err = err
	c.terminated.Store(true)
	c.mux.errorAll(err)
}

// abort handles a cancelled context. Consumer cancellation is a normal
// shutdown; anything else is delivered as an error.
func (c *controller) abort(cause error) {
	if errors.Is(cause, ErrStreamCancelled) {
		c.log.Debug("Demux cancelled by consumer")
		c.terminated.Store(true)
		c.mux.closeAll()
		return
	}
	c.fail(cause)
}
