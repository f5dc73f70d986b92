package demux

import "log/slog"

// ReopenPolicy decides what happens when a fence for a language opens again
// after an earlier fence for the same language was closed.
type ReopenPolicy int

const (
	// ReopenContinue keeps language streams open until the source ends. Later
	// fences with the same tag append to the same stream.
	ReopenContinue ReopenPolicy = iota

	// ReopenIgnore closes a language stream as soon as its first fence closes.
	// Later fences with the same tag are not routed anywhere.
	ReopenIgnore
)

func (p ReopenPolicy) String() string {
	switch p {
	case ReopenContinue:
		return "continue"
	case ReopenIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

type options struct {
	logger     *slog.Logger
	strict     bool
	reopen     ReopenPolicy
	refCounted bool
}

// Option configures a Demux call.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStrictFrames turns undecodable data payloads into a fatal *FrameError
// instead of skipping them.
func WithStrictFrames() Option {
	return func(o *options) {
		o.strict = true
	}
}

// WithReopenPolicy sets the policy for repeated fences of one language.
func WithReopenPolicy(p ReopenPolicy) Option {
	return func(o *options) {
		o.reopen = p
	}
}

// WithSharedCancel cancels the source as soon as any single stream is
// cancelled. This is the default.
func WithSharedCancel() Option {
	return func(o *options) {
		o.refCounted = false
	}
}

// WithRefCountedCancel cancels the source only after every stream has been
// cancelled.
func WithRefCountedCancel() Option {
	return func(o *options) {
		o.refCounted = true
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		reopen: ReopenContinue,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
