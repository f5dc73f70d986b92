// Package demux splits one incrementally arriving SSE text stream into a main
// stream and per-language streams.
//
// # Overview
//
// An LLM answer usually arrives as Server-Sent-Events records. Each record carries
// one fragment of the answer inside a JSON payload:
//
//	data: {"chunk": "Here is the code:\n```js\nconsole.lo"}
//
//	data: {"chunk": "g(1)\n```\n"}
//
// Demux reassembles the answer and, while it arrives, extracts the contents of
// fenced blocks tagged with one of the requested languages:
//
//	main: "Here is the code:\n```js\nconsole.log(1)\n```\n"
//	js:   "console.log(1)\n"
//
// Transport chunk boundaries have no relation to record, line or fence
// boundaries. Records are buffered until their blank-line terminator arrives and
// text is buffered until its newline arrives, so the output does not depend on
// how the input was chunked.
//
// # Pipeline
//
// One goroutine per Demux call pulls fragments from the Source and runs them
// through these steps:
//
//  1. Frame extraction: split on blank lines, join the data: lines of a record,
//     decode the JSON payload and take its "chunk" field.
//  2. The chunk goes verbatim to the main stream.
//  3. Line reassembly: complete lines are cut from a carry-over buffer.
//  4. Fence state machine: each line is routed to the active language or dropped.
//
// At end of source the trailing partial line is processed as a final line, then
// every stream is closed. A source read error is delivered to every open stream.
//
// # Fences
//
// An opening marker is a line which, trimmed, starts with three backticks
// directly followed by a tag. The first whitespace separated word is the tag,
// compared case-insensitively; the rest of the line is ignored. A closing
// marker is a line which, trimmed, is exactly three backticks. Marker lines are
// never routed to a language stream. Fences tagged with a language that was not
// requested are ignored; their text still reaches the main stream.
//
// # Streams
//
// Every Stream has its own unbounded queue. The producer never waits for a
// consumer, and consumers read at their own pace. Ordering is guaranteed within
// one stream only.
//
// # Cancellation
//
// Cancelling one stream cancels the shared Source by default, which closes all
// other streams. WithRefCountedCancel waits until every stream was cancelled.
package demux
