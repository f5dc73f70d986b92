package demux

import "strings"

// lineBuffer turns arbitrary text fragments into complete lines. At rest it
// never holds a newline.
type lineBuffer struct {
	partial string
}

// feed appends text and returns every line it completed, without the trailing
// newline. The last, possibly incomplete, piece is kept for the next call.
func (b *lineBuffer) feed(text string) []string {
	if text == "" {
		return nil
	}
	pieces := strings.Split(b.partial+text, "\n")
	b.partial = pieces[len(pieces)-1]
	return pieces[:len(pieces)-1]
}

// flush returns the buffered partial line, if any, and empties the buffer.
func (b *lineBuffer) flush() (string, bool) {
	if b.partial == "" {
		return "", false
	}
	line := b.partial
	b.partial = ""
	return line, true
}
