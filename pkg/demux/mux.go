package demux

// MainStreamName is the name of the stream that receives every chunk.
const MainStreamName = "main"

// multiplexer owns the output streams of one Demux call. Only the pump
// goroutine writes to it.
type multiplexer struct {
	main  *Stream
	named map[string]*Stream
	order []string
}

func newMultiplexer(languages []string) *multiplexer {
	m := &multiplexer{
		main:  newStream(MainStreamName),
		named: make(map[string]*Stream, len(languages)),
		order: languages,
	}
	for _, lang := range languages {
		m.named[lang] = newStream(lang)
	}
	return m
}

// streams returns the main stream followed by the named streams in request
// order.
func (m *multiplexer) streams() []*Stream {
	all := make([]*Stream, 0, len(m.order)+1)
	all = append(all, m.main)
	for _, lang := range m.order {
		all = append(all, m.named[lang])
	}
	return all
}

func (m *multiplexer) writeMain(text string) {
	m.main.push(text)
}

// writeNamed enqueues line with its newline restored. Unknown languages are
// ignored.
func (m *multiplexer) writeNamed(lang, line string) {
	s, ok := m.named[lang]
	if !ok {
		return
	}
	s.push(line + "\n")
}

func (m *multiplexer) closeNamed(lang string) {
	if s, ok := m.named[lang]; ok {
		s.close()
	}
}

// closeAll closes every stream that is still open.
func (m *multiplexer) closeAll() {
	for _, s := range m.streams() {
		s.close()
	}
}

// errorAll fails every stream that is still open with err.
func (m *multiplexer) errorAll(err error) {
	for _, s := range m.streams() {
		s.fail(err)
	}
}
