package demux

import (
	"strings"
	"unicode"
)

const fenceMarker = "```"

type fenceEvent int

const (
	fenceNone  fenceEvent = iota // line is outside any requested fence
	fenceOpen                    // line opened a fence, lang is set
	fenceLine                    // line belongs to the fence of lang
	fenceClose                   // line closed the fence of lang
)

func (e fenceEvent) String() string {
	switch e {
	case fenceNone:
		return "none"
	case fenceOpen:
		return "open"
	case fenceLine:
		return "line"
	case fenceClose:
		return "close"
	default:
		return "unknown"
	}
}

// fenceMachine tracks whether the current line is inside a fenced block tagged
// with one of the requested languages. active is non-empty iff inside a fence.
// Nested fences are not supported: inside a fence only the closing marker is
// recognised.
type fenceMachine struct {
	languages map[string]bool
	active    string

	reopen   ReopenPolicy
	finished map[string]bool // languages whose fence closed at least once
}

func newFenceMachine(languages []string, reopen ReopenPolicy) *fenceMachine {
	m := &fenceMachine{
		languages: make(map[string]bool, len(languages)),
		reopen:    reopen,
		finished:  make(map[string]bool),
	}
	for _, lang := range languages {
		m.languages[lang] = true
	}
	return m
}

func (m *fenceMachine) inside() bool {
	return m.active != ""
}

// process consumes one line and reports where it goes.
func (m *fenceMachine) process(line string) (fenceEvent, string) {
	trimmed := strings.TrimSpace(line)

	if m.inside() {
		lang := m.active
		if trimmed == fenceMarker {
			m.active = ""
			m.finished[lang] = true
			return fenceClose, lang
		}
		return fenceLine, lang
	}

	tag, ok := openTag(trimmed)
	if !ok || !m.languages[tag] {
		return fenceNone, ""
	}
	if m.reopen == ReopenIgnore && m.finished[tag] {
		return fenceNone, tag
	}
	m.active = tag
	return fenceOpen, tag
}

// openTag returns the lower-cased tag of an opening marker line. The tag must
// follow the backticks without a space and ends at the first whitespace.
func openTag(trimmed string) (string, bool) {
	rest, ok := strings.CutPrefix(trimmed, fenceMarker)
	if !ok || rest == "" {
		return "", false
	}
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end == 0 {
		return "", false
	}
	if end > 0 {
		rest = rest[:end]
	}
	return strings.ToLower(rest), true
}
