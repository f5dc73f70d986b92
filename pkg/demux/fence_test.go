package demux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fenceStep struct {
	line string
	ev   fenceEvent
	lang string
}

func runFence(t *testing.T, m *fenceMachine, steps []fenceStep) {
	t.Helper()
	for i, step := range steps {
		ev, lang := m.process(step.line)
		require.Equal(t, step.ev, ev, "step %d: %q", i, step.line)
		require.Equal(t, step.lang, lang, "step %d: %q", i, step.line)
		require.Equal(t, m.active != "", m.inside())
	}
}

func TestFenceMachine(t *testing.T) {
	tests := []struct {
		name  string
		langs []string
		steps []fenceStep
	}{
		{
			name:  "open line close",
			langs: []string{"js"},
			steps: []fenceStep{
				{"text", fenceNone, ""},
				{"```js", fenceOpen, "js"},
				{"console.log(1)", fenceLine, "js"},
				{"```", fenceClose, "js"},
				{"after", fenceNone, ""},
			},
		},
		{
			name:  "tag is case-insensitive",
			langs: []string{"python"},
			steps: []fenceStep{
				{"```Python", fenceOpen, "python"},
				{"x = 1", fenceLine, "python"},
				{"```", fenceClose, "python"},
			},
		},
		{
			name:  "unrequested language is ignored",
			langs: []string{"js"},
			steps: []fenceStep{
				{"```go", fenceNone, ""},
				{"fmt.Println()", fenceNone, ""},
				{"```", fenceNone, ""},
				{"```js", fenceOpen, "js"},
			},
		},
		{
			name:  "space between backticks and tag is not an opening",
			langs: []string{"js"},
			steps: []fenceStep{
				{"``` js", fenceNone, ""},
				{"```", fenceNone, ""},
			},
		},
		{
			name:  "text after the tag is ignored",
			langs: []string{"sql"},
			steps: []fenceStep{
				{"```sql title=query.sql", fenceOpen, "sql"},
				{"SELECT 1;", fenceLine, "sql"},
				{"```", fenceClose, "sql"},
			},
		},
		{
			name:  "markers are trimmed",
			langs: []string{"js"},
			steps: []fenceStep{
				{"   ```js  ", fenceOpen, "js"},
				{"  indented", fenceLine, "js"},
				{"\t```\r", fenceClose, "js"},
			},
		},
		{
			name:  "closing marker must stand alone",
			langs: []string{"js"},
			steps: []fenceStep{
				{"```js", fenceOpen, "js"},
				{"``` trailing", fenceLine, "js"},
				{"```js", fenceLine, "js"},
				{"```", fenceClose, "js"},
			},
		},
		{
			name:  "nested open marker is content",
			langs: []string{"md", "js"},
			steps: []fenceStep{
				{"```md", fenceOpen, "md"},
				{"```js", fenceLine, "md"},
				{"```", fenceClose, "md"},
				{"code", fenceNone, ""},
			},
		},
		{
			name:  "bare marker outside a fence",
			langs: []string{"js"},
			steps: []fenceStep{
				{"```", fenceNone, ""},
				{"x", fenceNone, ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runFence(t, newFenceMachine(tt.langs, ReopenContinue), tt.steps)
		})
	}
}

func TestFenceMachine_ReopenContinue(t *testing.T) {
	m := newFenceMachine([]string{"js"}, ReopenContinue)
	runFence(t, m, []fenceStep{
		{"```js", fenceOpen, "js"},
		{"a", fenceLine, "js"},
		{"```", fenceClose, "js"},
		{"```JS", fenceOpen, "js"},
		{"b", fenceLine, "js"},
		{"```", fenceClose, "js"},
	})
}

func TestFenceMachine_ReopenIgnore(t *testing.T) {
	m := newFenceMachine([]string{"js"}, ReopenIgnore)
	runFence(t, m, []fenceStep{
		{"```js", fenceOpen, "js"},
		{"a", fenceLine, "js"},
		{"```", fenceClose, "js"},
		{"```js", fenceNone, "js"},
		{"b", fenceNone, ""},
		{"```", fenceNone, ""},
	})
}

func TestOpenTag(t *testing.T) {
	tests := []struct {
		line string
		tag  string
		ok   bool
	}{
		{"```js", "js", true},
		{"```TypeScript", "typescript", true},
		{"```c++ main.cpp", "c++", true},
		{"```", "", false},
		{"``` js", "", false},
		{"js", "", false},
		{"``js", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			tag, ok := openTag(tt.line)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.tag, tag)
		})
	}
}
