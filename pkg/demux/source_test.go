package demux

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func readSource(t *testing.T, src Source) ([]string, error) {
	t.Helper()
	var frags []string
	for {
		frag, err := src.Read(context.Background())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frags, nil
			}
			return frags, err
		}
		frags = append(frags, frag)
	}
}

func TestReaderSource_KeepsMultiByteRunesTogether(t *testing.T) {
	text := "grüße 👋 done"
	src := NewReaderSource(iotest.OneByteReader(strings.NewReader(text)))

	frags, err := readSource(t, src)
	require.NoError(t, err)
	require.Equal(t, text, strings.Join(frags, ""))
	for _, f := range frags {
		require.True(t, utf8.ValidString(f), "fragment %q split a rune", f)
	}
}

func TestReaderSource_DataWithError(t *testing.T) {
	boom := errors.New("boom")
	src := NewReaderSource(iotest.DataErrReader(io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(boom))))

	frags, err := readSource(t, src)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "abc", strings.Join(frags, ""))
}

func TestReaderSource_TrailingInvalidBytes(t *testing.T) {
	// A lone lead byte at the end is flushed as-is.
	src := NewReaderSource(strings.NewReader("ok\xe2"))

	frags, err := readSource(t, src)
	require.NoError(t, err)
	require.Equal(t, "ok\xe2", strings.Join(frags, ""))
}

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestReaderSource_Cancel(t *testing.T) {
	rc := &closeRecorder{Reader: strings.NewReader("data")}
	src := NewReaderSource(rc)

	src.Cancel()
	src.Cancel()

	require.Equal(t, 1, rc.closed)
	_, err := src.Read(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderSource_ContextDone(t *testing.T) {
	src := NewReaderSource(strings.NewReader("data"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestChanSource(t *testing.T) {
	ch := make(chan string, 2)
	ch <- "a"
	ch <- "b"
	close(ch)

	frags, err := readSource(t, NewChanSource(ch))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, frags)
}

func TestChanSource_CancelUnblocksRead(t *testing.T) {
	src := NewChanSource(make(chan string))
	errc := make(chan error, 1)
	go func() {
		_, err := src.Read(context.Background())
		errc <- err
	}()

	src.Cancel()
	require.ErrorIs(t, <-errc, io.EOF)
	<-src.Done()
}

func TestFailingSource(t *testing.T) {
	boom := errors.New("websocket closed abnormally")
	ch := make(chan string, 1)
	src := NewFailingSource(NewChanSource(ch))
	ch <- "frag"
	src.Fail(boom)
	close(ch)

	frags, err := readSource(t, src)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"frag"}, frags)
}

func TestCompletePrefix(t *testing.T) {
	euro := []byte("€") // 3 bytes
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"ascii", []byte("abc"), 3},
		{"complete rune", append([]byte("a"), euro...), 4},
		{"one byte of rune", append([]byte("a"), euro[:1]...), 1},
		{"two bytes of rune", append([]byte("a"), euro[:2]...), 1},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, completePrefix(tt.data))
		})
	}
}
