package demux

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameDecoder_SingleRecord(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data: {\"chunk\": \"hello\"}\n\n")

	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, chunks)
}

func TestFrameDecoder_RecordSplitAcrossFeeds(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("da")
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunks, err = d.feed("ta: {\"chu")
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunks, err = d.feed("nk\": \"hi\"}\n")
	require.NoError(t, err)
	require.Empty(t, chunks)

	// The blank line delimiter itself arrives split.
	chunks, err = d.feed("\n")
	require.NoError(t, err)
	require.Equal(t, []string{"hi"}, chunks)
}

func TestFrameDecoder_SeveralRecordsInOneFeed(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data: {\"chunk\": \"a\"}\n\ndata: {\"chunk\": \"b\"}\n\ndata: {\"chu")

	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, chunks)
	require.Equal(t, "data: {\"chu", string(d.buf))
}

func TestFrameDecoder_IgnoresOtherFields(t *testing.T) {
	var d frameDecoder

	input := ": keep-alive\n" +
		"event: message\n" +
		"id: 7\n" +
		"retry: 1000\n" +
		"data: {\"chunk\": \"x\", \"model\": \"m\", \"index\": 3}\n\n"
	chunks, err := d.feed(input)

	require.NoError(t, err)
	require.Equal(t, []string{"x"}, chunks)
}

func TestFrameDecoder_MultipleDataLinesAreJoined(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data: {\"chunk\":\ndata: \"joined\"}\n\n")

	require.NoError(t, err)
	require.Equal(t, []string{"joined"}, chunks)
}

func TestFrameDecoder_DataWithoutSpace(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data:{\"chunk\":\"tight\"}\n\n")

	require.NoError(t, err)
	require.Equal(t, []string{"tight"}, chunks)
}

func TestFrameDecoder_CRLF(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data: {\"chunk\": \"a\"}\r")
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunks, err = d.feed("\n\r\n")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, chunks)
}

func TestFrameDecoder_CRLFSplitEverywhere(t *testing.T) {
	input := "data: {\"chunk\": \"a\"}\r\n\r\ndata: {\"chunk\": \"b\"}\r\n\r\n"

	for i := 1; i < len(input); i++ {
		var d frameDecoder
		first, err := d.feed(input[:i])
		require.NoError(t, err)
		second, err := d.feed(input[i:])
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, append(first, second...), "split at %d", i)
	}
}

func TestFrameDecoder_ManySmallFeeds(t *testing.T) {
	var d frameDecoder
	long := strings.Repeat("x", 20000)
	input := "data: {\"chunk\": \"" + long + "\"}\n\n"

	var chunks []string
	for i := 0; i < len(input); i++ {
		got, err := d.feed(input[i : i+1])
		require.NoError(t, err)
		chunks = append(chunks, got...)
	}

	require.Equal(t, []string{long}, chunks)
	require.Empty(t, d.buf)
	require.Zero(t, d.scan)
}

func TestFrameDecoder_LoneCarriageReturnAtEnd(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data: {\"chunk\": \"z\"}\r")
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunk, ok, err := d.flush()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "z", chunk)
}

func TestFrameDecoder_SkipsMalformed(t *testing.T) {
	var skipped []string
	d := frameDecoder{
		skipped: func(payload string, err error) {
			require.Error(t, err)
			skipped = append(skipped, payload)
		},
	}

	input := "data: {not json}\n\n" +
		"data: {\"other\": 1}\n\n" +
		"data: {\"chunk\": 42}\n\n" +
		"data: {\"chunk\": \"ok\"}\n\n"
	chunks, err := d.feed(input)

	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, chunks)
	require.Equal(t, []string{"{not json}", "{\"other\": 1}", "{\"chunk\": 42}"}, skipped)
}

func TestFrameDecoder_SkipsDoneEmptyAndDatalessRecords(t *testing.T) {
	var d frameDecoder

	input := "data: [DONE]\n\n" +
		"data: {\"chunk\": \"\"}\n\n" +
		"event: ping\n\n"
	chunks, err := d.feed(input)

	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestFrameDecoder_StrictMode(t *testing.T) {
	d := frameDecoder{strict: true}

	chunks, err := d.feed("data: {\"chunk\": \"a\"}\n\ndata: {broken\n\ndata: {\"chunk\": \"b\"}\n\n")

	require.Equal(t, []string{"a"}, chunks)
	var frameErr *FrameError
	require.True(t, errors.As(err, &frameErr))
	require.Equal(t, "{broken", frameErr.Payload)
	require.Contains(t, err.Error(), "decoding frame payload")
}

func TestFrameDecoder_StrictModeAcceptsDone(t *testing.T) {
	d := frameDecoder{strict: true}

	chunks, err := d.feed("data: [DONE]\n\n")

	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestFrameDecoder_FlushUnterminatedRecord(t *testing.T) {
	var d frameDecoder

	chunks, err := d.feed("data: {\"chunk\": \"tail\"}\n")
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunk, ok, err := d.flush()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tail", chunk)

	_, ok, err = d.flush()
	require.NoError(t, err)
	require.False(t, ok)
}
