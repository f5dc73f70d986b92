package demux

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

const (
	dataField    = "data:"
	doneSentinel = "[DONE]"
)

// chunkPayload is the JSON object carried by a data: line. Other fields are
// ignored.
type chunkPayload struct {
	Chunk *string `json:"chunk"`
}

var (
	errNoChunk      = errors.New(`payload has no "chunk" field`)
	recordDelimiter = []byte("\n\n")
)

// frameDecoder cuts raw transport text into records and extracts the chunk of
// each. Records are separated by a blank line and may span several fragments.
type frameDecoder struct {
	buf    []byte // normalised text not yet cut into records
	scan   int    // prefix of buf already searched for a delimiter
	cr     bool   // the last fragment ended in '\r', held back from buf
	strict bool

	// skipped is called for every record that was dropped because its payload
	// could not be decoded.
	skipped func(payload string, err error)
}

// feed appends raw text and returns the chunks of all records completed by it.
func (d *frameDecoder) feed(raw string) ([]string, error) {
	if d.cr {
		raw = "\r" + raw
		d.cr = false
	}
	// A trailing '\r' may be the first half of a CRLF.
	if strings.HasSuffix(raw, "\r") {
		raw = raw[:len(raw)-1]
		d.cr = true
	}
	d.buf = append(d.buf, strings.ReplaceAll(raw, "\r\n", "\n")...)

	var chunks []string
	for {
		idx := bytes.Index(d.buf[d.scan:], recordDelimiter)
		if idx < 0 {
			// The last byte may start a delimiter completed by the next feed.
			d.scan = max(len(d.buf)-1, 0)
			break
		}
		end := d.scan + idx
		record := string(d.buf[:end])
		d.buf = d.buf[end+len(recordDelimiter):]
		d.scan = 0

		chunk, ok, err := d.decodeRecord(record)
		if err != nil {
			return chunks, err
		}
		if ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// flush decodes a final record that was not terminated by a blank line.
func (d *frameDecoder) flush() (string, bool, error) {
	if d.cr {
		d.buf = append(d.buf, '\r')
		d.cr = false
	}
	record := strings.TrimRight(string(d.buf), "\n")
	d.buf = nil
	d.scan = 0
	if record == "" {
		return "", false, nil
	}
	return d.decodeRecord(record)
}

func (d *frameDecoder) decodeRecord(record string) (string, bool, error) {
	var data []string
	for _, line := range strings.Split(record, "\n") {
		// event:, id:, retry: and comment lines carry nothing we need.
		if !strings.HasPrefix(line, dataField) {
			continue
		}
		value := strings.TrimPrefix(line, dataField)
		value = strings.TrimPrefix(value, " ")
		data = append(data, value)
	}
	if len(data) == 0 {
		return "", false, nil
	}

	payload := strings.Join(data, "\n")
	if strings.TrimSpace(payload) == doneSentinel {
		return "", false, nil
	}

	var p chunkPayload
	err := json.Unmarshal([]byte(payload), &p)
	if err == nil && p.Chunk == nil {
		err = errNoChunk
	}
	if err != nil {
		if d.strict {
			return "", false, &FrameError{Payload: payload, Err: err}
		}
		if d.skipped != nil {
			d.skipped(payload, err)
		}
		return "", false, nil
	}
	if *p.Chunk == "" {
		return "", false, nil
	}
	return *p.Chunk, true, nil
}
