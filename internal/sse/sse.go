// Package sse provides server-sent-event parsing for the billing tee: an
// incremental splitter that extracts complete events from a raw byte stream
// without owning or mutating the forwarded bytes.
package sse

import (
	"bytes"
	"strings"
)

// maxEventSize caps a single buffered event. A well-formed provider chunk is
// a few KB; anything beyond the cap is discarded from billing (the raw bytes
// were already forwarded).
const maxEventSize = 1 << 20

// doneSentinel is the stream-termination data payload.
const doneSentinel = "[DONE]"

// Event is one parsed SSE event. Data holds the joined payload of the
// event's data lines; Done marks the [DONE] sentinel.
type Event struct {
	Data []byte
	Done bool
}

// Splitter accumulates raw stream bytes and yields complete events on
// blank-line boundaries. One Splitter serves one stream; it is not safe for
// concurrent use.
type Splitter struct {
	buf      bytes.Buffer
	overflow int
}

// Feed appends p and returns the events completed by it. The input slice is
// copied; callers may reuse p immediately.
func (s *Splitter) Feed(p []byte) []Event {
	s.buf.Write(p)

	var events []Event
	for {
		raw, ok := s.next()
		if !ok {
			break
		}
		if ev, ok := parseEvent(raw); ok {
			events = append(events, ev)
		}
	}
	if s.buf.Len() > maxEventSize {
		s.buf.Reset()
		s.overflow++
	}
	return events
}

// Overflowed returns the number of oversized event buffers discarded.
func (s *Splitter) Overflowed() int { return s.overflow }

// next pops one complete event block from the buffer, handling both LF and
// CRLF framing.
func (s *Splitter) next() ([]byte, bool) {
	b := s.buf.Bytes()
	idx := bytes.Index(b, []byte("\n\n"))
	sep := 2
	if crlf := bytes.Index(b, []byte("\r\n\r\n")); crlf >= 0 && (idx < 0 || crlf < idx) {
		idx, sep = crlf, 4
	}
	if idx < 0 {
		return nil, false
	}
	raw := make([]byte, idx)
	copy(raw, b[:idx])
	s.buf.Next(idx + sep)
	return raw, true
}

// parseEvent extracts the data payload from an event block. Events with no
// data lines (comments, bare event: lines) are skipped. Multiple data lines
// are joined with a newline per the SSE spec.
func parseEvent(raw []byte) (Event, bool) {
	var data [][]byte
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		key, value, found := bytes.Cut(line, []byte(":"))
		if !found || !bytes.Equal(key, []byte("data")) {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, value)
	}
	if len(data) == 0 {
		return Event{}, false
	}
	joined := bytes.Join(data, []byte("\n"))
	if strings.TrimSpace(string(joined)) == doneSentinel {
		return Event{Done: true}, true
	}
	return Event{Data: joined}, true
}
