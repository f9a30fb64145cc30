package sse

import (
	"io"
	"net/http"
	"strconv"
)

// Pre-allocated byte slices for SSE formatting. These avoid heap allocations
// on every write in the streaming hot path.
var (
	dataPrefix   = []byte("data: ")
	eventEnd     = []byte("\n\n")
	doneFrame    = []byte("data: [DONE]\n\n")
	breachPrefix = []byte(`data: {"error":"budget_exceeded","total_cost":`)
	breachLimit  = []byte(`,"limit":`)
	breachEnd    = []byte("}\n\n")
)

// Pre-allocated header value slices for SSE responses.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	headerEventStream  = []string{"text/event-stream"}
	headerCacheControl = []string{"no-cache"}
	headerConnection   = []string{"keep-alive"}
	headerAccelBuf     = []string{"no"}
)

// WriteHeaders sets the response headers for an SSE stream and commits the
// 200 status.
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = headerEventStream
	h["Cache-Control"] = headerCacheControl
	h["Connection"] = headerConnection
	h["X-Accel-Buffering"] = headerAccelBuf
	w.WriteHeader(http.StatusOK)
}

// WriteData writes a single SSE data frame: "data: <payload>\n\n".
func WriteData(w io.Writer, data []byte) error {
	if _, err := w.Write(dataPrefix); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(eventEnd)
	return err
}

// WriteDone writes the SSE stream termination sentinel: "data: [DONE]\n\n".
func WriteDone(w io.Writer) error {
	_, err := w.Write(doneFrame)
	return err
}

// WriteBreach writes the budget-cut terminal frame followed by [DONE].
// Costs are display currency units.
func WriteBreach(w io.Writer, totalCost, limit float64) error {
	buf := make([]byte, 0, 96)
	buf = append(buf, breachPrefix...)
	buf = strconv.AppendFloat(buf, totalCost, 'f', -1, 64)
	buf = append(buf, breachLimit...)
	buf = strconv.AppendFloat(buf, limit, 'f', -1, 64)
	buf = append(buf, breachEnd...)
	buf = append(buf, doneFrame...)
	_, err := w.Write(buf)
	return err
}
