package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// DoneFrame is the upstream stream-termination frame.
const DoneFrame = "data: [DONE]\n\n"

// DeltaFrame returns an SSE data frame carrying a chat-completion content
// delta.
func DeltaFrame(content string) string {
	return `data: {"id":"cmpl-test","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":` +
		strconv.Quote(content) + `}}]}` + "\n\n"
}

// RoleFrame returns the role-announcement frame that OpenAI-style streams
// send first. It carries no billable content.
func RoleFrame() string {
	return `data: {"id":"cmpl-test","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}` + "\n\n"
}

// UsageFrame returns the trailing frame carrying the official usage block.
func UsageFrame(prompt, completion int) string {
	return fmt.Sprintf(`data: {"id":"cmpl-test","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`+"\n\n",
		prompt, completion, prompt+completion)
}

// SSEUpstream is an httptest server speaking the provider streaming
// protocol. It records the last request body so tests can assert on the
// rewritten payload the gateway sends upstream.
type SSEUpstream struct {
	Server *httptest.Server

	// FrameDelay inserts a pause before each frame, giving tests time to
	// act mid-stream. Set before the request is made.
	FrameDelay time.Duration

	mu       sync.Mutex
	lastBody []byte
	requests int
}

// NewSSEUpstream starts a server that answers every POST with the given
// frames, flushing after each one. The caller owns shutdown via t.Cleanup.
func NewSSEUpstream(t testing.TB, frames ...string) *SSEUpstream {
	t.Helper()
	u := &SSEUpstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.lastBody = body
		u.requests++
		u.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		// Commit the headers before any FrameDelay pause: they are not on
		// the wire until flushed, and the pause must happen mid-stream, not
		// while the client is still waiting to connect.
		flusher.Flush()
		for _, frame := range frames {
			if u.FrameDelay > 0 {
				select {
				case <-time.After(u.FrameDelay):
				case <-r.Context().Done():
					return
				}
			}
			if _, err := io.WriteString(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	t.Cleanup(u.Server.Close)
	return u
}

// URL returns the server's base URL.
func (u *SSEUpstream) URL() string { return u.Server.URL }

// LastBody returns the most recent request body received.
func (u *SSEUpstream) LastBody() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastBody
}

// Requests returns how many requests the server has served.
func (u *SSEUpstream) Requests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}
