package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/testutil"
)

const chatRaw = `{"model":"deepseek-chat","session_id":"s1","messages":[{"role":"user","content":"hello world"}]}`

func admit(t *testing.T, rig *testRig, raw string) *Flight {
	t.Helper()
	f, err := rig.svc.Admit(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return f
}

func TestStreamRelaysBytesFaithfully(t *testing.T) {
	t.Parallel()

	frames := []string{
		testutil.RoleFrame(),
		testutil.DeltaFrame("alpha beta gamma"),
		testutil.DeltaFrame("delta"),
		testutil.UsageFrame(2, 4),
		testutil.DoneFrame,
	}
	up := testutil.NewSSEUpstream(t, frames...)
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL())

	f := admit(t, rig, chatRaw)
	rec := httptest.NewRecorder()
	if err := rig.svc.Stream(context.Background(), rec, f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got, want := rec.Body.String(), strings.Join(frames, ""); got != want {
		t.Errorf("forwarded bytes differ:\n got %q\nwant %q", got, want)
	}

	// 2 prompt words at 1e6 plus 4 streamed words at 2e6.
	total, _, breached := rig.ledger.Snapshot()
	if want := 2*testInputPico + 4*testOutputPico; total != want {
		t.Errorf("ledger total = %d, want %d", total, want)
	}
	if breached {
		t.Error("breached under budget")
	}

	last, ok := rig.events.Last()
	if !ok {
		t.Fatal("no final progress event")
	}
	if last.TotalTokens != 4 || last.Breached {
		t.Errorf("final event = %+v", last)
	}

	appends := rig.history.Appends()
	if len(appends) != 1 {
		t.Fatalf("history appends = %d, want 1", len(appends))
	}
	a := appends[0]
	if a.SessionID != "s1" {
		t.Errorf("history session = %q", a.SessionID)
	}
	want := []sentinel.Message{
		{Role: "user", Content: "hello world"},
		{Role: "assistant", Content: "alpha beta gammadelta"},
	}
	if len(a.Messages) != 2 || a.Messages[0] != want[0] || a.Messages[1] != want[1] {
		t.Errorf("history messages = %+v, want %+v", a.Messages, want)
	}

	// The upstream payload carries the pinned streaming options.
	body := up.LastBody()
	if !strings.Contains(string(body), `"include_usage":true`) {
		t.Errorf("upstream body missing include_usage: %s", body)
	}
}

func TestStreamEmitsThrottledProgress(t *testing.T) {
	t.Parallel()

	// Each delta carries 12 words, crossing the 10-token emission step.
	chunk := strings.TrimSpace(strings.Repeat("word ", 12))
	up := testutil.NewSSEUpstream(t,
		testutil.DeltaFrame(chunk),
		testutil.DeltaFrame(chunk),
		testutil.DeltaFrame(chunk),
		testutil.DoneFrame,
	)
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL())

	f := admit(t, rig, chatRaw)
	if err := rig.svc.Stream(context.Background(), httptest.NewRecorder(), f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	events := rig.events.Events()
	if len(events) < 4 {
		t.Fatalf("events = %d, want per-chunk emissions plus final", len(events))
	}
	if events[0].DeltaTokens != 12 || events[0].TotalTokens != 12 {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.TotalTokens != 36 {
		t.Errorf("final TotalTokens = %d, want 36", last.TotalTokens)
	}
}

func TestStreamCutsOnBreach(t *testing.T) {
	t.Parallel()

	up := testutil.NewSSEUpstream(t,
		testutil.DeltaFrame("alpha beta gamma"),
		testutil.DeltaFrame("never billed"),
		testutil.DoneFrame,
	)
	// Prompt (2e6) fits under the 5e6 limit; the first delta (6e6) crosses it.
	rig := newTestRig(t, 5_000_000, up.URL())

	f := admit(t, rig, chatRaw)
	rec := httptest.NewRecorder()
	if err := rig.svc.Stream(context.Background(), rec, f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "alpha beta gamma") {
		t.Errorf("breaching chunk was not forwarded first: %q", body)
	}
	if !strings.Contains(body, `"error":"budget_exceeded"`) {
		t.Errorf("no breach frame in %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream not terminated with [DONE]: %q", body)
	}

	// Prompt plus the breaching delta; the trailing delta is never billed.
	total, _, breached := rig.ledger.Snapshot()
	if want := 2*testInputPico + 3*testOutputPico; total != want {
		t.Errorf("ledger total = %d, want %d", total, want)
	}
	if !breached {
		t.Error("ledger not breached")
	}
	last, ok := rig.events.Last()
	if !ok || !last.Breached {
		t.Errorf("final event = %+v, want breached", last)
	}

	// The latch holds: the next request is rejected before flight.
	if _, err := rig.svc.Admit(context.Background(), []byte(chatRaw)); !errors.Is(err, sentinel.ErrBudgetExceeded) {
		t.Fatalf("post-breach Admit error = %v, want ErrBudgetExceeded", err)
	}
}

func TestStreamReconcilesUsagePrompt(t *testing.T) {
	t.Parallel()

	up := testutil.NewSSEUpstream(t,
		testutil.DeltaFrame("alpha"),
		testutil.UsageFrame(10, 1),
		testutil.DoneFrame,
	)
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL())

	f := admit(t, rig, chatRaw)
	if err := rig.svc.Stream(context.Background(), httptest.NewRecorder(), f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if f.PromptTokens != 10 {
		t.Errorf("PromptTokens = %d, want official 10", f.PromptTokens)
	}
	// 2 estimated + 8 reconciled prompt tokens, 1 output token.
	total, _, _ := rig.ledger.Snapshot()
	if want := 10*testInputPico + 1*testOutputPico; total != want {
		t.Errorf("ledger total = %d, want %d", total, want)
	}
}

func TestStreamBillsAtAdmissionPrices(t *testing.T) {
	t.Parallel()

	up := testutil.NewSSEUpstream(t,
		testutil.DeltaFrame("alpha beta"),
		testutil.DoneFrame,
	)
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL())

	f := admit(t, rig, chatRaw)

	// A refresh lands between admission and streaming; the flight keeps
	// billing at its admission snapshot.
	rig.catalog.Replace(map[string]sentinel.ModelPrice{
		"deepseek-chat": {Input: 1e-4, Output: 2e-4},
	})

	if err := rig.svc.Stream(context.Background(), httptest.NewRecorder(), f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	total, _, _ := rig.ledger.Snapshot()
	if want := 2*testInputPico + 2*testOutputPico; total != want {
		t.Errorf("ledger total = %d, want %d (admission prices)", total, want)
	}
}

func TestStreamClientDisconnectAbortsUpstream(t *testing.T) {
	t.Parallel()

	up := testutil.NewSSEUpstream(t,
		testutil.DeltaFrame("never delivered"),
		testutil.DoneFrame,
	)
	up.FrameDelay = time.Second
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL())

	f := admit(t, rig, chatRaw)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := rig.svc.Stream(ctx, httptest.NewRecorder(), f); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("upstream read not aborted promptly: %v", elapsed)
	}

	// The prompt charge is retained; no output was billed.
	total, _, _ := rig.ledger.Snapshot()
	if want := 2 * testInputPico; total != want {
		t.Errorf("ledger total = %d, want prompt-only %d", total, want)
	}
	if last, ok := rig.events.Last(); !ok || last.TotalTokens != 0 {
		t.Errorf("final event = %+v, want zero streamed tokens", last)
	}
}

func TestStreamConnectErrorLeavesResponseUntouched(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer up.Close()
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL)

	f := admit(t, rig, chatRaw)
	rec := httptest.NewRecorder()
	err := rig.svc.Stream(context.Background(), rec, f)
	if !errors.Is(err, sentinel.ErrUpstreamConnect) {
		t.Fatalf("error = %v, want ErrUpstreamConnect", err)
	}

	// The caller still owns the response and can send a JSON error.
	if rec.Body.Len() != 0 {
		t.Errorf("response written before connect: %q", rec.Body.String())
	}
	if total, _, _ := rig.ledger.Snapshot(); total != 0 {
		t.Errorf("ledger total = %d, want 0", total)
	}
	if len(rig.history.Appends()) != 0 {
		t.Error("history recorded for failed connect")
	}
}

func TestStreamWritesErrorFrameWhenUpstreamDies(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(testutil.DeltaFrame("alpha")))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer up.Close()
	rig := newTestRig(t, sentinel.PicoPerUnit, up.URL)

	f := admit(t, rig, chatRaw)
	rec := httptest.NewRecorder()
	if err := rig.svc.Stream(context.Background(), rec, f); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "alpha") {
		t.Errorf("delivered bytes lost: %q", body)
	}
	if !strings.Contains(body, "upstream_stream_error") {
		t.Errorf("no error frame in %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream not terminated: %q", body)
	}

	// What was delivered stays billed.
	total, _, _ := rig.ledger.Snapshot()
	if want := 2*testInputPico + 1*testOutputPico; total != want {
		t.Errorf("ledger total = %d, want %d", total, want)
	}
}
