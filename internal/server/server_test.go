package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/budget"
	"github.com/jinzhao-rjb/DeepSentine/internal/pricing"
	"github.com/jinzhao-rjb/DeepSentine/internal/proxy"
	"github.com/jinzhao-rjb/DeepSentine/internal/testutil"
	"github.com/jinzhao-rjb/DeepSentine/internal/upstream"
)

// fakeRefresher satisfies PriceRefresher with canned results.
type fakeRefresher struct {
	n   int
	err error
}

func (f fakeRefresher) Refresh(context.Context) (int, error) { return f.n, f.err }

type serverRig struct {
	handler http.Handler
	ledger  *budget.Accumulator
	catalog *pricing.Catalog
	store   *testutil.FakeStore
	events  *testutil.SinkEvents
	history *testutil.SinkHistory
	deps    Deps
}

// newServerRig wires a full handler over word-count tokenization and a
// single upstream family at upstreamURL. Prices: 1e6 pico per input token,
// 2e6 per output token.
func newServerRig(t testing.TB, limit sentinel.Picounits, upstreamURL string) *serverRig {
	t.Helper()

	catalog := pricing.NewCatalog()
	catalog.Replace(map[string]sentinel.ModelPrice{
		"deepseek-chat": {Input: 1e-6, Output: 2e-6},
		"qwen-plus":     {Input: 1e-6, Output: 2e-6},
	})

	reg, err := upstream.NewRegistry([]upstream.Family{
		{Name: "deepseek", BaseURL: upstreamURL, Prefixes: []string{"deepseek"}},
		{Name: "dashscope", BaseURL: upstreamURL, Prefixes: []string{"qwen", "qwq"}},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	rig := &serverRig{
		ledger:  budget.New(limit),
		catalog: catalog,
		store:   testutil.NewFakeStore(),
		events:  &testutil.SinkEvents{},
		history: &testutil.SinkHistory{},
	}
	svc := proxy.New(proxy.Deps{
		Catalog:   catalog,
		Counter:   testutil.WordCounter{},
		Ledger:    rig.ledger,
		Sessions:  rig.store,
		Upstreams: reg,
		Events:    rig.events,
		History:   rig.history,
	})
	rig.deps = Deps{
		Proxy:    svc,
		Ledger:   rig.ledger,
		Sessions: rig.store,
		Catalog:  catalog,
	}
	rig.handler = New(rig.deps)
	return rig
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rig := newServerRig(t, sentinel.PicoPerUnit, "http://unused.invalid")

	rec := get(rig.handler, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	rig := newServerRig(t, sentinel.PicoPerUnit, "http://unused.invalid")

	rec := get(rig.handler, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzFailing(t *testing.T) {
	t.Parallel()
	rig := newServerRig(t, sentinel.PicoPerUnit, "http://unused.invalid")
	rig.deps.ReadyCheck = func(context.Context) error { return errors.New("db down") }
	h := New(rig.deps)

	rec := get(h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	rig := newServerRig(t, sentinel.PicoPerUnit, "http://unused.invalid")

	rec := get(rig.handler, "/healthz")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}
}

func TestChatCompletionRejections(t *testing.T) {
	t.Parallel()
	// A one-picounit budget rejects any priced prompt at admission.
	rig := newServerRig(t, 1, "http://unused.invalid")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"model"`, http.StatusBadRequest},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusBadRequest},
		{"unknown model", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, http.StatusNotFound},
		{"over budget", `{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(rig.handler, "/v1/chat/completions", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestChatCompletionStream(t *testing.T) {
	t.Parallel()

	frames := []string{
		testutil.DeltaFrame("hello from the model"),
		testutil.UsageFrame(1, 4),
		testutil.DoneFrame,
	}
	up := testutil.NewSSEUpstream(t, frames...)
	rig := newServerRig(t, sentinel.PicoPerUnit, up.URL())

	rec := postJSON(rig.handler, "/v1/chat/completions",
		`{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if got, want := rec.Body.String(), strings.Join(frames, ""); got != want {
		t.Errorf("stream body differs:\n got %q\nwant %q", got, want)
	}
	if !rec.Flushed {
		t.Error("stream was never flushed through the middleware chain")
	}

	// 1 prompt word + 4 output words.
	total, _, _ := rig.ledger.Snapshot()
	if want := sentinel.Picounits(1_000_000 + 4*2_000_000); total != want {
		t.Errorf("ledger total = %d, want %d", total, want)
	}
}

func TestChatCompletionNonStreaming(t *testing.T) {
	t.Parallel()

	response := `{"id":"cmpl-9","choices":[{"message":{"role":"assistant","content":"hi there"}}],` +
		`"usage":{"prompt_tokens":1,"completion_tokens":2}}`
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
	defer up.Close()
	rig := newServerRig(t, sentinel.PicoPerUnit, up.URL)

	rec := postJSON(rig.handler, "/v1/chat/completions",
		`{"model":"deepseek-chat","stream":false,"messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != response {
		t.Errorf("body = %q, want upstream response relayed", rec.Body.String())
	}
}

func TestChatCompletionUpstreamDown(t *testing.T) {
	t.Parallel()

	// Nothing is listening on the resolved address.
	rig := newServerRig(t, sentinel.PicoPerUnit, "http://127.0.0.1:1")

	rec := postJSON(rig.handler, "/v1/chat/completions",
		`{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502; body = %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletionRelaysProviderRejection(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer up.Close()
	rig := newServerRig(t, sentinel.PicoPerUnit, up.URL)

	rec := postJSON(rig.handler, "/v1/chat/completions",
		`{"model":"deepseek-chat","stream":false,"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want provider's 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rate limited") {
		t.Errorf("provider body not relayed: %q", rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()
	rig := newServerRig(t, sentinel.PicoPerUnit, "http://unused.invalid")

	rec := get(rig.handler, "/v1/models")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "list" || len(resp.Data) != 2 {
		t.Fatalf("resp = %+v, want 2 models", resp)
	}
	if resp.Data[0].ID != "deepseek-chat" {
		t.Errorf("models not sorted: %+v", resp.Data)
	}
}
