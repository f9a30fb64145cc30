package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// DefaultFeedURL is the public LiteLLM model price catalog.
const DefaultFeedURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

// maxFeedBytes caps the price feed response size (the feed is ~2 MB).
const maxFeedBytes = 16 << 20

// noisyVariantSuffixes are feed ids excluded because a base entry exists.
var noisyVariantSuffixes = []string{"-instruct", "-latest", ":0", "-v1:0"}

// FetcherConfig controls feed parsing and currency handling.
type FetcherConfig struct {
	URL string
	// NativePrefixes are model families whose feed prices are already in the
	// display currency; no multiplier is applied.
	NativePrefixes []string
	// MultiplierPrefixes are families whose feed prices convert to the
	// display currency at Multiplier (e.g. USD-priced deepseek shown in CNY).
	MultiplierPrefixes []string
	Multiplier         float64
	// Protected models are never emitted by Fetch, so manually stored
	// prices survive refreshes.
	Protected []string
	Client    *http.Client
}

// Fetcher retrieves and filters the external price feed.
type Fetcher struct {
	url       string
	native    []string
	contrib   []string
	mult      float64
	protected map[string]struct{}
	client    *http.Client
}

// NewFetcher builds a Fetcher from cfg, applying defaults for the URL,
// multiplier and HTTP client.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		url:       cfg.URL,
		native:    cfg.NativePrefixes,
		contrib:   cfg.MultiplierPrefixes,
		mult:      cfg.Multiplier,
		protected: make(map[string]struct{}, len(cfg.Protected)),
		client:    cfg.Client,
	}
	if f.url == "" {
		f.url = DefaultFeedURL
	}
	if f.mult <= 0 {
		f.mult = 1
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 30 * time.Second}
	}
	for _, m := range cfg.Protected {
		f.protected[Simplify(Normalize(m))] = struct{}{}
	}
	return f
}

// Fetch downloads the feed and returns display-currency prices keyed by
// simplified model id. Zero-priced entries, noisy variants and protected
// models are dropped; on id collision the first entry wins.
func (f *Fetcher) Fetch(ctx context.Context) (map[string]sentinel.ModelPrice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("pricing: build feed request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing: feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("pricing: read feed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("pricing: feed is not valid JSON")
	}

	out := make(map[string]sentinel.ModelPrice)
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		id := key.String()
		if id == "sample_spec" {
			return true
		}
		input := value.Get("input_cost_per_token").Float()
		output := value.Get("output_cost_per_token").Float()
		if input <= 0 && output <= 0 {
			return true
		}

		norm := Normalize(id)
		if isNoisyVariant(norm) {
			return true
		}
		simple := Simplify(norm)
		if _, ok := f.protected[simple]; ok {
			return true
		}
		if _, ok := out[simple]; ok {
			return true
		}

		out[simple] = sentinel.ModelPrice{
			Input:      input,
			Output:     output,
			Multiplier: f.multiplierFor(simple),
		}
		return true
	})
	return out, nil
}

// multiplierFor resolves the currency multiplier for a model id: native
// display-currency families get 1, configured conversion families get the
// configured multiplier.
func (f *Fetcher) multiplierFor(id string) float64 {
	for _, p := range f.native {
		if strings.HasPrefix(id, p) {
			return 1
		}
	}
	for _, p := range f.contrib {
		if strings.HasPrefix(id, p) {
			return f.mult
		}
	}
	return 1
}

// isNoisyVariant reports feed ids excluded outright. Dated variants are not
// excluded here; Simplify collapses them onto their base entry instead.
func isNoisyVariant(id string) bool {
	for _, suf := range noisyVariantSuffixes {
		if strings.HasSuffix(id, suf) {
			return true
		}
	}
	return false
}
