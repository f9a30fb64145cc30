package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

const (
	// maxErrorBody bounds how much of a failed response is pulled into the
	// error message.
	maxErrorBody = 8 << 10
	// maxResponseBody caps a non-streaming completion read.
	maxResponseBody = 32 << 20
)

// StatusError reports a non-2xx response from a provider API.
type StatusError struct {
	Family     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: HTTP %d: %s", e.Family, e.StatusCode, e.Body)
}

// Unwrap maps provider rejections onto the gateway's connect sentinel so
// handlers can translate them with errors.Is.
func (e *StatusError) Unwrap() error { return sentinel.ErrUpstreamConnect }

// Client talks to one provider family. Auth lives in the transport chain;
// no timeout is set on the http.Client because streams run until the
// request context ends.
type Client struct {
	family  string
	baseURL string
	http    *http.Client
}

// NewClient builds a family client over the shared base transport.
func NewClient(f Family, base http.RoundTripper) *Client {
	return &Client{
		family:  f.Name,
		baseURL: strings.TrimRight(f.BaseURL, "/"),
		http: &http.Client{
			Transport: &apiKeyTransport{key: f.APIKey, base: base},
		},
	}
}

// Family returns the family name this client serves.
func (c *Client) Family() string { return c.family }

// OpenStream POSTs a streaming chat completion and hands back the live
// response. The caller owns resp.Body; cancelling ctx aborts the stream.
func (c *Client) OpenStream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream %s: create request: %w", c.family, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %v: %w", c.family, err, sentinel.ErrUpstreamConnect)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, parseStatusError(c.family, resp)
	}
	return resp, nil
}

// Complete POSTs a non-streaming chat completion and returns the response
// body and upstream status.
func (c *Client) Complete(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("upstream %s: create request: %w", c.family, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream %s: %v: %w", c.family, err, sentinel.ErrUpstreamConnect)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, parseStatusError(c.family, resp)
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("upstream %s: read response: %w", c.family, err)
	}
	return out, resp.StatusCode, nil
}

func parseStatusError(family string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Family: family, StatusCode: resp.StatusCode, Body: string(body)}
}
