// Package upstream routes chat-completion traffic to provider API families.
// A family is one OpenAI-compatible endpoint (DashScope, Zhipu, DeepSeek)
// serving every model whose normalized id carries one of its prefixes.
package upstream

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/pricing"
)

// Family describes one provider endpoint and the model-id prefixes it serves.
type Family struct {
	Name     string
	BaseURL  string
	APIKey   string
	Prefixes []string
}

// DefaultFamilies returns the built-in routing table. API keys are filled
// in from configuration.
func DefaultFamilies() []Family {
	return []Family{
		{
			Name:     "dashscope",
			BaseURL:  "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Prefixes: []string{"qwen", "qwq"},
		},
		{
			Name:     "zhipu",
			BaseURL:  "https://open.bigmodel.cn/api/paas/v4",
			Prefixes: []string{"glm"},
		},
		{
			Name:     "deepseek",
			BaseURL:  "https://api.deepseek.com/v1",
			Prefixes: []string{"deepseek"},
		},
	}
}

type prefixRoute struct {
	prefix string
	family string
}

// Registry resolves model ids to family clients by prefix on the
// normalized id. Longest prefix wins.
type Registry struct {
	clients map[string]*Client
	routes  []prefixRoute
}

// NewRegistry builds one Client per family over the shared base transport.
func NewRegistry(families []Family, base http.RoundTripper) (*Registry, error) {
	if len(families) == 0 {
		return nil, fmt.Errorf("upstream: no families configured")
	}
	r := &Registry{clients: make(map[string]*Client, len(families))}
	for _, f := range families {
		if f.Name == "" || f.BaseURL == "" {
			return nil, fmt.Errorf("upstream: family needs name and base url")
		}
		if _, dup := r.clients[f.Name]; dup {
			return nil, fmt.Errorf("upstream: duplicate family %q", f.Name)
		}
		r.clients[f.Name] = NewClient(f, base)
		for _, p := range f.Prefixes {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			r.routes = append(r.routes, prefixRoute{prefix: p, family: f.Name})
		}
	}
	sort.Slice(r.routes, func(i, j int) bool {
		if len(r.routes[i].prefix) != len(r.routes[j].prefix) {
			return len(r.routes[i].prefix) > len(r.routes[j].prefix)
		}
		return r.routes[i].prefix < r.routes[j].prefix
	})
	for i := 1; i < len(r.routes); i++ {
		if r.routes[i].prefix == r.routes[i-1].prefix {
			return nil, fmt.Errorf("upstream: prefix %q claimed by %q and %q",
				r.routes[i].prefix, r.routes[i-1].family, r.routes[i].family)
		}
	}
	return r, nil
}

// Resolve picks the family client for a model id. The id is normalized
// before matching so callers may pass raw client-supplied ids.
func (r *Registry) Resolve(model string) (*Client, error) {
	id := pricing.Normalize(model)
	for _, route := range r.routes {
		if strings.HasPrefix(id, route.prefix) {
			return r.clients[route.family], nil
		}
	}
	return nil, fmt.Errorf("upstream: no family for model %q: %w", model, sentinel.ErrUnknownModel)
}

// Families lists the registered family names, sorted.
func (r *Registry) Families() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
