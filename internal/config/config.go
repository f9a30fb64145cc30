// Package config handles YAML configuration loading with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Budget    BudgetConfig    `yaml:"budget"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	History   HistoryConfig   `yaml:"history"`
	Push      PushConfig      `yaml:"push"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings. There is deliberately no write
// timeout knob: SSE responses stay open for the life of the stream.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	DSN string `yaml:"dsn"` // sqlite path; "" or "memory" selects the in-process store
}

// BudgetConfig holds the boot-time spending cap.
type BudgetConfig struct {
	InitialLimit float64 `yaml:"initial_limit"` // display currency
}

// PricingConfig controls the external price feed and manual price entries.
type PricingConfig struct {
	RefreshURL      string        `yaml:"refresh_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// CNYMultiplier converts USD feed prices to display CNY for the
	// families listed in MultiplierPrefixes.
	CNYMultiplier      float64  `yaml:"cny_multiplier"`
	MultiplierPrefixes []string `yaml:"multiplier_prefixes"`
	// CNYPrefixes name families whose feed prices are CNY already.
	CNYPrefixes []string `yaml:"cny_prefixes"`
	// ProtectedModels never have their stored prices overwritten by a feed
	// refresh. Models with manual entries below are protected implicitly.
	ProtectedModels []string                   `yaml:"protected_models"`
	Models          map[string]ModelPriceEntry `yaml:"models"`
}

// ModelPriceEntry is a manual per-token price in display currency.
type ModelPriceEntry struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Protected returns the full protected-model set: the explicit list plus
// every model with a manual price entry.
func (p PricingConfig) Protected() []string {
	out := make([]string, 0, len(p.ProtectedModels)+len(p.Models))
	out = append(out, p.ProtectedModels...)
	for model := range p.Models {
		out = append(out, model)
	}
	return out
}

// UpstreamConfig holds the provider routing table.
type UpstreamConfig struct {
	Families []FamilyEntry `yaml:"families"`
}

// FamilyEntry is one OpenAI-compatible provider endpoint in the config file.
type FamilyEntry struct {
	Name     string   `yaml:"name"`
	BaseURL  string   `yaml:"base_url"`
	APIKey   string   `yaml:"api_key"`
	Prefixes []string `yaml:"prefixes"`
}

// HistoryConfig holds session history settings.
type HistoryConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	QueueSize     int           `yaml:"queue_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PushConfig holds WebSocket push channel settings.
type PushConfig struct {
	Buffer         int      `yaml:"buffer"`
	OriginPatterns []string `yaml:"origin_patterns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"` // defaults to true when nil
}

// MetricsEnabled reports whether the metrics endpoint is on.
func (m MetricsConfig) MetricsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Default returns the built-in configuration: loopback server, in-process
// store, a 10-unit budget, the stock provider table and a daily price
// refresh.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:3001",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			DSN: "deepsentinel.db",
		},
		Budget: BudgetConfig{
			InitialLimit: 10.0,
		},
		Pricing: PricingConfig{
			RefreshInterval:    24 * time.Hour,
			CNYMultiplier:      7.2,
			MultiplierPrefixes: []string{"deepseek"},
			CNYPrefixes:        []string{"qwen", "glm", "zhipu", "yi-"},
		},
		Upstream: UpstreamConfig{
			Families: []FamilyEntry{
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
			},
		},
		History: HistoryConfig{
			TTL:           24 * time.Hour,
			QueueSize:     1024,
			SweepInterval: 10 * time.Minute,
		},
		Push: PushConfig{
			Buffer: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{SampleRate: 1.0},
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
// Unset variables are left as-is.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// applyEnvKeys fills empty family API keys from <NAME>_API_KEY environment
// variables so the stock provider table works without a config file.
func (c *Config) applyEnvKeys() {
	for i, f := range c.Upstream.Families {
		if f.APIKey != "" {
			continue
		}
		envName := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")) + "_API_KEY"
		if key, ok := os.LookupEnv(envName); ok {
			c.Upstream.Families[i].APIKey = key
		}
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and family API keys from the environment, then validates it. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvKeys()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is empty")
	}
	if c.Budget.InitialLimit < 0 {
		return fmt.Errorf("config: budget.initial_limit %v is negative", c.Budget.InitialLimit)
	}
	if len(c.Upstream.Families) == 0 {
		return fmt.Errorf("config: no upstream families")
	}
	seen := make(map[string]string)
	for _, f := range c.Upstream.Families {
		if f.Name == "" || f.BaseURL == "" {
			return fmt.Errorf("config: upstream family needs name and base_url")
		}
		for _, p := range f.Prefixes {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if owner, dup := seen[p]; dup {
				return fmt.Errorf("config: prefix %q claimed by %q and %q", p, owner, f.Name)
			}
			seen[p] = f.Name
		}
	}
	if c.History.QueueSize < 0 {
		return fmt.Errorf("config: history.queue_size %d is negative", c.History.QueueSize)
	}
	if c.Push.Buffer < 0 {
		return fmt.Errorf("config: push.buffer %d is negative", c.Push.Buffer)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	if sr := c.Telemetry.Tracing.SampleRate; sr < 0 || sr > 1 {
		return fmt.Errorf("config: tracing.sample_rate %v outside [0,1]", sr)
	}
	return nil
}
