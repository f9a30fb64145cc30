package pricing

import (
	"sync"
	"testing"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

func TestCatalogGet(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.Replace(map[string]sentinel.ModelPrice{
		"deepseek-chat": {Input: 0.000001, Output: 0.000002},
		"qwen-max":      {Input: 0.0000024, Output: 0.0000096},
	})

	p, ok := c.Get("deepseek-chat")
	if !ok {
		t.Fatal("deepseek-chat not found")
	}
	if p.InputPico != 1_000_000 || p.OutputPico != 2_000_000 {
		t.Errorf("prices = %+v, want 1e6/2e6 picounits", p)
	}

	if _, ok := c.Get("no-such-model"); ok {
		t.Error("unknown model found")
	}
}

func TestCatalogGetNormalizes(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.Replace(map[string]sentinel.ModelPrice{
		"deepseek-chat": {Input: 1e-6, Output: 2e-6},
		"qwen-max":      {Input: 1e-6, Output: 2e-6},
	})

	tests := []struct {
		name  string
		model string
	}{
		{name: "uppercase", model: "DeepSeek-Chat"},
		{name: "provider prefix", model: "deepseek/deepseek-chat"},
		{name: "family variant", model: "qwen-max-2024-06-28"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, ok := c.Get(tt.model); !ok {
				t.Errorf("Get(%q) missed", tt.model)
			}
		})
	}
}

func TestCatalogMultiplierApplied(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.Replace(map[string]sentinel.ModelPrice{
		"deepseek-chat": {Input: 0.000001, Output: 0.000001, Multiplier: 7.2},
	})

	p, _ := c.Get("deepseek-chat")
	if p.OutputPico != 7_200_000 {
		t.Errorf("OutputPico = %d, want 7200000 (multiplier applied at load)", p.OutputPico)
	}
}

func TestCatalogReplaceIsAtomic(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.Replace(map[string]sentinel.ModelPrice{"m": {Input: 1e-6, Output: 1e-6}})

	// Readers racing a swap must always see a complete snapshot.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if p, ok := c.Get("m"); ok && p.InputPico == 0 {
						t.Error("observed zero price from a live snapshot")
						return
					}
				}
			}
		}()
	}
	for i := range 100 {
		v := float64(i+1) * 1e-6
		c.Replace(map[string]sentinel.ModelPrice{"m": {Input: v, Output: v}})
	}
	close(stop)
	wg.Wait()
}

func TestCatalogModels(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	c.Replace(map[string]sentinel.ModelPrice{
		"glm-4":         {Input: 1e-6, Output: 1e-6},
		"deepseek-chat": {Input: 1e-6, Output: 1e-6},
	})

	models := c.Models()
	if len(models) != 2 || models[0] != "deepseek-chat" || models[1] != "glm-4" {
		t.Errorf("Models() = %v, want sorted [deepseek-chat glm-4]", models)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}
