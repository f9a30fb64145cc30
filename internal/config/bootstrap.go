package config

import (
	"context"
	"fmt"
	"log/slog"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
)

// Bootstrap writes the config file's manual model prices to the store.
// Manual entries are display-currency already and land before the first
// feed refresh; the refresh worker's protected set keeps them from being
// overwritten later.
func Bootstrap(ctx context.Context, cfg *Config, store storage.PriceStore) error {
	if len(cfg.Pricing.Models) == 0 {
		return nil
	}
	prices := make(map[string]sentinel.ModelPrice, len(cfg.Pricing.Models))
	for model, p := range cfg.Pricing.Models {
		prices[model] = sentinel.ModelPrice{Input: p.Input, Output: p.Output}
	}
	if err := store.SavePrices(ctx, prices); err != nil {
		return fmt.Errorf("seed prices: %w", err)
	}
	slog.Info("bootstrapped manual prices", "models", len(prices))
	return nil
}
