package sqlite

import (
	"context"
	"fmt"
	"time"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// LoadPrices returns the stored price table. An empty database yields an
// empty map.
func (s *Store) LoadPrices(ctx context.Context) (map[string]sentinel.ModelPrice, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT model, input, output, multiplier FROM model_prices`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]sentinel.ModelPrice)
	for rows.Next() {
		var model string
		var p sentinel.ModelPrice
		if err := rows.Scan(&model, &p.Input, &p.Output, &p.Multiplier); err != nil {
			return nil, fmt.Errorf("sqlite: scan price: %w", err)
		}
		out[model] = p
	}
	return out, rows.Err()
}

// SavePrices upserts the given models in one transaction. Stored models
// absent from the map are left alone so manual entries survive refreshes.
func (s *Store) SavePrices(ctx context.Context, prices map[string]sentinel.ModelPrice) error {
	if len(prices) == 0 {
		return nil
	}
	updatedAt := s.now().UTC().Format(time.RFC3339)

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save prices: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO model_prices (model, input, output, multiplier, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(model) DO UPDATE SET
		 input = excluded.input,
		 output = excluded.output,
		 multiplier = excluded.multiplier,
		 updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for model, p := range prices {
		mult := p.Multiplier
		if mult <= 0 {
			mult = 1
		}
		if _, err := stmt.ExecContext(ctx, model, p.Input, p.Output, mult, updatedAt); err != nil {
			return fmt.Errorf("sqlite: upsert price %q: %w", model, err)
		}
	}
	return tx.Commit()
}
