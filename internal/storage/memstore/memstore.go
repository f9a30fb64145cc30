// Package memstore implements the storage interfaces in memory, for
// development and tests. Sessions live in an otter cache with a sliding
// write-expiry TTL; prices sit behind a plain mutex.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
	"github.com/jinzhao-rjb/DeepSentine/internal/storage"
)

// maxSessions bounds the session cache; W-TinyLFU evicts beyond it.
const maxSessions = 10_000

// Store implements storage.Store without touching disk.
type Store struct {
	sessions *otter.Cache[string, []sentinel.Message]

	mu     sync.RWMutex
	prices map[string]sentinel.ModelPrice
}

// New creates an in-memory store. A non-positive ttl falls back to
// storage.DefaultSessionTTL.
func New(ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = storage.DefaultSessionTTL
	}
	c, err := otter.New[string, []sentinel.Message](&otter.Options[string, []sentinel.Message]{
		MaximumSize:      maxSessions,
		ExpiryCalculator: otter.ExpiryWriting[string, []sentinel.Message](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("memstore: create session cache: %w", err)
	}
	return &Store{
		sessions: c,
		prices:   make(map[string]sentinel.ModelPrice),
	}, nil
}

// Append adds msgs to the session tail. Re-setting the entry slides the
// write-expiry TTL.
func (s *Store) Append(_ context.Context, sessionID string, msgs []sentinel.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	existing, _ := s.sessions.GetIfPresent(sessionID)
	merged := make([]sentinel.Message, 0, len(existing)+len(msgs))
	merged = append(merged, existing...)
	merged = append(merged, msgs...)
	s.sessions.Set(sessionID, merged)
	return nil
}

// Messages returns a copy of the session's messages oldest-first.
func (s *Store) Messages(_ context.Context, sessionID string) ([]sentinel.Message, error) {
	msgs, ok := s.sessions.GetIfPresent(sessionID)
	if !ok {
		return nil, nil
	}
	out := make([]sentinel.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ResetTTL re-sets the entry so the write-expiry clock restarts.
func (s *Store) ResetTTL(_ context.Context, sessionID string) error {
	if msgs, ok := s.sessions.GetIfPresent(sessionID); ok {
		s.sessions.Set(sessionID, msgs)
	}
	return nil
}

// LoadPrices returns a copy of the stored price table.
func (s *Store) LoadPrices(_ context.Context) (map[string]sentinel.ModelPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]sentinel.ModelPrice, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out, nil
}

// SavePrices merges the given models into the stored table.
func (s *Store) SavePrices(_ context.Context, prices map[string]sentinel.ModelPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range prices {
		if v.Multiplier <= 0 {
			v.Multiplier = 1
		}
		s.prices[k] = v
	}
	return nil
}

// Ping always succeeds; there is nothing to reach.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops all cached sessions.
func (s *Store) Close() error {
	s.sessions.InvalidateAll()
	return nil
}
