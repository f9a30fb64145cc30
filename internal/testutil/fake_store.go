// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"sync"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// The Fn fields, when set, override the default behavior so tests can
// inject failures.
type FakeStore struct {
	AppendFn   func(ctx context.Context, sessionID string, msgs []sentinel.Message) error
	MessagesFn func(ctx context.Context, sessionID string) ([]sentinel.Message, error)
	LoadFn     func(ctx context.Context) (map[string]sentinel.ModelPrice, error)
	SaveFn     func(ctx context.Context, prices map[string]sentinel.ModelPrice) error
	PingFn     func(ctx context.Context) error

	mu       sync.RWMutex
	sessions map[string][]sentinel.Message
	prices   map[string]sentinel.ModelPrice
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		sessions: make(map[string][]sentinel.Message),
		prices:   make(map[string]sentinel.ModelPrice),
	}
}

// Seed pre-populates a session, bypassing any AppendFn override.
func (s *FakeStore) Seed(sessionID string, msgs ...sentinel.Message) {
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msgs...)
	s.mu.Unlock()
}

// Append adds msgs to the session tail.
func (s *FakeStore) Append(ctx context.Context, sessionID string, msgs []sentinel.Message) error {
	if s.AppendFn != nil {
		return s.AppendFn(ctx, sessionID, msgs)
	}
	s.Seed(sessionID, msgs...)
	return nil
}

// Messages returns a copy of the session's messages oldest-first.
func (s *FakeStore) Messages(ctx context.Context, sessionID string) ([]sentinel.Message, error) {
	if s.MessagesFn != nil {
		return s.MessagesFn(ctx, sessionID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	out := make([]sentinel.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// ResetTTL is a no-op; the fake never expires sessions.
func (s *FakeStore) ResetTTL(context.Context, string) error { return nil }

// LoadPrices returns a copy of the stored price table.
func (s *FakeStore) LoadPrices(ctx context.Context) (map[string]sentinel.ModelPrice, error) {
	if s.LoadFn != nil {
		return s.LoadFn(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]sentinel.ModelPrice, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out, nil
}

// SavePrices merges the given models into the stored table.
func (s *FakeStore) SavePrices(ctx context.Context, prices map[string]sentinel.ModelPrice) error {
	if s.SaveFn != nil {
		return s.SaveFn(ctx, prices)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range prices {
		s.prices[k] = v
	}
	return nil
}

// Ping delegates to PingFn or succeeds.
func (s *FakeStore) Ping(ctx context.Context) error {
	if s.PingFn != nil {
		return s.PingFn(ctx)
	}
	return nil
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
