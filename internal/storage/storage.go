// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// DefaultSessionTTL is the sliding window a session stays readable after
// its last append.
const DefaultSessionTTL = 24 * time.Hour

// SessionStore persists conversation history keyed by session id. Writes
// slide the session's TTL; reads of expired or unknown sessions return an
// empty slice, not an error.
type SessionStore interface {
	// Append adds msgs to the end of the session in order and extends
	// its TTL.
	Append(ctx context.Context, sessionID string, msgs []sentinel.Message) error
	// Messages returns the session's messages oldest-first. Expired or
	// missing sessions yield an empty slice.
	Messages(ctx context.Context, sessionID string) ([]sentinel.Message, error)
	// ResetTTL extends the session's lifetime without writing messages.
	ResetTTL(ctx context.Context, sessionID string) error
	Close() error
}

// Purger is implemented by stores that accumulate expired rows needing an
// explicit sweep. The in-memory store evicts on its own and does not
// implement it.
type Purger interface {
	// PurgeExpired removes expired sessions and returns how many were
	// deleted.
	PurgeExpired(ctx context.Context) (int64, error)
}

// PriceStore persists the model price table between restarts so the
// gateway can bill without a fetch on boot.
type PriceStore interface {
	// LoadPrices returns the stored table, empty when never saved.
	LoadPrices(ctx context.Context) (map[string]sentinel.ModelPrice, error)
	// SavePrices replaces stored entries for the given models in one
	// transaction. Models absent from the map keep their stored rows.
	SavePrices(ctx context.Context, prices map[string]sentinel.ModelPrice) error
}

// Store combines the persistence interfaces backing the gateway.
type Store interface {
	SessionStore
	PriceStore
	Ping(ctx context.Context) error
}
