// Package worker hosts the gateway's long-running background loops:
// asynchronous history persistence, scheduled price feed refresh and
// expired session sweeping.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
