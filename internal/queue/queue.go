// Package queue provides the at-least-once run delivery channel between the
// API layer and the engine workers. Claims are leases: a worker must renew
// its lease while processing, and an expired lease makes the item
// reclaimable by any worker.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Pop when nothing became available within the
	// blocking interval.
	ErrEmpty = errors.New("queue empty")

	// ErrLeaseLost is returned by Renew or Release when the lease expired
	// and the item was (or may have been) reclaimed by another worker.
	ErrLeaseLost = errors.New("lease lost")
)

// Item identifies one queued run.
type Item struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
}

// Handle is a time-bounded exclusive claim on one item.
type Handle interface {
	// Item returns the claimed item.
	Item() Item

	// Renew extends the lease by the given duration from now.
	Renew(ctx context.Context, lease time.Duration) error

	// Release acknowledges the item as processed and removes it.
	Release(ctx context.Context) error

	// Abandon returns the item to the pending queue for redelivery.
	Abandon(ctx context.Context) error
}

// Queue is the run delivery contract.
type Queue interface {
	// Push enqueues an item. Pushing the same run id again is allowed; the
	// engine's idempotent resume makes duplicate delivery harmless.
	Push(ctx context.Context, item Item) error

	// Pop claims the next item with the given lease duration. It blocks up
	// to a bounded interval and returns ErrEmpty if nothing arrived.
	Pop(ctx context.Context, lease time.Duration) (Handle, error)

	// Close releases queue resources.
	Close() error
}
