package client

import (
	"context"

	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// SubscribeSyncState calls fn with the current queue state and then on every
// transition, in order. fn must not call mutating Client methods. The
// returned func unsubscribes.
func (c *Client) SubscribeSyncState(fn func(syncqueue.SyncState)) (unsubscribe func()) {
	return c.queue.Subscribe(fn)
}

// SyncState returns the current queue state.
func (c *Client) SyncState() syncqueue.SyncState {
	return c.queue.State()
}

// RetryRejected moves every rejected operation back to pending and returns
// how many were moved.
func (c *Client) RetryRejected() int {
	return c.queue.RetryRejected()
}

// RetryOperation moves one rejected operation back to pending.
func (c *Client) RetryOperation(id string) error {
	return c.queue.Retry(id)
}

// DiscardOperation drops a rejected operation for good.
func (c *Client) DiscardOperation(id string) error {
	return c.queue.Discard(id)
}

// Flush blocks until every queued operation has been attempted once and
// nothing is running. Operations waiting on a retry timer do not hold it up.
func (c *Client) Flush(ctx context.Context) error {
	return c.queue.Flush(ctx)
}
