package query

import "context"

// Invalidation is the message exchanged between caches sharing a backend.
type Invalidation struct {
	Key    Key    `json:"key"`
	Prefix bool   `json:"prefix,omitempty"`
	Origin string `json:"origin,omitempty"`
	// Timestamp is set by the publisher in Unix nanoseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Broadcaster fans invalidations out to other processes. Subscribe blocks
// until ctx is done or the transport fails.
type Broadcaster interface {
	Publish(ctx context.Context, inv Invalidation) error
	Subscribe(ctx context.Context, fn func(Invalidation)) error
	Close() error
}
