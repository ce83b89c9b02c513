package prediction

import "context"

// Handler receives one delivery. Returning false leaves the message
// unconsumed so it stays available to other consumers.
type Handler func(msg Message) bool

type SubscribeOptions struct {
	// Exclusive rejects a second subscription to the same destination.
	Exclusive bool
	// AutoCleanup removes the destination once the subscription is cancelled.
	AutoCleanup bool
}

// Transport decouples the RPC client from the underlying message broker.
type Transport interface {
	Publish(ctx context.Context, destination string, msg Message) error

	// Subscribe starts delivering messages for destination to handler and
	// returns a token for Cancel.
	Subscribe(ctx context.Context, destination string, handler Handler, opts SubscribeOptions) (string, error)

	Cancel(ctx context.Context, token string) error
}
