package domain

import "context"

// Transport is a messaging system the relay can poll and send through.
type Transport interface {
	Name() string
	// Send delivers text to address. Failures are returned, never retried.
	Send(ctx context.Context, address, text string) error
	// Poll returns the events received since the previous call. A transport
	// that cannot be reached returns an error, not an empty batch.
	Poll(ctx context.Context) ([]InboundEvent, error)
}

// HealthChecker is implemented by transports and providers that can probe
// their backing service.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// AddressValidator is implemented by transports with an address syntax.
type AddressValidator interface {
	ValidateAddress(address string) error
}
