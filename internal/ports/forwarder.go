package ports

import (
	"context"
	"errors"
)

var (
	// ErrDeliveryRejected means the remote refused the message. Retrying the
	// same payload will not help.
	ErrDeliveryRejected = errors.New("meshcord: delivery rejected by remote")

	// ErrDeliveryUnreachable means the remote could not be reached or asked
	// for a slowdown. Retry-eligible.
	ErrDeliveryUnreachable = errors.New("meshcord: remote unreachable")
)

// Forwarder delivers formatted chunks to the chat channel.
type Forwarder interface {
	Send(ctx context.Context, chunk string) error
	MaxChunkSize() int
	Name() string
}
