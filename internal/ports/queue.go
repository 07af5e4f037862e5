package ports

import (
	"context"
	"errors"

	"github.com/sargonas/meshcord/internal/domain"
)

var (
	ErrQueueClosed = errors.New("meshcord: delivery queue closed")
	ErrQueueFull   = errors.New("meshcord: delivery queue full")
)

// DeliveryQueue is a bounded FIFO between the link workers and the single
// delivery worker. Behavior on a full queue follows the overflow policy the
// queue was built with.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, d *domain.Delivery) error
	Dequeue(ctx context.Context) (*domain.Delivery, error)
	Len() int
	Close()
}
