package ports

import (
	"context"

	"github.com/sargonas/meshcord/internal/domain"
)

// DeadLetter keeps a durable trace of deliveries abandoned after retry
// exhaustion. Records are never replayed; re-sending could break the
// at-most-once forwarding guarantee.
type DeadLetter interface {
	Record(ctx context.Context, d *domain.Delivery, reason string) error
	Stats() DeadLetterStats
	Close() error
}

type DeadLetterStats struct {
	Records   int64
	SizeBytes int64
}
