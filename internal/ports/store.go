package ports

import (
	"context"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
)

// DedupStore records which fingerprints have already been processed.
type DedupStore interface {
	HasSeen(ctx context.Context, fp domain.Fingerprint) (bool, error)

	// MarkSeen is an atomic check-and-insert: of all callers racing on the
	// same fingerprint, exactly one observes inserted=true.
	MarkSeen(ctx context.Context, fp domain.Fingerprint, linkTag string, ts time.Time) (inserted bool, err error)

	// Prune deletes records older than the horizon. Runs off the hot path.
	Prune(ctx context.Context, horizon time.Duration) (removed int64, err error)
}

// NodeRegistry is the long-lived device id to identity cache.
type NodeRegistry interface {
	// UpsertIdentity applies last-write-wins by UpdatedAt on the name and
	// model fields; LastSeen only ever moves forward.
	UpsertIdentity(ctx context.Context, id domain.NodeIdentity) error
	TouchLastSeen(ctx context.Context, node domain.NodeID, ts time.Time) error
	ResolveName(ctx context.Context, node domain.NodeID) (domain.NodeIdentity, bool, error)
	ListNodes(ctx context.Context) ([]domain.NodeIdentity, error)

	// Reset drops every node record. Administrative use only.
	Reset(ctx context.Context) error
}
