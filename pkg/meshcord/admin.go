package meshcord

import (
	"context"
	"fmt"
	"io"

	"github.com/sargonas/meshcord/internal/adapters/store"
)

// OpenRegistry opens the node registry configured in cfg for one-off
// administrative access, as used by the nodes and reset-nodes CLI commands.
// The returned closer releases the underlying database.
func OpenRegistry(ctx context.Context, cfg *Config) (NodeRegistry, io.Closer, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}
