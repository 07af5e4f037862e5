package meshcord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sargonas/meshcord/internal/adapters/observability"
	"github.com/sargonas/meshcord/internal/adapters/queue"
	"github.com/sargonas/meshcord/internal/adapters/store"
	"github.com/sargonas/meshcord/internal/app/pipeline"
	"github.com/sargonas/meshcord/internal/ports"
)

// PublisherConfig configures the store-backed publisher used by callers
// that bring their own packet source.
type PublisherConfig struct {
	// Filters enables forwarding per message kind. Nil takes the default
	// set, which is everything except routing and unknown.
	Filters map[MessageKind]bool

	// ShowSignal appends the SNR and RSSI line to formatted messages. Nil
	// means on.
	ShowSignal *bool

	// MaxChunkSize bounds each chunk handed to the sink.
	MaxChunkSize int

	QueueCapacity int
	QueuePolicy   OverflowPolicy

	// Store holds the dedup records and the node registry.
	Store StoreConfig

	RetryAttempts  int
	RetryBackoffMS int

	// Transform, when set, runs between classification and formatting.
	Transform Transformer
}

// applyDefaults fills in sane thresholds so callers only override what they
// need.
func (c *PublisherConfig) applyDefaults() {
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 1900
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 256
	}
	if c.QueuePolicy == "" {
		c.QueuePolicy = OverflowBlock
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "./data/meshcord.db"
	}
	if c.Store.RetentionHours == 0 {
		c.Store.RetentionHours = 24
	}
	if c.Store.SweepIntervalMin == 0 {
		c.Store.SweepIntervalMin = 60
	}
	if c.RetryBackoffMS == 0 {
		c.RetryBackoffMS = 750
	}
}

func (c *PublisherConfig) validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be \"sqlite\" or \"postgres\", got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if !c.QueuePolicy.Valid() {
		return fmt.Errorf("queue policy must be one of block, drop_newest, drop_oldest")
	}
	return nil
}

// Publisher exposes the dedup, format and deliver pipeline to external
// packet producers. Packets pushed through Publish come out of the sink
// callback as formatted chunks, deduplicated across restarts by the SQL
// store.
type Publisher struct {
	pipe  *pipeline.Pipeline
	queue *queue.MemQueue
	store *store.SQLStore
	obs   ports.Observability

	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewPublisher wires a SQL store, a bounded queue and a sink callback so
// callers can push arbitrary packets while reusing the dedup and delivery
// policies. The returned publisher owns the store and must be Closed.
func NewPublisher(cfg *PublisherConfig, sink ChunkSink) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink callback is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelOpen()
	st, err := store.Open(openCtx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	q := queue.NewMemQueue(cfg.QueueCapacity, cfg.QueuePolicy)
	obs := observability.NewPromObs(nil)
	fwd := NewCallbackForwarder("publisher", cfg.MaxChunkSize, sink)

	pipe := pipeline.New(st, st, q, obs, pipeline.Config{
		Filters:      cfg.Filters,
		ShowSignal:   cfg.ShowSignal == nil || *cfg.ShowSignal,
		MaxChunkSize: cfg.MaxChunkSize,
		Transform:    cfg.Transform,
	})
	worker := pipeline.NewWorker(q, fwd, nil, obs, pipeline.WorkerConfig{
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pub := &Publisher{
		pipe:   pipe,
		queue:  q,
		store:  st,
		obs:    obs,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}

	// The worker drains on queue close, so shutdown delivers what was
	// already accepted before the sweeper context is torn down.
	go func() {
		defer close(pub.doneCh)
		_ = worker.Run(context.Background())
	}()
	go store.RunSweeper(ctx, st,
		time.Duration(cfg.Store.SweepIntervalMin)*time.Minute,
		time.Duration(cfg.Store.RetentionHours)*time.Hour,
		obs)

	return pub, nil
}

// Publish runs one packet through the pipeline. Duplicates, filtered kinds
// and registry-only frames are absorbed here; anything that survives
// arrives at the sink callback as formatted chunks.
func (p *Publisher) Publish(ctx context.Context, pkt *RawPacket) error {
	if pkt == nil {
		return fmt.Errorf("packet is required")
	}
	return p.pipe.Process(ctx, pkt)
}

// Close stops accepting packets, waits for queued deliveries to drain,
// then releases the store. The wait respects the provided context.
func (p *Publisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.queue.Close()
	})

	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.cancel()
	return p.store.Close()
}
