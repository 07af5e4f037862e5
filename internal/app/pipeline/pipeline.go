package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// Config carries the read-only pipeline policy. Filters and toggles are
// fixed at startup; changing them requires a restart.
type Config struct {
	// Filters maps each message kind to an enable flag. Nil means
	// DefaultFilters.
	Filters map[domain.MessageKind]bool

	// ShowSignal appends the SNR/RSSI line when the radio reported signal
	// data.
	ShowSignal bool

	// MaxChunkSize bounds each formatted chunk. Defaults to 1900, a safety
	// margin under the chat platform's 2000-character limit.
	MaxChunkSize int

	// Transform, when set, runs between classification and formatting.
	// Returning (nil, nil) drops the message without a dedup record.
	Transform ports.Transformer
}

// DefaultFilters enables every kind except routing and unknown, matching
// the out-of-the-box configuration.
func DefaultFilters() map[domain.MessageKind]bool {
	f := make(map[domain.MessageKind]bool, len(domain.Kinds()))
	for _, k := range domain.Kinds() {
		f[k] = k != domain.KindRouting && k != domain.KindUnknown
	}
	return f
}

// Pipeline turns raw packets into queued deliveries: classify, filter,
// dedup, resolve the sender, format, chunk, enqueue. One instance is
// shared by every link worker; all state lives in the store and registry.
type Pipeline struct {
	dedup    ports.DedupStore
	registry ports.NodeRegistry
	queue    ports.DeliveryQueue
	obs      ports.Observability
	cfg      Config
}

func New(dedup ports.DedupStore, registry ports.NodeRegistry, queue ports.DeliveryQueue, obs ports.Observability, cfg Config) *Pipeline {
	if cfg.Filters == nil {
		cfg.Filters = DefaultFilters()
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1900
	}
	return &Pipeline{
		dedup:    dedup,
		registry: registry,
		queue:    queue,
		obs:      obs,
		cfg:      cfg,
	}
}

// Process runs one packet through the full pass. A returned error means a
// store failure stopped the pass before the dedup decision; the packet is
// abandoned without a record and stays eligible if it ever arrives again.
// Registry write failures degrade to logs: they cannot cause a duplicate
// forward, only a stale name.
func (p *Pipeline) Process(ctx context.Context, raw *domain.RawPacket) error {
	now := time.Now()

	// Node-database sync frames update the registry and nothing else.
	if raw.RegistryOnly {
		if raw.Identity == nil {
			return nil
		}
		if err := p.registry.UpsertIdentity(ctx, *raw.Identity); err != nil {
			return fmt.Errorf("pipeline: registry sync: %w", err)
		}
		p.obs.IncCounter("meshcord_registry_updates_total", 1)
		return nil
	}

	// Any packet referencing a node proves the node is alive, even if the
	// packet is later filtered or dropped as a duplicate.
	if raw.From != 0 {
		if err := p.registry.TouchLastSeen(ctx, raw.From, now); err != nil {
			p.obs.LogError("registry touch failed", err,
				ports.Field{Key: "node", Value: raw.From.Hex()})
		}
	}

	kind := domain.KindForPort(raw.Port)
	if !raw.PayloadOK {
		// Undecodable payloads degrade to unknown instead of failing.
		kind = domain.KindUnknown
	}

	// The original firmware emits empty keepalive text packets; nothing to
	// forward and nothing worth a dedup record.
	if kind == domain.KindText && strings.TrimSpace(raw.Text) == "" {
		return nil
	}

	if !p.cfg.Filters[kind] {
		// No dedup record either: if the filter is enabled later, a fresh
		// arrival of this fingerprint must still be forwardable.
		p.obs.IncCounter("meshcord_messages_filtered_total", 1)
		return nil
	}

	fp := raw.FingerprintOf()
	seen, err := p.dedup.HasSeen(ctx, fp)
	if err != nil {
		return fmt.Errorf("pipeline: dedup lookup: %w", err)
	}
	if seen {
		p.obs.IncCounter("meshcord_messages_duplicate_total", 1)
		return nil
	}

	// Identity packets feed the registry before name resolution so the
	// packet renders under its own freshly learned name.
	if kind == domain.KindNodeInfo && raw.Identity != nil {
		if err := p.registry.UpsertIdentity(ctx, *raw.Identity); err != nil {
			p.obs.LogError("identity upsert failed", err,
				ports.Field{Key: "node", Value: raw.From.Hex()})
		} else {
			p.obs.IncCounter("meshcord_registry_updates_total", 1)
		}
	}

	msg := p.classify(ctx, raw, kind)

	if p.cfg.Transform != nil {
		out, err := p.cfg.Transform.Transform(msg)
		if err != nil {
			return fmt.Errorf("pipeline: transform: %w", err)
		}
		if out == nil {
			return nil
		}
		msg = out
	}

	chunks := Chunk(Format(msg, p.cfg.ShowSignal), p.cfg.MaxChunkSize)

	// The atomic insert decides the winner when the same fingerprint races
	// in from two links; HasSeen above is only the cheap early exit.
	inserted, err := p.dedup.MarkSeen(ctx, fp, raw.LinkTag, now)
	if err != nil {
		return fmt.Errorf("pipeline: dedup insert: %w", err)
	}
	if !inserted {
		p.obs.IncCounter("meshcord_messages_duplicate_total", 1)
		return nil
	}

	d := &domain.Delivery{
		Fingerprint: fp,
		LinkTag:     raw.LinkTag,
		Kind:        kind.String(),
		Chunks:      chunks,
		Enqueued:    time.Now(),
	}
	if err := p.queue.Enqueue(ctx, d); err != nil {
		if errors.Is(err, ports.ErrQueueFull) {
			// Already marked seen; duplicate suppression outranks delivery.
			p.obs.IncCounter("meshcord_queue_dropped_total", 1)
			p.obs.LogError("delivery dropped, queue full", err,
				ports.Field{Key: "fingerprint", Value: string(fp)})
			return nil
		}
		return fmt.Errorf("pipeline: enqueue: %w", err)
	}
	p.obs.SetGauge("meshcord_queue_length", float64(p.queue.Len()))
	return nil
}

func (p *Pipeline) classify(ctx context.Context, raw *domain.RawPacket, kind domain.MessageKind) *domain.ClassifiedMessage {
	sender, _, err := p.registry.ResolveName(ctx, raw.From)
	if err != nil {
		p.obs.LogError("name lookup failed", err,
			ports.Field{Key: "node", Value: raw.From.Hex()})
		sender = domain.NodeIdentity{NodeID: raw.From}
	}

	return &domain.ClassifiedMessage{
		Kind:        kind,
		Fingerprint: raw.FingerprintOf(),
		From:        raw.From,
		To:          raw.To,
		Direct:      raw.To != domain.Broadcast && raw.To != 0,
		Sender:      sender.Label(),
		LinkTag:     raw.LinkTag,
		LinkName:    raw.LinkName,
		RxTime:      raw.RxTime,
		Port:        raw.Port,
		HasSignal:   raw.HasSignal,
		SNR:         raw.SNR,
		RSSI:        raw.RSSI,
		Text:        raw.Text,
		Position:    raw.Position,
		Identity:    raw.Identity,
		Telemetry:   raw.Telemetry,
		Routing:     raw.Routing,
	}
}
