package meshcord

import (
	"context"
	"fmt"
)

// Flow is a convenience builder that lets callers say Conf → StreamIN →
// StreamOUT without touching the underlying hexagonal wiring.
type Flow struct {
	cfg  *Config
	opts []BridgeOption
}

// FlowOption mutates the Flow after configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption configures the radio-link side of the pipeline.
type StreamInOption func(*Flow)

// StreamOutOption configures the forwarder side of the pipeline.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk, applies FlowOption values, and returns a Flow
// builder.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig bootstraps a Flow from an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the underlying configuration so callers can tweak it before
// building a bridge.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options appends raw BridgeOption values to the builder for advanced
// scenarios.
func (f *Flow) Options(opts ...BridgeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

// StreamIN records radio-side overrides (links, stores, queue,
// observability).
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT records forwarder-side overrides and builds a Bridge ready to
// run.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Bridge, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return NewBridge(f.cfg, f.opts...)
}

// Run is a shortcut for StreamOUT + bridge.Run.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	b, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

// WithFlowOptions appends BridgeOption values during Conf.
func WithFlowOptions(opts ...BridgeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(opts...)
		}
	}
}

// StreamInLinks replaces the configured radios with custom Link
// implementations (simulators, MQTT bridges, tests).
func StreamInLinks(links ...Link) StreamInOption {
	return func(f *Flow) {
		if f != nil && len(links) > 0 {
			f.appendOptions(WithLinks(links...))
		}
	}
}

// StreamInDedupStore swaps the SQL processed-message store for a
// caller-provided implementation.
func StreamInDedupStore(s DedupStore) StreamInOption {
	return func(f *Flow) {
		if f != nil && s != nil {
			f.appendOptions(WithDedupStore(s))
		}
	}
}

// StreamInNodeRegistry swaps the SQL node identity cache for a
// caller-provided implementation.
func StreamInNodeRegistry(r NodeRegistry) StreamInOption {
	return func(f *Flow) {
		if f != nil && r != nil {
			f.appendOptions(WithNodeRegistry(r))
		}
	}
}

// StreamInQueue swaps the in-memory delivery queue for a caller-provided
// implementation.
func StreamInQueue(q DeliveryQueue) StreamInOption {
	return func(f *Flow) {
		if f != nil && q != nil {
			f.appendOptions(WithQueue(q))
		}
	}
}

// StreamInObservability overrides the default Prometheus-based observability
// stack.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutForwarder injects a custom ports.Forwarder implementation.
func StreamOutForwarder(fwd Forwarder) StreamOutOption {
	return func(f *Flow) {
		if f != nil && fwd != nil {
			f.appendOptions(WithForwarder(fwd))
		}
	}
}

// StreamOutTransform installs a hook that runs between classification and
// formatting.
func StreamOutTransform(tr Transformer) StreamOutOption {
	return func(f *Flow) {
		if f != nil && tr != nil {
			f.appendOptions(WithTransform(tr))
		}
	}
}

// StreamOutObservability replaces the default observability backend.
func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if f != nil && obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutDeadLetter injects a custom dead letter writer.
func StreamOutDeadLetter(d DeadLetter) StreamOutOption {
	return func(f *Flow) {
		if f != nil && d != nil {
			f.appendOptions(WithDeadLetter(d))
		}
	}
}

// StreamOutCallback installs a forwarder built from a simple callback
// function.
func StreamOutCallback(name string, maxChunk int, fn ChunkSink) StreamOutOption {
	return func(f *Flow) {
		if f != nil {
			f.appendOptions(WithForwarder(NewCallbackForwarder(name, maxChunk, fn)))
		}
	}
}

func (f *Flow) appendOptions(opts ...BridgeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}
