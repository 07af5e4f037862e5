package meshcord

import (
	"context"
	"io"

	base "github.com/sargonas/meshcord/pkg/meshcord"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull              = base.ErrQueueFull
	ErrQueueClosed            = base.ErrQueueClosed
	ErrDeliveryRejected       = base.ErrDeliveryRejected
	ErrDeliveryUnreachable    = base.ErrDeliveryUnreachable
	ErrReadTimeout            = base.ErrReadTimeout
	ErrBreakerOpen            = base.ErrBreakerOpen
	ErrLinkAbandoned          = base.ErrLinkAbandoned
	ErrChannelForwarderClosed = base.ErrChannelForwarderClosed
	ErrAlreadyRunning         = base.ErrAlreadyRunning
)

// Type aliases so consumers can import github.com/sargonas/meshcord directly.
type (
	Config            = base.Config
	RadioConfig       = base.RadioConfig
	FiltersConfig     = base.FiltersConfig
	ConnectionConfig  = base.ConnectionConfig
	StoreConfig       = base.StoreConfig
	ForwarderConfig   = base.ForwarderConfig
	QueueConfig       = base.QueueConfig
	DeadLetterConfig  = base.DeadLetterConfig
	MetricsConfig     = base.MetricsConfig
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Bridge            = base.Bridge
	BridgeOption      = base.BridgeOption
	RawPacket         = base.RawPacket
	ClassifiedMessage = base.ClassifiedMessage
	Delivery          = base.Delivery
	MessageKind       = base.MessageKind
	NodeID            = base.NodeID
	NodeIdentity      = base.NodeIdentity
	Fingerprint       = base.Fingerprint
	Position          = base.Position
	TelemetrySummary  = base.TelemetrySummary
	ChunkSink         = base.ChunkSink
	Link              = base.Link
	Forwarder         = base.Forwarder
	Transformer       = base.Transformer
	DedupStore        = base.DedupStore
	NodeRegistry      = base.NodeRegistry
	DeliveryQueue     = base.DeliveryQueue
	DeadLetter        = base.DeadLetter
	DeadLetterStats   = base.DeadLetterStats
	Observability     = base.Observability
	Field             = base.Field
	NoopObservability = base.NoopObservability
	OverflowPolicy    = base.OverflowPolicy
	Publisher         = base.Publisher
	PublisherConfig   = base.PublisherConfig
)

// Message kinds.
const (
	KindText            = base.KindText
	KindPosition        = base.KindPosition
	KindNodeInfo        = base.KindNodeInfo
	KindTelemetry       = base.KindTelemetry
	KindRouting         = base.KindRouting
	KindAdmin           = base.KindAdmin
	KindDetectionSensor = base.KindDetectionSensor
	KindRangeTest       = base.KindRangeTest
	KindStoreForward    = base.KindStoreForward
	KindUnknown         = base.KindUnknown
)

// Application port numbers from the mesh wire protocol.
const (
	PortText            = base.PortText
	PortPosition        = base.PortPosition
	PortNodeInfo        = base.PortNodeInfo
	PortRouting         = base.PortRouting
	PortAdmin           = base.PortAdmin
	PortDetectionSensor = base.PortDetectionSensor
	PortStoreForward    = base.PortStoreForward
	PortRangeTest       = base.PortRangeTest
	PortTelemetry       = base.PortTelemetry
)

// Queue overflow policies and the broadcast destination.
const (
	OverflowBlock      = base.OverflowBlock
	OverflowDropNewest = base.OverflowDropNewest
	OverflowDropOldest = base.OverflowDropOldest

	Broadcast = base.Broadcast
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...BridgeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInLinks(links ...Link) StreamInOption {
	return base.StreamInLinks(links...)
}

func StreamInDedupStore(s DedupStore) StreamInOption {
	return base.StreamInDedupStore(s)
}

func StreamInNodeRegistry(r NodeRegistry) StreamInOption {
	return base.StreamInNodeRegistry(r)
}

func StreamInQueue(q DeliveryQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutForwarder(fwd Forwarder) StreamOutOption {
	return base.StreamOutForwarder(fwd)
}

func StreamOutTransform(tr Transformer) StreamOutOption {
	return base.StreamOutTransform(tr)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutDeadLetter(d DeadLetter) StreamOutOption {
	return base.StreamOutDeadLetter(d)
}

func StreamOutCallback(name string, maxChunk int, fn ChunkSink) StreamOutOption {
	return base.StreamOutCallback(name, maxChunk, fn)
}

// Bridge and options.
func NewBridge(cfg *Config, opts ...BridgeOption) (*Bridge, error) {
	return base.NewBridge(cfg, opts...)
}

func WithForwarder(f Forwarder) BridgeOption {
	return base.WithForwarder(f)
}

func WithObservability(obs Observability) BridgeOption {
	return base.WithObservability(obs)
}

func WithDedupStore(s DedupStore) BridgeOption {
	return base.WithDedupStore(s)
}

func WithNodeRegistry(r NodeRegistry) BridgeOption {
	return base.WithNodeRegistry(r)
}

func WithQueue(q DeliveryQueue) BridgeOption {
	return base.WithQueue(q)
}

func WithDeadLetter(d DeadLetter) BridgeOption {
	return base.WithDeadLetter(d)
}

func WithTransform(t Transformer) BridgeOption {
	return base.WithTransform(t)
}

func WithLinks(links ...Link) BridgeOption {
	return base.WithLinks(links...)
}

// Forwarder adapters.
func NewCallbackForwarder(name string, maxChunk int, fn ChunkSink) Forwarder {
	return base.NewCallbackForwarder(name, maxChunk, fn)
}

func NewChannelForwarder(name string, buffer, maxChunk int) (Forwarder, <-chan string, func()) {
	return base.NewChannelForwarder(name, buffer, maxChunk)
}

// Publisher for callers that bring their own packet source.
func NewPublisher(cfg *PublisherConfig, sink ChunkSink) (*Publisher, error) {
	return base.NewPublisher(cfg, sink)
}

// Administrative access to the node registry.
func OpenRegistry(ctx context.Context, cfg *Config) (NodeRegistry, io.Closer, error) {
	return base.OpenRegistry(ctx, cfg)
}
