package meshcord

import (
	"errors"

	"github.com/sargonas/meshcord/internal/adapters/observability"
	"github.com/sargonas/meshcord/internal/app/conn"
	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// RawPacket is one decoded radio packet on its way into the pipeline. It
// mirrors the internal domain type so custom Link implementations can
// produce packets directly.
type RawPacket = domain.RawPacket

// ClassifiedMessage is a packet after classification and name resolution;
// Transformer implementations receive and return it.
type ClassifiedMessage = domain.ClassifiedMessage

// Delivery is a formatted message split into forwarder-sized chunks.
type Delivery = domain.Delivery

// MessageKind classifies packets for filtering and rendering.
type MessageKind = domain.MessageKind

// Message kinds, re-exported for building filter maps.
const (
	KindText            = domain.KindText
	KindPosition        = domain.KindPosition
	KindNodeInfo        = domain.KindNodeInfo
	KindTelemetry       = domain.KindTelemetry
	KindRouting         = domain.KindRouting
	KindAdmin           = domain.KindAdmin
	KindDetectionSensor = domain.KindDetectionSensor
	KindRangeTest       = domain.KindRangeTest
	KindStoreForward    = domain.KindStoreForward
	KindUnknown         = domain.KindUnknown
)

// Application port numbers from the mesh wire protocol, for callers that
// construct packets by hand.
const (
	PortText            = domain.PortText
	PortPosition        = domain.PortPosition
	PortNodeInfo        = domain.PortNodeInfo
	PortRouting         = domain.PortRouting
	PortAdmin           = domain.PortAdmin
	PortDetectionSensor = domain.PortDetectionSensor
	PortStoreForward    = domain.PortStoreForward
	PortRangeTest       = domain.PortRangeTest
	PortTelemetry       = domain.PortTelemetry
)

// NodeID is the stable 32-bit hardware identifier of a mesh device.
type NodeID = domain.NodeID

// NodeIdentity is what the registry knows about one mesh device.
type NodeIdentity = domain.NodeIdentity

// Fingerprint identifies one logical message across links and retries.
type Fingerprint = domain.Fingerprint

// Position is a decoded location report.
type Position = domain.Position

// TelemetrySummary carries the telemetry fields worth showing in chat.
type TelemetrySummary = domain.TelemetrySummary

// Link is one transport connection to one radio. Implement it to feed the
// bridge from transports beyond serial and HTTP.
type Link = ports.Link

// Forwarder delivers formatted chunks to a chat channel or any other sink.
type Forwarder = ports.Forwarder

// Transformer runs between classification and formatting; embedders use it
// to redact or decorate messages.
type Transformer = ports.Transformer

// DedupStore records which fingerprints have already been processed.
type DedupStore = ports.DedupStore

// NodeRegistry is the long-lived device id to identity cache.
type NodeRegistry = ports.NodeRegistry

// DeliveryQueue buffers deliveries between link workers and the delivery
// worker.
type DeliveryQueue = ports.DeliveryQueue

// DeadLetter keeps a durable trace of abandoned deliveries.
type DeadLetter = ports.DeadLetter

// DeadLetterStats summarizes the dead letter backlog.
type DeadLetterStats = ports.DeadLetterStats

// Observability is the logging and metrics surface every component uses.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// NoopObservability discards all logs and metrics.
type NoopObservability = observability.Noop

// OverflowPolicy says what Enqueue does when the delivery queue is full.
type OverflowPolicy = ports.OverflowPolicy

const (
	OverflowBlock      = ports.OverflowBlock
	OverflowDropNewest = ports.OverflowDropNewest
	OverflowDropOldest = ports.OverflowDropOldest
)

// Broadcast is the destination radios use for channel-wide packets.
const Broadcast = domain.Broadcast

// Sentinel errors callers may branch on.
var (
	ErrDeliveryRejected    = ports.ErrDeliveryRejected
	ErrDeliveryUnreachable = ports.ErrDeliveryUnreachable
	ErrQueueFull           = ports.ErrQueueFull
	ErrQueueClosed         = ports.ErrQueueClosed
	ErrReadTimeout         = ports.ErrReadTimeout
	ErrBreakerOpen         = conn.ErrBreakerOpen
	ErrLinkAbandoned       = conn.ErrLinkAbandoned

	// ErrAlreadyRunning reports a second Start on a bridge whose lifecycle
	// was already consumed.
	ErrAlreadyRunning = errors.New("meshcord: bridge already running")
)
