package domain

import "time"

// MessageKind classifies a packet for filtering and rendering.
type MessageKind int

const (
	KindText MessageKind = iota
	KindPosition
	KindNodeInfo
	KindTelemetry
	KindRouting
	KindAdmin
	KindDetectionSensor
	KindRangeTest
	KindStoreForward
	KindUnknown
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPosition:
		return "position"
	case KindNodeInfo:
		return "node_info"
	case KindTelemetry:
		return "telemetry"
	case KindRouting:
		return "routing"
	case KindAdmin:
		return "admin"
	case KindDetectionSensor:
		return "detection_sensor"
	case KindRangeTest:
		return "range_test"
	case KindStoreForward:
		return "store_forward"
	default:
		return "unknown"
	}
}

// Kinds lists every kind once, in display order.
func Kinds() []MessageKind {
	return []MessageKind{
		KindText, KindPosition, KindNodeInfo, KindTelemetry, KindRouting,
		KindAdmin, KindDetectionSensor, KindRangeTest, KindStoreForward, KindUnknown,
	}
}

// Application port numbers from the mesh wire protocol.
const (
	PortText            int32 = 1
	PortPosition        int32 = 3
	PortNodeInfo        int32 = 4
	PortRouting         int32 = 5
	PortAdmin           int32 = 6
	PortDetectionSensor int32 = 10
	PortStoreForward    int32 = 65
	PortRangeTest       int32 = 66
	PortTelemetry       int32 = 67
)

// KindForPort maps a wire port number to a message kind. Ports outside the
// known set classify as unknown rather than failing.
func KindForPort(port int32) MessageKind {
	switch port {
	case PortText:
		return KindText
	case PortPosition:
		return KindPosition
	case PortNodeInfo:
		return KindNodeInfo
	case PortRouting:
		return KindRouting
	case PortAdmin:
		return KindAdmin
	case PortDetectionSensor:
		return KindDetectionSensor
	case PortStoreForward:
		return KindStoreForward
	case PortRangeTest:
		return KindRangeTest
	case PortTelemetry:
		return KindTelemetry
	default:
		return KindUnknown
	}
}

// ClassifiedMessage is a packet after classification and name resolution,
// alive for a single pipeline pass.
type ClassifiedMessage struct {
	Kind        MessageKind
	Fingerprint Fingerprint

	From     NodeID
	To       NodeID
	Direct   bool
	Sender   string
	LinkTag  string
	LinkName string
	RxTime   time.Time
	Port     int32

	HasSignal bool
	SNR       float32
	RSSI      int32

	Text      string
	Position  *Position
	Identity  *NodeIdentity
	Telemetry *TelemetrySummary
	Routing   string
}

// Delivery is a formatted message ready for the forwarder, already split
// into chunks that each fit the forwarder's size limit.
type Delivery struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	LinkTag     string      `json:"link_tag"`
	Kind        string      `json:"kind"`
	Chunks      []string    `json:"chunks"`
	Enqueued    time.Time   `json:"enqueued"`
}
