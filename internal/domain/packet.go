package domain

import (
	"fmt"
	"time"
)

// NodeID is the stable 32-bit hardware identifier of a mesh device.
type NodeID uint32

// Broadcast is the destination radios use for channel-wide packets.
const Broadcast NodeID = 0xffffffff

// Hex renders the id the way operators see it: zero-padded lowercase hex.
func (n NodeID) Hex() string { return fmt.Sprintf("%08x", uint32(n)) }

// Fingerprint identifies one logical message across links, retries and
// reconnects. Derived from sender and packet id only, so the same message
// heard on two links maps to the same fingerprint.
type Fingerprint string

// Position is a decoded location report.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  int32
}

// TelemetrySummary carries the subset of telemetry worth showing in chat.
type TelemetrySummary struct {
	Variant     string
	HasDevice   bool
	Battery     uint32
	Voltage     float32
	ChannelUtil float32
	AirUtilTx   float32
}

// RawPacket is one decoded unit handed from a Link to the pipeline.
// Payload fields are filled per port; PayloadOK is false when the payload
// bytes could not be parsed for the port they claim. RegistryOnly marks
// node-database sync frames: they update the registry and nothing else.
type RawPacket struct {
	LinkTag  string
	LinkName string

	RegistryOnly bool

	From     NodeID
	To       NodeID
	PacketID uint32
	RxTime   time.Time
	Port     int32

	HasSignal bool
	SNR       float32
	RSSI      int32

	PayloadOK bool
	Text      string
	Position  *Position
	Identity  *NodeIdentity
	Telemetry *TelemetrySummary
	Routing   string
}

// FingerprintOf returns the dedup key for this packet.
func (p *RawPacket) FingerprintOf() Fingerprint {
	return Fingerprint(fmt.Sprintf("%08x_%d", uint32(p.From), p.PacketID))
}
