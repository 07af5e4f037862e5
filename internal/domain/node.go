package domain

import "time"

// NodeIdentity is what the registry knows about one mesh device.
type NodeIdentity struct {
	NodeID    NodeID
	LongName  string
	ShortName string
	HwModel   string
	UpdatedAt time.Time
	LastSeen  time.Time
}

// DisplayName prefers the short name, falls back to the long name, and
// returns "" when the node never sent an identity packet.
func (n NodeIdentity) DisplayName() string {
	if n.ShortName != "" {
		return n.ShortName
	}
	return n.LongName
}

// Label renders a node for chat output: "Name (hexid)", or the bare hex id
// when no name is known.
func (n NodeIdentity) Label() string {
	name := n.DisplayName()
	if name == "" {
		return n.NodeID.Hex()
	}
	return name + " (" + n.NodeID.Hex() + ")"
}
