// Package ingest turns router configuration text (or rows from a
// configuration database) into the plain data model the engine builds
// rules and a forwarding graph from: FIB rows, ACLs, interfaces, and
// inter-router topology edges.
package ingest

import "net/netip"

// Action is the verdict an ACL line assigns to a matching packet.
type Action int

const (
	Deny Action = iota
	Permit
)

func (a Action) String() string {
	if a == Permit {
		return "permit"
	}
	return "deny"
}

// PortRange is an inclusive [Lo, Hi] range of transport ports.
type PortRange struct {
	Lo, Hi uint16
}

// ServiceObject is a resolved (group-flattened) protocol/port predicate.
// AnyProtocol/AnyPort mean the corresponding dimension is unrestricted.
type ServiceObject struct {
	Name        string
	AnyProtocol bool
	Protocol    uint8
	AnyPort     bool
	Ports       []PortRange
}

// ACLLine is one resolved rule of an access list: a match predicate over
// source/destination prefixes and a service, plus the action taken on a
// match. Addresses and services are already group-flattened; an empty
// slice paired with the matching Any flag means "no restriction".
type ACLLine struct {
	Index      int
	Action     Action
	SrcAny     bool
	SrcPrefix  []netip.Prefix
	DstAny     bool
	DstPrefix  []netip.Prefix
	Services   []ServiceObject
}

// ACL is an ordered, first-match list of lines, evaluated with an
// implicit trailing deny.
type ACL struct {
	Name  string
	Lines []ACLLine
}

// Interface is one router's named attachment point, optionally guarded by
// ACLs in either direction.
type Interface struct {
	Name        string
	Address     netip.Prefix
	OutgoingACL *ACL
	IncomingACL *ACL
}

// FIBRow is one installed forwarding-table entry: destinations within
// Prefix egress out OutInterface, unless NullRoute is set, in which case
// they are dropped regardless of interface ACLs.
type FIBRow struct {
	Prefix       netip.Prefix
	OutInterface string
	NullRoute    bool
}

// RouterConfig is one device's resolved configuration: its interfaces and
// its installed FIB.
type RouterConfig struct {
	Name       string
	Interfaces []Interface
	FIB        []FIBRow
}

// TopologyEdge is one directed physical link between two router
// interfaces.
type TopologyEdge struct {
	SrcRouter, SrcIface string
	DstRouter, DstIface string
}

// DataPlane bundles every router's resolved configuration with the
// topology connecting them, the complete input to graph construction.
type DataPlane struct {
	Routers  []RouterConfig
	Topology []TopologyEdge
}
