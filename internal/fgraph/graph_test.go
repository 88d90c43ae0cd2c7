package fgraph

import (
	"net/netip"
	"testing"

	"ecgraph/internal/ingest"
)

func prefix(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func simpleDataPlane() *ingest.DataPlane {
	acl := &ingest.ACL{Name: "r1:eth0:out", Lines: []ingest.ACLLine{
		{Index: 1, Action: ingest.Deny, SrcAny: true, DstAny: true},
	}}
	return &ingest.DataPlane{
		Routers: []ingest.RouterConfig{
			{
				Name: "r1",
				Interfaces: []ingest.Interface{
					{Name: "eth0", Address: prefix("10.0.0.1/24"), OutgoingACL: acl},
				},
				FIB: []ingest.FIBRow{{Prefix: prefix("0.0.0.0/0"), OutInterface: "eth0"}},
			},
			{
				Name: "r2",
				Interfaces: []ingest.Interface{
					{Name: "eth0", Address: prefix("10.0.0.2/24")},
				},
			},
		},
		Topology: []ingest.TopologyEdge{
			{SrcRouter: "r1", SrcIface: "eth0", DstRouter: "r2", DstIface: "eth0"},
			{SrcRouter: "r2", SrcIface: "eth0", DstRouter: "r1", DstIface: "eth0"},
		},
	}
}

func TestBuildCreatesRouterAndACLNodes(t *testing.T) {
	g := Build(simpleDataPlane())

	if g.Router("r1") == nil || g.Router("r2") == nil {
		t.Fatalf("expected both routers to have nodes")
	}
	if g.DropNode == nil || g.DropNode.Index != 0 {
		t.Fatalf("expected drop node at index 0, got %#v", g.DropNode)
	}

	var aclNode *Node
	for _, n := range g.Nodes {
		if n.Kind == ACLNode {
			aclNode = n
		}
	}
	if aclNode == nil {
		t.Fatalf("expected an ACL node for r1:eth0:out")
	}
	if aclNode.DropLink == nil || aclNode.DropLink.Dst != g.DropNode {
		t.Fatalf("expected ACL node's drop link to target the drop node")
	}
	if g.Adjacency[aclNode.Index][0] != aclNode.DropLink {
		t.Fatalf("expected the ACL node's drop link to occupy adjacency slot 0")
	}
	if aclNode.ContinueLink == nil || aclNode.ContinueLink.Dst != g.Router("r2") {
		t.Fatalf("expected ACL node's continue link to reach r2, got %#v", aclNode.ContinueLink)
	}
}

func TestBuildWiresUnwiredInterfaceToDrop(t *testing.T) {
	dp := simpleDataPlane()
	dp.Topology = nil // r1:eth0 now has no peer
	g := Build(dp)

	link := g.LinkFrom("r1", "eth0")
	if link == nil {
		t.Fatalf("expected r1:eth0 to still resolve to a link")
	}
	// r1:eth0 carries an outgoing ACL, so the link from r1 lands on the
	// ACL node first; only the ACL node's own links reach the drop node.
	if link.Dst.Kind != ACLNode {
		t.Fatalf("expected r1:eth0's link to enter its ACL node, got kind %v", link.Dst.Kind)
	}
	if link.Dst.ContinueLink == nil || link.Dst.ContinueLink.Dst != g.DropNode {
		t.Fatalf("expected the ACL node's continuation to dead-end at the drop node when unwired")
	}
}

func TestBuildWiresNullRouteToDrop(t *testing.T) {
	dp := simpleDataPlane()
	g := Build(dp)

	link := g.LinkFrom("r1", NullInterface)
	if link == nil || link.Dst != g.DropNode {
		t.Fatalf("expected every router's null interface to link directly to drop, got %#v", link)
	}
}

func TestLinkFromUnknownInterfaceIsNil(t *testing.T) {
	g := Build(simpleDataPlane())
	if g.LinkFrom("r1", "nonexistent") != nil {
		t.Fatalf("expected nil link for an interface that was never wired")
	}
}
