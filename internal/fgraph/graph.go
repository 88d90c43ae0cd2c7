// Package fgraph builds the edge-labelled forwarding graph of spec
// component D: one node per router, one node per interface ACL, a single
// distinguished drop-sink node, and directed links that weave ACL
// evaluation into the path between two routers.
package fgraph

import "ecgraph/internal/ingest"

// Reserved interface names used on synthetic links that do not correspond
// to a real wire.
const (
	NullInterface   = "null_interface"
	EnterOutboundACL = "enter-outbound-acl"
	ExitOutboundACL  = "exit-outbound-acl"
	EnterInboundACL  = "enter-inbound-acl"
	ExitInboundACL   = "exit-inbound-acl"

	dropNodeName = "(none)"
)

// NodeKind distinguishes the three kinds of node the graph contains.
type NodeKind int

const (
	DropNode NodeKind = iota
	RouterNode
	ACLNode
)

// Node is one vertex of the forwarding graph.
type Node struct {
	Index int
	Name  string
	Kind  NodeKind

	// ACL and Router are populated only for ACLNode: the filter itself,
	// and the router node that owns the interface it guards.
	ACL    *ingest.ACL
	Router *Node

	// OwnerLink is the link that first routes traffic into this ACL
	// node; set during construction. The engine does not read it.
	OwnerLink *Link

	// DropLink and ContinueLink are the two links leaving an ACL node:
	// a deny verdict forwards across DropLink to the drop node, a
	// permit verdict forwards across ContinueLink toward the next hop.
	// Populated only for ACLNode.
	DropLink, ContinueLink *Link
}

// Link is one directed edge of the forwarding graph, labelled with the
// source and target interface names that identify which wire (real or
// synthetic) it represents.
type Link struct {
	Index      int
	Src, Dst   *Node
	SrcIface   string
	DstIface   string
}

// Graph is the full edge-labelled forwarding graph for one data plane
// snapshot.
type Graph struct {
	Nodes []*Node
	Links []*Link

	// Adjacency is indexed by Node.Index; Adjacency[i] lists every link
	// whose source is Nodes[i].
	Adjacency [][]*Link

	DropNode *Node

	router map[string]*Node
	acl    map[string]*Node
	// linkBySrc maps a "router:iface" key to the link leaving that
	// interface, used to resolve FIB next-hops during rule insertion.
	linkBySrc map[string]*Link
}

func aclKey(router, iface string, inbound bool) string {
	if inbound {
		return router + ":" + iface + ":in"
	}
	return router + ":" + iface + ":out"
}

func srcKey(router, iface string) string {
	return router + ":" + iface
}

// Build constructs the forwarding graph from a data plane's routers and
// topology edges. Interfaces with no matching topology edge are wired to
// the drop node (through the interface's ACL node, if it has an outgoing
// ACL); every router's null interface is wired directly to the drop node.
// Topology edges are wired in Go map iteration order, so link indices and
// the order of links in Adjacency can differ between runs.
func Build(dp *ingest.DataPlane) *Graph {
	g := &Graph{
		router:    make(map[string]*Node),
		acl:       make(map[string]*Node),
		linkBySrc: make(map[string]*Link),
	}

	drop := &Node{Index: 0, Name: dropNodeName, Kind: DropNode}
	g.Nodes = append(g.Nodes, drop)
	g.DropNode = drop

	for _, rc := range dp.Routers {
		rnode := g.addNode(rc.Name, RouterNode, nil, nil)
		g.router[rc.Name] = rnode

		for _, iface := range rc.Interfaces {
			if acl := iface.OutgoingACL; acl != nil {
				key := aclKey(rc.Name, iface.Name, false)
				anode := g.addNode(key, ACLNode, acl, rnode)
				g.acl[key] = anode
			}
			if acl := iface.IncomingACL; acl != nil {
				key := aclKey(rc.Name, iface.Name, true)
				anode := g.addNode(key, ACLNode, acl, rnode)
				g.acl[key] = anode
			}
		}
	}

	g.Adjacency = make([][]*Link, len(g.Nodes))

	linkIndex := 0
	newLink := func(src, dst *Node, srcIface, dstIface string) *Link {
		l := &Link{Index: linkIndex, Src: src, Dst: dst, SrcIface: srcIface, DstIface: dstIface}
		linkIndex++
		g.Links = append(g.Links, l)
		g.Adjacency[src.Index] = append(g.Adjacency[src.Index], l)
		return l
	}

	// Every ACL node gets its deny edge to the drop node first, so it
	// always occupies adjacency slot 0; the permit edge created later
	// during topology wiring lands in slot 1.
	for _, n := range g.Nodes {
		if n.Kind == ACLNode {
			n.DropLink = newLink(n, drop, NullInterface, NullInterface)
		}
	}

	peer := make(map[string]ingest.TopologyEdge)
	for _, e := range dp.Topology {
		peer[srcKey(e.SrcRouter, e.SrcIface)] = e
	}

	for _, rc := range dp.Routers {
		if _, ok := peer[srcKey(rc.Name, NullInterface)]; !ok {
			peer[srcKey(rc.Name, NullInterface)] = ingest.TopologyEdge{
				SrcRouter: rc.Name, SrcIface: NullInterface,
				DstRouter: dropNodeName, DstIface: NullInterface,
			}
		}
		for _, iface := range rc.Interfaces {
			key := srcKey(rc.Name, iface.Name)
			if _, ok := peer[key]; !ok {
				peer[key] = ingest.TopologyEdge{
					SrcRouter: rc.Name, SrcIface: iface.Name,
					DstRouter: dropNodeName, DstIface: NullInterface,
				}
			}
		}
	}

	for _, e := range peer {
		src := g.router[e.SrcRouter]

		if e.SrcIface == NullInterface {
			l := newLink(src, drop, NullInterface, NullInterface)
			g.linkBySrc[srcKey(e.SrcRouter, NullInterface)] = l
			continue
		}

		outAcl := g.acl[aclKey(e.SrcRouter, e.SrcIface, false)]
		var inAcl *Node
		if e.DstRouter != dropNodeName {
			inAcl = g.acl[aclKey(e.DstRouter, e.DstIface, true)]
		}
		dstRouter := g.router[e.DstRouter]
		if dstRouter == nil {
			dstRouter = drop
		}

		switch {
		case outAcl != nil && inAcl != nil:
			l1 := newLink(src, outAcl, e.SrcIface, EnterOutboundACL)
			outAcl.OwnerLink = l1
			g.linkBySrc[srcKey(e.SrcRouter, e.SrcIface)] = l1
			l2 := newLink(outAcl, inAcl, ExitOutboundACL, EnterInboundACL)
			outAcl.ContinueLink = l2
			inAcl.OwnerLink = l2
			l3 := newLink(inAcl, dstRouter, ExitInboundACL, e.DstIface)
			inAcl.ContinueLink = l3

		case outAcl != nil:
			l1 := newLink(src, outAcl, e.SrcIface, EnterOutboundACL)
			outAcl.OwnerLink = l1
			g.linkBySrc[srcKey(e.SrcRouter, e.SrcIface)] = l1
			l2 := newLink(outAcl, dstRouter, ExitOutboundACL, e.DstIface)
			outAcl.ContinueLink = l2

		case inAcl != nil:
			l1 := newLink(src, inAcl, e.SrcIface, EnterInboundACL)
			inAcl.OwnerLink = l1
			g.linkBySrc[srcKey(e.SrcRouter, e.SrcIface)] = l1
			l2 := newLink(inAcl, dstRouter, ExitInboundACL, e.DstIface)
			inAcl.ContinueLink = l2

		default:
			l := newLink(src, dstRouter, e.SrcIface, e.DstIface)
			g.linkBySrc[srcKey(e.SrcRouter, e.SrcIface)] = l
		}
	}

	return g
}

func (g *Graph) addNode(name string, kind NodeKind, acl *ingest.ACL, router *Node) *Node {
	n := &Node{Index: len(g.Nodes), Name: name, Kind: kind, ACL: acl, Router: router}
	g.Nodes = append(g.Nodes, n)
	return n
}

// Router looks up a router node by name.
func (g *Graph) Router(name string) *Node { return g.router[name] }

// LinkFrom returns the link leaving a router's named interface, or nil if
// that interface has no outgoing link (which should not happen once Build
// has wired every interface to either a peer or the drop node).
func (g *Graph) LinkFrom(router, iface string) *Link {
	return g.linkBySrc[srcKey(router, iface)]
}
