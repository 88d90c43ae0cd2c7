package engine

import (
	"math/big"
	"net/netip"
	"strconv"

	"ecgraph/internal/fgraph"
	"ecgraph/internal/geo"
	"ecgraph/internal/ingest"
	"ecgraph/internal/rect"
)

// Action is one forwarding outcome a reachability query can ask about.
type Action uint8

const (
	ActionAccept Action = 1 << iota
	ActionDrop          // matches any drop flavor below
	ActionDropACL
	ActionDropACLIn
	ActionDropACLOut
	ActionDropNullRoute
	ActionDropNoRoute
)

// Disposition is the concrete outcome a witness flow experienced.
type Disposition int

const (
	Accepted Disposition = iota
	DeniedIn
	DeniedOut
	NullRouted
	NoRoute
)

func (d Disposition) String() string {
	switch d {
	case Accepted:
		return "ACCEPTED"
	case DeniedIn:
		return "DENIED_IN"
	case DeniedOut:
		return "DENIED_OUT"
	case NullRouted:
		return "NULL_ROUTED"
	case NoRoute:
		return "NO_ROUTE"
	default:
		return "UNKNOWN"
	}
}

// Hop is one traversed edge of a witness path.
type Hop struct {
	SrcRouter, SrcIface string
	DstRouter, DstIface string
}

// Path is the full sequence of hops a witness flow traverses.
type Path []Hop

// Answer is the result of a reachability query: a witness header and the
// path it takes, or a zero-value Answer with Found == false if no EC
// satisfying the query's action set exists.
type Answer struct {
	Found       bool
	Header      geo.Header
	Disposition Disposition
	Path        Path
	// MatchedLine names the ACL line responsible for a DeniedIn/DeniedOut
	// disposition, resolved by re-walking the owning ACL's lines against
	// the witness header; empty for every other disposition.
	MatchedLine string
}

// Reachable searches every EC relevant to h for a path from one of the
// source routers to one of the destination routers whose disposition is
// in the requested action set, returning the first witness found. ECs
// and sources are visited in map iteration order, so when several
// witnesses qualify, which one is returned can differ between runs.
func (e *Engine) Reachable(h geo.HeaderSpace, actions Action, src, dst []string) Answer {
	sources := make(map[*fgraph.Node]bool, len(src))
	for _, s := range src {
		if n := e.Graph.Router(s); n != nil {
			sources[n] = true
		}
	}
	sinks := make(map[*fgraph.Node]bool, len(dst))
	for _, d := range dst {
		if n := e.Graph.Router(d); n != nil {
			sinks[n] = true
		}
	}

	var relevant map[int]*rect.HyperRectangle
	if e.backend == DeltaNetDoC {
		relevant = e.findRelevantEcsDoc(h)
	} else {
		relevant = e.findRelevantEcs(h)
	}

	for alpha, overlap := range relevant {
		path, disp, ok := e.reachable(alpha, actions, sources, sinks)
		if !ok {
			continue
		}
		ans := Answer{Found: true, Header: e.Factory.Example(overlap), Disposition: disp, Path: path}
		if disp == DeniedIn || disp == DeniedOut {
			ans.MatchedLine = e.matchedLine(path, ans.Header)
		}
		return ans
	}
	return Answer{}
}

func (e *Engine) findRelevantEcs(h geo.HeaderSpace) map[int]*rect.HyperRectangle {
	relevant := make(map[int]*rect.HyperRectangle)
	space := e.Factory.FromHeaderSpace(h)
	for _, query := range space.Rectangles {
		for _, r := range e.kd.Intersect(query) {
			overlap, ok := rect.Overlap(query, r)
			if ok {
				relevant[r.AlphaIndex] = overlap
			}
		}
	}
	return relevant
}

func (e *Engine) findRelevantEcsDoc(h geo.HeaderSpace) map[int]*rect.HyperRectangle {
	relevant := make(map[int]*rect.HyperRectangle)
	space := e.Factory.FromHeaderSpace(h)
	for _, query := range space.Rectangles {
		cache := make(map[int]*big.Int)
		for _, r := range e.kd.Intersect(query) {
			overlap, ok := rect.Overlap(query, r)
			if !ok {
				continue
			}
			if vol := e.findRelevantEcsDocRec(cache, r, overlap); vol.Sign() > 0 {
				relevant[r.AlphaIndex] = overlap
			}
		}
	}
	return relevant
}

func (e *Engine) findRelevantEcsDocRec(cache map[int]*big.Int, r, overlap *rect.HyperRectangle) *big.Int {
	if v, ok := cache[r.AlphaIndex]; ok {
		return v
	}
	childrenVolume := big.NewInt(0)
	for _, childIdx := range e.dag[r.AlphaIndex] {
		child := e.ecs[childIdx]
		if co, ok := rect.Overlap(child, overlap); ok {
			childrenVolume.Add(childrenVolume, co.Volume())
		}
	}
	vol := new(big.Int).Sub(overlap.Volume(), childrenVolume)
	cache[r.AlphaIndex] = vol
	return vol
}

// reachable runs one BFS, restricted to the links labelled with alpha,
// from every source router toward every sink router, stopping as soon
// as it reaches a disposition the caller's action set includes.
func (e *Engine) reachable(alpha int, actions Action, sources, sinks map[*fgraph.Node]bool) (Path, Disposition, bool) {
	nodes := e.Graph.Nodes
	predecessor := make([]*fgraph.Link, len(nodes))
	visited := make([]bool, len(nodes))
	var queue []*fgraph.Node
	for s := range sources {
		queue = append(queue, s)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current.Index] {
			continue
		}
		visited[current.Index] = true

		// A sink reached through an actual traversed link has been
		// delivered; a sink dequeued only because it doubles as a query
		// source (predecessor nil) hasn't had its own forwarding checked
		// yet, so it can't be accepted on arrival alone.
		if sinks[current] && predecessor[current.Index] != nil && actions&ActionAccept != 0 {
			return reconstructPath(predecessor, current), Accepted, true
		}

		numLinks := 0
		for _, link := range e.Graph.Adjacency[current.Index] {
			if !e.labels[link.Index].Get(alpha) {
				continue
			}
			numLinks++
			neighbor := link.Dst

			if neighbor.Kind == fgraph.DropNode {
				predecessor[neighbor.Index] = link
				if sinks[current] && actions&ActionAccept != 0 && link.SrcIface != fgraph.NullInterface {
					return reconstructPath(predecessor, neighbor), Accepted, true
				}
				disp := dropDisposition(current)
				if actionIncludes(actions, disp) {
					return reconstructPath(predecessor, neighbor), disp, true
				}
				continue
			}
			if !visited[neighbor.Index] {
				predecessor[neighbor.Index] = link
				queue = append(queue, neighbor)
			}
		}

		if numLinks == 0 && current.Kind == fgraph.RouterNode && actions&(ActionDropNoRoute|ActionDrop) != 0 {
			return reconstructPath(predecessor, current), NoRoute, true
		}
	}
	return nil, 0, false
}

// dropDisposition classifies the drop edge leaving node, the one node
// kind/name combination determines why a packet reaching it is
// dropped: an ACL node's drop edge is a policy denial, an
// unaccompanied router's drop edge (explicit null route or an unwired
// interface) is a routing-layer drop.
func dropDisposition(node *fgraph.Node) Disposition {
	if node.Kind == fgraph.ACLNode {
		if isACLIn(node.Name) {
			return DeniedIn
		}
		return DeniedOut
	}
	return NullRouted
}

func actionIncludes(actions Action, disp Disposition) bool {
	if actions&ActionDrop != 0 {
		return true
	}
	switch disp {
	case DeniedIn:
		return actions&(ActionDropACLIn|ActionDropACL) != 0
	case DeniedOut:
		return actions&(ActionDropACLOut|ActionDropACL) != 0
	case NullRouted:
		return actions&ActionDropNullRoute != 0
	case NoRoute:
		return actions&ActionDropNoRoute != 0
	default:
		return false
	}
}

func isACLIn(nodeName string) bool {
	return hasSuffix(nodeName, ":in")
}

func isACLOut(nodeName string) bool {
	return hasSuffix(nodeName, ":out")
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func reconstructPath(predecessor []*fgraph.Link, dst *fgraph.Node) Path {
	var hops []Hop
	current := dst
	prev := predecessor[dst.Index]
	for prev != nil {
		hops = append([]Hop{{
			SrcRouter: prev.Src.Name, SrcIface: prev.SrcIface,
			DstRouter: prev.Dst.Name, DstIface: prev.DstIface,
		}}, hops...)
		current = prev.Src
		prev = predecessor[current.Index]
	}
	return hops
}

// matchedLine re-evaluates the ACL guarding the final hop of path
// against the witness header, and names the first line that matches it
// (or "default deny" if none do), for a human-readable explanation.
func (e *Engine) matchedLine(path Path, h geo.Header) string {
	if len(path) == 0 {
		return "default deny"
	}
	last := path[len(path)-1]
	var acl *ingest.ACL
	for _, n := range e.Graph.Nodes {
		if n.Kind == fgraph.ACLNode && n.Name == last.SrcRouter {
			acl = n.ACL
			break
		}
	}
	if acl == nil {
		return "default deny"
	}
	for _, line := range acl.Lines {
		if aclLineMatchesHeader(line, h) {
			return line.Action.String() + " line " + strconv.Itoa(line.Index)
		}
	}
	return "default deny"
}

func aclLineMatchesHeader(line ingest.ACLLine, h geo.Header) bool {
	if !line.SrcAny && !prefixesContain(line.SrcPrefix, h.SrcIP) {
		return false
	}
	if !line.DstAny && !prefixesContain(line.DstPrefix, h.DestIP) {
		return false
	}
	if len(line.Services) == 0 {
		return true
	}
	for _, svc := range line.Services {
		if serviceMatchesHeader(svc, h) {
			return true
		}
	}
	return false
}

func serviceMatchesHeader(svc ingest.ServiceObject, h geo.Header) bool {
	if !svc.AnyProtocol && svc.Protocol != h.IPProto {
		return false
	}
	if svc.AnyPort {
		return true
	}
	for _, pr := range svc.Ports {
		if h.DestPort >= pr.Lo && h.DestPort <= pr.Hi {
			return true
		}
	}
	return false
}

func prefixesContain(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
