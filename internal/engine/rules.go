package engine

import (
	"math/big"

	"ecgraph/internal/fgraph"
	"ecgraph/internal/geo"
	"ecgraph/internal/ingest"
	"ecgraph/internal/rect"
)

// Rule is one forwarding decision to weave into the edge-labelled graph:
// traffic landing in Rect should cross Link, at the given Priority.
// ACLLine is set only for rules derived from an access-list line, and is
// what a matched-line explanation is read back from.
type Rule struct {
	Link     *fgraph.Link
	Rect     *rect.HyperRectangle
	Priority int
	ACLLine  *ingest.ACLLine
}

// less reports whether r has strictly lower priority than o; ties favor
// whichever rule already owns an EC, matching the reference
// implementation's strict less-than replacement test.
func (r *Rule) less(o *Rule) bool { return r.Priority < o.Priority }

func newFIBRule(link *fgraph.Link, factory *geo.Factory, row ingest.FIBRow) *Rule {
	hr := factory.FromPrefix(row.Prefix)
	return &Rule{Link: link, Rect: hr, Priority: row.Prefix.Bits()}
}

func newACLLineRule(node *fgraph.Node, factory *geo.Factory, line *ingest.ACLLine, priority int) *Rule {
	link := node.DropLink
	if line.Action == ingest.Permit {
		link = node.ContinueLink
	}
	hr := aclLineRect(factory, line)
	return &Rule{Link: link, Rect: hr, Priority: priority, ACLLine: line}
}

func newACLDefaultDenyRule(node *fgraph.Node, factory *geo.Factory) *Rule {
	return &Rule{Link: node.DropLink, Rect: factory.FullSpace(), Priority: 0}
}

// aclLineRect converts one resolved ACL line into a single
// representative rectangle: fields with a disjunction of ranges fan out
// via cross product and only the first combination is kept, mirroring
// the upstream factory's own truncation to rectangles[0].
func aclLineRect(factory *geo.Factory, line *ingest.ACLLine) *rect.HyperRectangle {
	h := geo.NewHeaderSpace()
	if !line.SrcAny {
		for _, p := range line.SrcPrefix {
			h.Restrict(geo.SrcIP, geo.PrefixRange(p))
		}
	}
	if !line.DstAny {
		for _, p := range line.DstPrefix {
			h.Restrict(geo.DestIP, geo.PrefixRange(p))
		}
	}
	for _, svc := range line.Services {
		if !svc.AnyProtocol {
			h.Restrict(geo.IPProto, geo.Range{Lo: uint64(svc.Protocol), Hi: uint64(svc.Protocol) + 1})
		}
		if !svc.AnyPort {
			for _, pr := range svc.Ports {
				h.Restrict(geo.DestPort, geo.Range{Lo: uint64(pr.Lo), Hi: uint64(pr.Hi) + 1})
			}
		}
	}
	space := factory.FromHeaderSpace(h)
	return space.Rectangles[0]
}

// addRule is the classic deltanet insertion: physically split every EC
// that overlaps the rule's rectangle, then let updateRules relabel.
func (e *Engine) addRule(r *Rule) {
	hr := r.Rect
	var overlapping []*rect.HyperRectangle
	type delta struct{ old, new_ *rect.HyperRectangle }
	var deltas []delta

	for _, other := range e.kd.Intersect(hr) {
		overlap, ok := rect.Overlap(hr, other)
		if !ok {
			continue
		}
		if other.Equal(overlap) {
			overlapping = append(overlapping, other)
			continue
		}
		// rect.Subtract(other, overlap) only returns the part of other
		// outside overlap; the overlap region itself still needs its own
		// EC, so it's appended as the final partition member here rather
		// than inside Subtract, which callers elsewhere rely on to
		// exclude it (see rect_test.go).
		parts := append(rect.Subtract(other, overlap), overlap)

		e.kd.Delete(other)
		first := true
		for _, part := range parts {
			cur := part
			if first && !part.Equal(other) {
				other.SetBounds(part.Lo, part.Hi)
				first = false
				cur = other
			} else {
				cur.AlphaIndex = len(e.ecs)
				e.ecs = append(e.ecs, cur)
				e.ownerMap = append(e.ownerMap, nil)
				deltas = append(deltas, delta{other, cur})
			}
			e.kd.Insert(cur)
			if cur.Equal(overlap) {
				overlapping = append(overlapping, cur)
			}
		}
	}

	for _, d := range deltas {
		e.propagateOwner(d.old, d.new_)
	}
	e.updateRules(r, overlapping)
}

// docSplit records a sliver overlap split off from parent during DoC
// insertion, so its owner labels can be propagated from the parent once
// the whole recursive descent has finished.
type docSplit struct{ old, new_ *rect.HyperRectangle }

// docResult is a recursive addRuleDocRec outcome: the overlap volume this
// branch contributes, and (if ok) the EC index — either an existing EC or
// a freshly split sliver — that now accounts for that volume. A result
// with ok=false contributes volume but no EC, mirroring the reference's
// nullable Integer half of its Tuple<BigInteger, Integer>.
type docResult struct {
	volume *big.Int
	ec     int
	ok     bool
}

// addRuleDoc is the DoC insertion: ECs stay as a DAG of slivers; only the
// portion of an existing EC actually carved out by the new rule gets
// materialized as a child sliver.
func (e *Engine) addRuleDoc(r *Rule) {
	hr := r.Rect
	var overlapping []*rect.HyperRectangle
	var deltas []docSplit
	cache := make(map[int]docResult)
	others := e.kd.Intersect(hr)
	for _, other := range others {
		e.addRuleDocRec(hr, other, others, cache, &overlapping, &deltas)
	}
	for _, d := range deltas {
		e.propagateOwner(d.old, d.new_)
	}
	e.updateRules(r, overlapping)
}

func (e *Engine) addRuleDocRec(
	added, other *rect.HyperRectangle, others []*rect.HyperRectangle,
	cache map[int]docResult, overlapping *[]*rect.HyperRectangle, deltas *[]docSplit,
) docResult {
	if v, ok := cache[other.AlphaIndex]; ok {
		return v
	}

	overlap, ok := rect.Overlap(added, other)
	if !ok {
		zero := docResult{volume: big.NewInt(0)}
		cache[other.AlphaIndex] = zero
		return zero
	}
	overlapVolume := overlap.Volume()

	if other.Equal(overlap) {
		*overlapping = append(*overlapping, other)
		ret := docResult{volume: overlapVolume, ec: other.AlphaIndex, ok: true}
		cache[other.AlphaIndex] = ret
		return ret
	}

	childrenVolume := big.NewInt(0)
	var ecs []int
	for _, childIdx := range e.dag[other.AlphaIndex] {
		for _, o := range others {
			if o.AlphaIndex == childIdx {
				child := e.ecs[childIdx]
				res := e.addRuleDocRec(added, child, others, cache, overlapping, deltas)
				childrenVolume.Add(childrenVolume, res.volume)
				if res.ok {
					ecs = append(ecs, res.ec)
				}
				break
			}
		}
	}

	volume := new(big.Int).Sub(overlapVolume, childrenVolume)
	if volume.Sign() > 0 {
		otherVolume := e.volumes[other.AlphaIndex]
		newOtherVolume := new(big.Int).Sub(otherVolume, volume)
		if newOtherVolume.Sign() == 0 {
			*overlapping = append(*overlapping, other)
			ret := docResult{volume: overlapVolume, ec: other.AlphaIndex, ok: true}
			cache[other.AlphaIndex] = ret
			return ret
		}

		e.volumes[other.AlphaIndex] = newOtherVolume
		overlap.AlphaIndex = len(e.ecs)
		e.volumes = append(e.volumes, volume)
		e.ecs = append(e.ecs, overlap)
		e.ownerMap = append(e.ownerMap, nil)
		e.dag = append(e.dag, ecs)
		e.dag[other.AlphaIndex] = append(e.dag[other.AlphaIndex], overlap.AlphaIndex)
		*overlapping = append(*overlapping, overlap)
		e.kd.Insert(overlap)
		*deltas = append(*deltas, docSplit{other, overlap})

		ret := docResult{volume: overlapVolume, ec: overlap.AlphaIndex, ok: true}
		cache[other.AlphaIndex] = ret
		return ret
	}

	ret := docResult{volume: overlapVolume}
	cache[other.AlphaIndex] = ret
	return ret
}

func clonedOwner(src map[*fgraph.Node]*Rule) map[*fgraph.Node]*Rule {
	out := make(map[*fgraph.Node]*Rule, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// propagateOwner copies the ownership labels from a freshly split EC's
// parent onto its new sibling (used by both the classic and DoC backends), and relabels the
// owning rule's link to also carry the sibling.
func (e *Engine) propagateOwner(old, new_ *rect.HyperRectangle) {
	existing := e.ownerMap[old.AlphaIndex]
	clone := clonedOwner(existing)
	e.ownerMap[new_.AlphaIndex] = clone
	for _, owned := range existing {
		if owned != nil {
			e.labels[owned.Link.Index].Set(new_.AlphaIndex)
		}
	}
}

// updateRules applies r to every overlapping EC: if r outranks whatever
// rule currently owns that EC for r's source node, r's link gains the
// label and the old owner's link loses it.
func (e *Engine) updateRules(r *Rule, overlapping []*rect.HyperRectangle) {
	source := r.Link.Src
	for _, alpha := range overlapping {
		owners := e.ownerMap[alpha.AlphaIndex]
		if owners == nil {
			owners = make(map[*fgraph.Node]*Rule)
			e.ownerMap[alpha.AlphaIndex] = owners
		}
		current := owners[source]
		if current != nil && !current.less(r) {
			continue
		}
		e.labels[r.Link.Index].Set(alpha.AlphaIndex)
		if current != nil && current.Link != r.Link {
			e.labels[current.Link.Index].Clear(alpha.AlphaIndex)
		}
		owners[source] = r
	}
}
