// Package engine builds and queries the equivalence-class forwarding
// model: spec components E (EC store), F (rule insertion), and G
// (reachability), kept together the way the reference implementation
// keeps them as one cohesive object, split here by concern across
// engine.go, rules.go, and reachability.go.
package engine

import (
	"fmt"
	"math/big"
	"sort"

	"ecgraph/internal/fgraph"
	"ecgraph/internal/geo"
	"ecgraph/internal/ingest"
	"ecgraph/internal/kdtree"
	"ecgraph/internal/rect"
)

// BackendType selects which EC-store representation rule insertion uses.
type BackendType int

const (
	// DeltaNet physically splits overlapping ECs on every rule insert.
	DeltaNet BackendType = iota
	// DeltaNetDoC keeps ECs as a DAG of slivers (the "difference of
	// cubes" representation) and only materializes the slivers an
	// insertion actually needs.
	DeltaNetDoC
)

// Engine holds one constructed forwarding model: the graph, the live
// equivalence classes, and the per-link labels that record which ECs
// currently cross each link.
type Engine struct {
	Graph   *fgraph.Graph
	Factory *geo.Factory
	backend BackendType

	ecs      []*rect.HyperRectangle
	ownerMap []map[*fgraph.Node]*Rule
	labels   []*bitset
	kd       *kdtree.Tree

	// dag/volumes back the DoC representation only: dag[i] lists the
	// alpha indices of the slivers that subdivide ecs[i], and
	// volumes[i] is ecs[i]'s own (undivided) remaining volume.
	dag     [][]int
	volumes []*big.Int
}

// New builds the forwarding graph and the initial edge-labelled EC model
// for a data plane snapshot, then inserts every FIB and ACL rule in the
// deterministic order the reference construction uses.
func New(dp *ingest.DataPlane, backend BackendType) (*Engine, error) {
	if backend != DeltaNet && backend != DeltaNetDoC {
		return nil, fmt.Errorf("engine: unknown backend %d", backend)
	}

	g := fgraph.Build(dp)
	for _, rc := range dp.Routers {
		for _, row := range rc.FIB {
			iface := row.OutInterface
			if row.NullRoute {
				iface = fgraph.NullInterface
			}
			if g.LinkFrom(rc.Name, iface) == nil {
				return nil, fmt.Errorf("engine: router %s: FIB row %s uses unknown interface %q", rc.Name, row.Prefix, iface)
			}
		}
	}
	factory := geo.NewFactory(activeFields(dp))

	full := factory.FullSpace()
	full.AlphaIndex = 0

	e := &Engine{
		Graph:   g,
		Factory: factory,
		backend: backend,
		ecs:     []*rect.HyperRectangle{full},
		ownerMap: []map[*fgraph.Node]*Rule{
			make(map[*fgraph.Node]*Rule),
		},
		kd:     kdtree.New(factory.NumFields()),
		labels: make([]*bitset, len(g.Links)),
	}
	e.kd.Insert(full)
	for i := range e.labels {
		e.labels[i] = &bitset{}
	}
	if backend == DeltaNetDoC {
		e.dag = [][]int{nil}
		e.volumes = []*big.Int{full.Volume()}
	}

	rules := buildRules(g, dp, factory)
	for _, r := range rules {
		e.insertRule(r)
	}
	return e, nil
}

func (e *Engine) insertRule(r *Rule) {
	if e.backend == DeltaNetDoC {
		e.addRuleDoc(r)
	} else {
		e.addRule(r)
	}
}

// activeFields narrows the modeled dimensions to DestIP plus whatever
// fields some ACL line in the network actually restricts, so routers
// that only ever match on destination don't pay for unused axes.
func activeFields(dp *ingest.DataPlane) map[geo.Field]bool {
	active := map[geo.Field]bool{geo.DestIP: true}
	visit := func(acl *ingest.ACL) {
		if acl == nil {
			return
		}
		for _, line := range acl.Lines {
			if !line.SrcAny {
				active[geo.SrcIP] = true
			}
			for _, svc := range line.Services {
				if !svc.AnyProtocol {
					active[geo.IPProto] = true
				}
				if !svc.AnyPort {
					active[geo.DestPort] = true
				}
			}
		}
	}
	for _, rc := range dp.Routers {
		for _, iface := range rc.Interfaces {
			visit(iface.OutgoingACL)
			visit(iface.IncomingACL)
		}
	}
	return active
}

// buildRules produces every FIB and ACL rule for the network, in the
// deterministic seed-7 shuffle order the reference construction uses:
// ACL rules always precede the FIB rules, which are sorted by rectangle
// lower bounds and then given a seeded shuffle, which gives the KD-tree a
// better-balanced initial split.
func buildRules(g *fgraph.Graph, dp *ingest.DataPlane, factory *geo.Factory) []*Rule {
	var fibRules []*Rule
	for _, rc := range dp.Routers {
		for _, row := range rc.FIB {
			iface := row.OutInterface
			if row.NullRoute {
				iface = fgraph.NullInterface
			}
			if link := g.LinkFrom(rc.Name, iface); link != nil {
				fibRules = append(fibRules, newFIBRule(link, factory, row))
			}
		}
	}
	sort.SliceStable(fibRules, func(i, j int) bool {
		return rectLess(fibRules[i].Rect, fibRules[j].Rect)
	})
	shuffleSeed7(fibRules)

	var aclRules []*Rule
	for _, n := range g.Nodes {
		if n.Kind != fgraph.ACLNode {
			continue
		}
		lines := n.ACL.Lines
		for i, line := range lines {
			priority := len(lines) - i
			aclRules = append(aclRules, newACLLineRule(n, factory, &line, priority))
		}
		aclRules = append(aclRules, newACLDefaultDenyRule(n, factory))
	}

	return append(aclRules, fibRules...)
}

func rectLess(a, b *rect.HyperRectangle) bool {
	for i := range a.Lo {
		if a.Lo[i] != b.Lo[i] {
			return a.Lo[i] < b.Lo[i]
		}
	}
	return false
}

// shuffleSeed7 reorders rules with the same fixed linear-congruential
// sequence every run, so KD-tree balance is deterministic across builds
// without depending on map iteration order upstream.
func shuffleSeed7(rules []*Rule) {
	state := uint64(7)
	next := func() uint64 {
		state = state*6364136223846793005 + 1442695040888963407
		return state
	}
	for i := len(rules) - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		rules[i], rules[j] = rules[j], rules[i]
	}
}
