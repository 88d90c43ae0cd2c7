package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseTopology reads one "router1:iface1 - router2:iface2" edge per
// line and returns both directed edges for each (links are bidirectional
// wires; the graph builder assigns ACLs and directions independently per
// side). Blank lines and lines starting with "#" are ignored.
func ParseTopology(r io.Reader) ([]TopologyEdge, error) {
	scanner := bufio.NewScanner(r)
	var edges []TopologyEdge
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sides := strings.SplitN(line, "-", 2)
		if len(sides) != 2 {
			return nil, fmt.Errorf("topology line %d: expected \"router:iface - router:iface\", got %q", lineNo, line)
		}
		a, err := parseNodeInterface(sides[0])
		if err != nil {
			return nil, fmt.Errorf("topology line %d: %w", lineNo, err)
		}
		b, err := parseNodeInterface(sides[1])
		if err != nil {
			return nil, fmt.Errorf("topology line %d: %w", lineNo, err)
		}
		edges = append(edges,
			TopologyEdge{SrcRouter: a.router, SrcIface: a.iface, DstRouter: b.router, DstIface: b.iface},
			TopologyEdge{SrcRouter: b.router, SrcIface: b.iface, DstRouter: a.router, DstIface: a.iface},
		)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading topology: %w", err)
	}
	return edges, nil
}

type nodeInterface struct {
	router, iface string
}

func parseNodeInterface(s string) (nodeInterface, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nodeInterface{}, fmt.Errorf("expected \"router:iface\", got %q", s)
	}
	return nodeInterface{router: strings.TrimSpace(parts[0]), iface: strings.TrimSpace(parts[1])}, nil
}
