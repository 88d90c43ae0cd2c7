package ingest

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"ecgraph/pkg/wellknown"
)

// rawAddress is an address object as written in configuration, before
// group membership is flattened.
type rawAddress struct {
	Name    string
	Any     bool
	Prefix  netip.Prefix
	HasAddr bool
}

// rawService is a service object as written in configuration, before
// group membership is flattened.
type rawService struct {
	Name        string
	Any         bool
	AnyProtocol bool
	Protocol    uint8
	Ports       []PortRange
}

// rawPolicy is one firewall rule as written, referencing address and
// service objects (or groups of them) by name.
type rawPolicy struct {
	Index    int
	Name     string
	SrcIntf  []string // "any" matches every interface
	DstIntf  []string
	SrcAddrs []string
	DstAddrs []string
	Services []string
	Action   Action
	Enabled  bool
}

// objectStore holds every address/service object and group parsed out of
// one configuration source, and resolves policies against it.
type objectStore struct {
	addresses map[string]rawAddress
	services  map[string]rawService
	addrGrps  map[string][]string
	svcGrps   map[string][]string
}

func newObjectStore() *objectStore {
	return &objectStore{
		addresses: make(map[string]rawAddress),
		services:  make(map[string]rawService),
		addrGrps:  make(map[string][]string),
		svcGrps:   make(map[string][]string),
	}
}

func (s *objectStore) resolveLine(p rawPolicy) (ACLLine, error) {
	line := ACLLine{Index: p.Index, Action: p.Action}

	srcPrefixes, srcAny, err := s.flattenAddrs(p.SrcAddrs)
	if err != nil {
		return ACLLine{}, fmt.Errorf("policy %s: src addresses: %w", p.Name, err)
	}
	line.SrcAny, line.SrcPrefix = srcAny, srcPrefixes

	dstPrefixes, dstAny, err := s.flattenAddrs(p.DstAddrs)
	if err != nil {
		return ACLLine{}, fmt.Errorf("policy %s: dst addresses: %w", p.Name, err)
	}
	line.DstAny, line.DstPrefix = dstAny, dstPrefixes

	svcs, err := s.flattenServices(p.Services)
	if err != nil {
		return ACLLine{}, fmt.Errorf("policy %s: services: %w", p.Name, err)
	}
	line.Services = svcs
	return line, nil
}

func (s *objectStore) flattenAddrs(names []string) ([]netip.Prefix, bool, error) {
	if len(names) == 0 {
		return nil, true, nil
	}
	var out []netip.Prefix
	for _, name := range names {
		prefixes, any, err := s.flattenAddrGroup(name, make(map[string]bool))
		if err != nil {
			return nil, false, err
		}
		if any {
			return nil, true, nil
		}
		out = append(out, prefixes...)
	}
	return out, false, nil
}

func (s *objectStore) flattenAddrGroup(name string, visited map[string]bool) ([]netip.Prefix, bool, error) {
	if strings.EqualFold(name, "all") || strings.EqualFold(name, "any") {
		return nil, true, nil
	}
	if visited[name] {
		return nil, false, fmt.Errorf("circular dependency in address group %q", name)
	}
	visited[name] = true
	defer delete(visited, name)

	if addr, ok := s.addresses[name]; ok {
		if addr.Any {
			return nil, true, nil
		}
		if addr.HasAddr {
			return []netip.Prefix{addr.Prefix}, false, nil
		}
	}

	if members, ok := s.addrGrps[name]; ok {
		var out []netip.Prefix
		for _, m := range members {
			prefixes, any, err := s.flattenAddrGroup(m, visited)
			if err != nil {
				return nil, false, err
			}
			if any {
				return nil, true, nil
			}
			out = append(out, prefixes...)
		}
		return out, false, nil
	}
	return nil, false, nil
}

func (s *objectStore) flattenServices(names []string) ([]ServiceObject, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var out []ServiceObject
	for _, name := range names {
		svcs, err := s.flattenSvcGroup(name, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		out = append(out, svcs...)
	}
	return out, nil
}

func (s *objectStore) flattenSvcGroup(name string, visited map[string]bool) ([]ServiceObject, error) {
	if strings.EqualFold(name, "all") || strings.EqualFold(name, "any") {
		return []ServiceObject{{Name: name, AnyProtocol: true, AnyPort: true}}, nil
	}
	if visited[name] {
		return nil, fmt.Errorf("circular dependency in service group %q", name)
	}
	visited[name] = true
	defer delete(visited, name)

	var out []ServiceObject
	found := false

	if svc, ok := s.services[name]; ok {
		out = append(out, ServiceObject{
			Name: name, AnyProtocol: svc.AnyProtocol, Protocol: svc.Protocol, AnyPort: svc.Any, Ports: svc.Ports,
		})
		found = true
	}

	if members, ok := s.svcGrps[name]; ok {
		for _, m := range members {
			resolved, err := s.flattenSvcGroup(m, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved...)
		}
		found = true
	}

	if !found {
		if entries, ok := wellknown.GetService(name); ok {
			for _, e := range entries {
				out = append(out, ServiceObject{
					Name: name, Protocol: e.Protocol, Ports: []PortRange{{Lo: e.Port, Hi: e.Port}},
				})
			}
			found = true
		}
	}

	if !found {
		// Ad hoc "tcp_8001-8004" style service names.
		if svc, ok := parseAdHocService(name); ok {
			out = append(out, svc)
		}
	}
	return out, nil
}

func parseAdHocService(name string) (ServiceObject, bool) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return ServiceObject{}, false
	}
	proto, ok := protocolNumber(parts[0])
	if !ok {
		return ServiceObject{}, false
	}
	portParts := strings.SplitN(parts[1], "-", 2)
	lo, err := strconv.Atoi(portParts[0])
	if err != nil {
		return ServiceObject{}, false
	}
	hi := lo
	if len(portParts) == 2 {
		hi, err = strconv.Atoi(portParts[1])
		if err != nil {
			return ServiceObject{}, false
		}
	}
	return ServiceObject{Name: name, Protocol: proto, Ports: []PortRange{{Lo: uint16(lo), Hi: uint16(hi)}}}, true
}

func protocolNumber(s string) (uint8, bool) {
	switch strings.ToLower(s) {
	case "tcp":
		return 6, true
	case "udp":
		return 17, true
	case "icmp":
		return 1, true
	default:
		return 0, false
	}
}
