package ingest

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
)

// FortiGateParser reads one device's FortiGate-style configuration text
// and resolves it into a RouterConfig.
type FortiGateParser struct {
	router  string
	scanner *bufio.Scanner
	store   *objectStore

	interfaces []rawInterface
	routes     []rawRoute
	policies   []rawPolicy
}

type rawInterface struct {
	Name string
	Addr netip.Prefix
}

type rawRoute struct {
	Prefix    netip.Prefix
	Device    string
	Blackhole bool
}

// NewFortiGateParser creates a parser for one router's configuration
// text; router names the device, used to tag the resulting RouterConfig
// and its topology references.
func NewFortiGateParser(router string, r io.Reader) *FortiGateParser {
	return &FortiGateParser{
		router:  router,
		scanner: bufio.NewScanner(r),
		store:   newObjectStore(),
	}
}

// Parse consumes the whole input and returns the resolved router
// configuration.
func (p *FortiGateParser) Parse() (*RouterConfig, error) {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		switch {
		case strings.HasPrefix(line, "config system interface"):
			if err := p.parseInterfaceConfig(); err != nil {
				return nil, fmt.Errorf("config system interface: %w", err)
			}
		case strings.HasPrefix(line, "config router static"):
			if err := p.parseStaticRouteConfig(); err != nil {
				return nil, fmt.Errorf("config router static: %w", err)
			}
		case strings.HasPrefix(line, "config firewall address"):
			if err := p.parseAddressConfig(); err != nil {
				return nil, fmt.Errorf("config firewall address: %w", err)
			}
		case strings.HasPrefix(line, "config firewall addrgrp"):
			if err := p.parseAddrGrpConfig(); err != nil {
				return nil, fmt.Errorf("config firewall addrgrp: %w", err)
			}
		case strings.HasPrefix(line, "config firewall service custom"):
			if err := p.parseServiceCustomConfig(); err != nil {
				return nil, fmt.Errorf("config firewall service custom: %w", err)
			}
		case strings.HasPrefix(line, "config firewall service group"):
			if err := p.parseServiceGroupConfig(); err != nil {
				return nil, fmt.Errorf("config firewall service group: %w", err)
			}
		case strings.HasPrefix(line, "config firewall policy"):
			if err := p.parsePolicyConfig(); err != nil {
				return nil, fmt.Errorf("config firewall policy: %w", err)
			}
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	return p.build()
}

func (p *FortiGateParser) parseInterfaceConfig() error {
	var current *rawInterface
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			p.interfaces = append(p.interfaces, rawInterface{Name: unquote(parts[1])})
			current = &p.interfaces[len(p.interfaces)-1]
		case "set":
			if current == nil || parts[1] != "ip" {
				continue
			}
			// "set ip 10.0.0.1 255.255.255.0"
			prefix, err := prefixFromMaskPair(parts[2], parts[3])
			if err == nil {
				current.Addr = prefix
			}
		case "next":
			current = nil
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parseStaticRouteConfig() error {
	var current *rawRoute
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			p.routes = append(p.routes, rawRoute{})
			current = &p.routes[len(p.routes)-1]
		case "set":
			if current == nil {
				continue
			}
			switch parts[1] {
			case "dst":
				prefix, err := prefixFromMaskPair(parts[2], parts[3])
				if err == nil {
					current.Prefix = prefix
				}
			case "device":
				current.Device = unquote(parts[2])
			case "blackhole":
				current.Blackhole = parts[2] == "enable"
			}
		case "next":
			current = nil
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parseAddressConfig() error {
	var currentName string
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			currentName = unquote(parts[1])
			p.store.addresses[currentName] = rawAddress{Name: currentName}
		case "set":
			if currentName == "" {
				continue
			}
			addr := p.store.addresses[currentName]
			switch parts[1] {
			case "subnet":
				prefix, err := prefixFromMaskPair(parts[2], parts[3])
				if err == nil {
					addr.Prefix, addr.HasAddr = prefix, true
				}
			case "type":
				if parts[2] == "all" {
					addr.Any = true
				}
			}
			p.store.addresses[currentName] = addr
		case "next":
			currentName = ""
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parseAddrGrpConfig() error {
	var currentGroup string
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			currentGroup = unquote(parts[1])
		case "set":
			if currentGroup != "" && parts[1] == "member" {
				p.store.addrGrps[currentGroup] = unquoteAll(parts[2:])
			}
		case "next":
			currentGroup = ""
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parseServiceCustomConfig() error {
	var currentName string
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			currentName = unquote(parts[1])
			p.store.services[currentName] = rawService{Name: currentName}
		case "set":
			if currentName == "" || !strings.Contains(line, "portrange") {
				continue
			}
			svc := p.store.services[currentName]
			normalized := strings.ReplaceAll(line, "=", " ")
			fields := strings.Fields(normalized)
			portRange := fields[2]
			lo, hi, err := parsePortRange(portRange)
			if err != nil {
				continue
			}
			svc.Ports = append(svc.Ports, PortRange{Lo: lo, Hi: hi})
			if strings.HasPrefix(fields[1], "tcp") {
				svc.Protocol = 6
			} else if strings.HasPrefix(fields[1], "udp") {
				svc.Protocol = 17
			}
			p.store.services[currentName] = svc
		case "next":
			currentName = ""
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parseServiceGroupConfig() error {
	var currentGroup string
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			currentGroup = unquote(parts[1])
		case "set":
			if currentGroup != "" && parts[1] == "member" {
				p.store.svcGrps[currentGroup] = unquoteAll(parts[2:])
			}
		case "next":
			currentGroup = ""
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parsePolicyConfig() error {
	var current *rawPolicy
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			id, _ := strconv.Atoi(parts[1])
			p.policies = append(p.policies, rawPolicy{Index: id, Name: parts[1]})
			current = &p.policies[len(p.policies)-1]
		case "set":
			if current == nil {
				continue
			}
			args := unquoteAll(parts[2:])
			switch parts[1] {
			case "srcintf":
				current.SrcIntf = append(current.SrcIntf, args...)
			case "dstintf":
				current.DstIntf = append(current.DstIntf, args...)
			case "srcaddr":
				current.SrcAddrs = append(current.SrcAddrs, args...)
			case "dstaddr":
				current.DstAddrs = append(current.DstAddrs, args...)
			case "service":
				current.Services = append(current.Services, args...)
			case "action":
				if parts[2] == "accept" {
					current.Action = Permit
				} else {
					current.Action = Deny
				}
			case "status":
				current.Enabled = parts[2] == "enable"
			}
		case "next":
			if current != nil {
				if len(current.SrcIntf) == 0 {
					current.SrcIntf = []string{"any"}
				}
				if len(current.DstIntf) == 0 {
					current.DstIntf = []string{"any"}
				}
			}
			current = nil
		}
	}
	return io.ErrUnexpectedEOF
}

// build resolves the raw parse into a RouterConfig: flattens every
// policy's address/service groups, then scopes the resulting ACL lines
// onto each named interface by srcintf/dstintf membership.
func (p *FortiGateParser) build() (*RouterConfig, error) {
	var lines []ACLLine
	policyIntfs := make(map[int]rawPolicy)
	for _, raw := range p.policies {
		if !raw.Enabled {
			continue
		}
		line, err := p.store.resolveLine(raw)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
		policyIntfs[raw.Index] = raw
	}

	rc := &RouterConfig{Name: p.router}
	for _, ri := range p.interfaces {
		iface := Interface{Name: ri.Name, Address: ri.Addr}

		var outLines, inLines []ACLLine
		for _, line := range lines {
			raw := policyIntfs[line.Index]
			if intfMatches(raw.DstIntf, ri.Name) {
				outLines = append(outLines, line)
			}
			if intfMatches(raw.SrcIntf, ri.Name) {
				inLines = append(inLines, line)
			}
		}
		if len(outLines) > 0 {
			iface.OutgoingACL = &ACL{Name: p.router + ":" + ri.Name + ":out", Lines: outLines}
		}
		if len(inLines) > 0 {
			iface.IncomingACL = &ACL{Name: p.router + ":" + ri.Name + ":in", Lines: inLines}
		}
		rc.Interfaces = append(rc.Interfaces, iface)
	}

	for _, rr := range p.routes {
		rc.FIB = append(rc.FIB, FIBRow{Prefix: rr.Prefix, OutInterface: rr.Device, NullRoute: rr.Blackhole})
	}
	return rc, nil
}

func intfMatches(names []string, iface string) bool {
	for _, n := range names {
		if n == "any" || n == iface {
			return true
		}
	}
	return false
}

func prefixFromMaskPair(addr, mask string) (netip.Prefix, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Prefix{}, err
	}
	maskIP, err := netip.ParseAddr(mask)
	if err != nil {
		return netip.Prefix{}, err
	}
	bits := maskBits(maskIP.As4())
	return netip.PrefixFrom(ip, bits).Masked(), nil
}

func maskBits(m [4]byte) int {
	bits := 0
	for _, b := range m {
		for b != 0 {
			bits += int(b & 1)
			b >>= 1
		}
	}
	return bits
}

func parsePortRange(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	hi := lo
	if len(parts) == 2 {
		hi, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, err
		}
	}
	return uint16(lo), uint16(hi), nil
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func unquoteAll(parts []string) []string {
	joined := strings.TrimSpace(strings.Join(parts, " "))
	raw := strings.Split(joined, `" "`)
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = unquote(r)
	}
	return out
}
