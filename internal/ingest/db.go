package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"

	_ "github.com/go-sql-driver/mysql"
)

// DBLoader loads a full data plane snapshot from a MariaDB-compatible
// configuration database: one row per interface, route, ACL, and
// topology edge, plus the object/group tables each ACL's policies
// reference.
type DBLoader struct {
	db *sql.DB
}

// NewDBLoader opens a connection using a go-sql-driver/mysql DSN and
// verifies it with a ping.
func NewDBLoader(dsn string) (*DBLoader, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ingest: pinging database: %w", err)
	}
	return &DBLoader{db: db}, nil
}

func (l *DBLoader) Close() error { return l.db.Close() }

// Load reads every router's interfaces, routes, and policies, plus the
// inter-router topology, and returns the resolved DataPlane.
func (l *DBLoader) Load() (*DataPlane, error) {
	store, policiesByRouter, err := l.loadObjectsAndPolicies()
	if err != nil {
		return nil, err
	}
	interfaces, err := l.loadInterfaces()
	if err != nil {
		return nil, fmt.Errorf("ingest: loading interfaces: %w", err)
	}
	routes, err := l.loadRoutes()
	if err != nil {
		return nil, fmt.Errorf("ingest: loading routes: %w", err)
	}
	topology, err := l.loadTopology()
	if err != nil {
		return nil, fmt.Errorf("ingest: loading topology: %w", err)
	}

	dp := &DataPlane{Topology: topology}
	routerNames := make(map[string]bool)
	for r := range interfaces {
		routerNames[r] = true
	}
	for r := range routes {
		routerNames[r] = true
	}

	var names []string
	for r := range routerNames {
		names = append(names, r)
	}
	sort.Strings(names)

	for _, router := range names {
		rc := RouterConfig{Name: router, FIB: routes[router]}
		raws := policiesByRouter[router]

		var lines []ACLLine
		lineForPolicy := make(map[int]rawPolicy)
		for _, raw := range raws {
			if !raw.Enabled {
				continue
			}
			line, err := store.resolveLine(raw)
			if err != nil {
				return nil, fmt.Errorf("ingest: router %s: %w", router, err)
			}
			lines = append(lines, line)
			lineForPolicy[raw.Index] = raw
		}

		for _, ri := range interfaces[router] {
			iface := Interface{Name: ri.Name, Address: ri.Addr}
			var outLines, inLines []ACLLine
			for _, line := range lines {
				raw := lineForPolicy[line.Index]
				if intfMatches(raw.DstIntf, ri.Name) {
					outLines = append(outLines, line)
				}
				if intfMatches(raw.SrcIntf, ri.Name) {
					inLines = append(inLines, line)
				}
			}
			if len(outLines) > 0 {
				iface.OutgoingACL = &ACL{Name: router + ":" + ri.Name + ":out", Lines: outLines}
			}
			if len(inLines) > 0 {
				iface.IncomingACL = &ACL{Name: router + ":" + ri.Name + ":in", Lines: inLines}
			}
			rc.Interfaces = append(rc.Interfaces, iface)
		}
		dp.Routers = append(dp.Routers, rc)
	}
	return dp, nil
}

func (l *DBLoader) loadObjectsAndPolicies() (*objectStore, map[string][]rawPolicy, error) {
	store := newObjectStore()

	rows, err := l.db.Query("SELECT object_name, address_type, subnet FROM cfg_address")
	if err != nil {
		return nil, nil, fmt.Errorf("loading addresses: %w", err)
	}
	for rows.Next() {
		var name, addrType string
		var subnet sql.NullString
		if err := rows.Scan(&name, &addrType, &subnet); err != nil {
			rows.Close()
			return nil, nil, err
		}
		addr := rawAddress{Name: name}
		if addrType == "all" {
			addr.Any = true
		} else if subnet.Valid {
			if p, err := netip.ParsePrefix(subnet.String); err == nil {
				addr.Prefix, addr.HasAddr = p, true
			}
		}
		store.addresses[name] = addr
	}
	rows.Close()

	rows, err = l.db.Query("SELECT group_name, members FROM cfg_address_group")
	if err != nil {
		return nil, nil, fmt.Errorf("loading address groups: %w", err)
	}
	for rows.Next() {
		var group, membersJSON string
		if err := rows.Scan(&group, &membersJSON); err != nil {
			rows.Close()
			return nil, nil, err
		}
		var members []string
		if json.Unmarshal([]byte(membersJSON), &members) == nil {
			store.addrGrps[group] = members
		}
	}
	rows.Close()

	rows, err = l.db.Query("SELECT service_name, protocol, ports FROM cfg_service")
	if err != nil {
		return nil, nil, fmt.Errorf("loading services: %w", err)
	}
	for rows.Next() {
		var name, protocol, portsJSON string
		if err := rows.Scan(&name, &protocol, &portsJSON); err != nil {
			rows.Close()
			return nil, nil, err
		}
		svc := rawService{Name: name}
		switch protocol {
		case "tcp":
			svc.Protocol = 6
		case "udp":
			svc.Protocol = 17
		default:
			svc.AnyProtocol = true
		}
		var ranges [][2]int
		if json.Unmarshal([]byte(portsJSON), &ranges) == nil {
			for _, pr := range ranges {
				svc.Ports = append(svc.Ports, PortRange{Lo: uint16(pr[0]), Hi: uint16(pr[1])})
			}
		}
		store.services[name] = svc
	}
	rows.Close()

	rows, err = l.db.Query("SELECT group_name, members FROM cfg_service_group")
	if err != nil {
		return nil, nil, fmt.Errorf("loading service groups: %w", err)
	}
	for rows.Next() {
		var group, membersJSON string
		if err := rows.Scan(&group, &membersJSON); err != nil {
			rows.Close()
			return nil, nil, err
		}
		var members []string
		if json.Unmarshal([]byte(membersJSON), &members) == nil {
			store.svcGrps[group] = members
		}
	}
	rows.Close()

	rows, err = l.db.Query(`SELECT router, priority, policy_id, srcintf, dstintf, src_objects,
		dst_objects, service_objects, action, is_enabled FROM cfg_policy ORDER BY router, priority ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("loading policies: %w", err)
	}
	defer rows.Close()

	byRouter := make(map[string][]rawPolicy)
	for rows.Next() {
		var router, action, isEnabled string
		var policyID, priority int
		var srcIntfJSON, dstIntfJSON, srcJSON, dstJSON, svcJSON string
		if err := rows.Scan(&router, &priority, &policyID, &srcIntfJSON, &dstIntfJSON,
			&srcJSON, &dstJSON, &svcJSON, &action, &isEnabled); err != nil {
			return nil, nil, err
		}
		raw := rawPolicy{Index: policyID, Name: fmt.Sprintf("%d", policyID), Enabled: isEnabled == "enable"}
		if action == "accept" {
			raw.Action = Permit
		}
		json.Unmarshal([]byte(srcIntfJSON), &raw.SrcIntf)
		json.Unmarshal([]byte(dstIntfJSON), &raw.DstIntf)
		json.Unmarshal([]byte(srcJSON), &raw.SrcAddrs)
		json.Unmarshal([]byte(dstJSON), &raw.DstAddrs)
		json.Unmarshal([]byte(svcJSON), &raw.Services)
		if len(raw.SrcIntf) == 0 {
			raw.SrcIntf = []string{"any"}
		}
		if len(raw.DstIntf) == 0 {
			raw.DstIntf = []string{"any"}
		}
		byRouter[router] = append(byRouter[router], raw)
	}
	return store, byRouter, nil
}

func (l *DBLoader) loadInterfaces() (map[string][]rawInterface, error) {
	rows, err := l.db.Query("SELECT router, name, address FROM cfg_interface")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]rawInterface)
	for rows.Next() {
		var router, name string
		var address sql.NullString
		if err := rows.Scan(&router, &name, &address); err != nil {
			return nil, err
		}
		ri := rawInterface{Name: name}
		if address.Valid {
			if p, err := netip.ParsePrefix(address.String); err == nil {
				ri.Addr = p
			}
		}
		out[router] = append(out[router], ri)
	}
	return out, nil
}

func (l *DBLoader) loadRoutes() (map[string][]FIBRow, error) {
	rows, err := l.db.Query("SELECT router, dst, device, blackhole FROM cfg_route")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]FIBRow)
	for rows.Next() {
		var router, dst, device string
		var blackhole bool
		if err := rows.Scan(&router, &dst, &device, &blackhole); err != nil {
			return nil, err
		}
		prefix, err := netip.ParsePrefix(dst)
		if err != nil {
			continue
		}
		out[router] = append(out[router], FIBRow{Prefix: prefix, OutInterface: device, NullRoute: blackhole})
	}
	return out, nil
}

func (l *DBLoader) loadTopology() ([]TopologyEdge, error) {
	rows, err := l.db.Query("SELECT src_router, src_iface, dst_router, dst_iface FROM cfg_topology")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopologyEdge
	for rows.Next() {
		var e TopologyEdge
		if err := rows.Scan(&e.SrcRouter, &e.SrcIface, &e.DstRouter, &e.DstIface); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
