package ingest

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

var testDB *sql.DB

const testDSN = "root:ecgraph@tcp(127.0.0.1:3306)/ecgraph_test"

func TestMain(m *testing.M) {
	var err error
	testDB, err = sql.Open("mysql", testDSN)
	if err != nil {
		fmt.Printf("failed to open MariaDB: %v\n", err)
		os.Exit(0)
	}
	if err := testDB.Ping(); err != nil {
		fmt.Printf("MariaDB not reachable, skipping db tests: %v\n", err)
		os.Exit(0)
	}
	setupSchema()
	os.Exit(m.Run())
}

func setupSchema() {
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS cfg_policy",
		"DROP TABLE IF EXISTS cfg_address",
		"DROP TABLE IF EXISTS cfg_address_group",
		"DROP TABLE IF EXISTS cfg_service",
		"DROP TABLE IF EXISTS cfg_service_group",
		"DROP TABLE IF EXISTS cfg_interface",
		"DROP TABLE IF EXISTS cfg_route",
		"DROP TABLE IF EXISTS cfg_topology",
	} {
		testDB.Exec(stmt)
	}

	testDB.Exec(`CREATE TABLE cfg_address (
		object_name VARCHAR(64) NOT NULL,
		address_type VARCHAR(16) NOT NULL,
		subnet VARCHAR(64) NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_address_group (
		group_name VARCHAR(64) NOT NULL,
		members LONGTEXT NOT NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_service (
		service_name VARCHAR(64) NOT NULL,
		protocol VARCHAR(16) NOT NULL,
		ports LONGTEXT NOT NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_service_group (
		group_name VARCHAR(64) NOT NULL,
		members LONGTEXT NOT NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_policy (
		router VARCHAR(64) NOT NULL,
		priority INT NOT NULL,
		policy_id INT NOT NULL,
		srcintf LONGTEXT NOT NULL,
		dstintf LONGTEXT NOT NULL,
		src_objects LONGTEXT NOT NULL,
		dst_objects LONGTEXT NOT NULL,
		service_objects LONGTEXT NOT NULL,
		action VARCHAR(16) NOT NULL,
		is_enabled VARCHAR(16) NOT NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_interface (
		router VARCHAR(64) NOT NULL,
		name VARCHAR(64) NOT NULL,
		address VARCHAR(64) NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_route (
		router VARCHAR(64) NOT NULL,
		dst VARCHAR(64) NOT NULL,
		device VARCHAR(64) NOT NULL,
		blackhole BOOLEAN NOT NULL
	)`)
	testDB.Exec(`CREATE TABLE cfg_topology (
		src_router VARCHAR(64) NOT NULL,
		src_iface VARCHAR(64) NOT NULL,
		dst_router VARCHAR(64) NOT NULL,
		dst_iface VARCHAR(64) NOT NULL
	)`)
}

func TestDBLoaderLoadsFullDataPlane(t *testing.T) {
	testDB.Exec("DELETE FROM cfg_address")
	testDB.Exec("DELETE FROM cfg_address_group")
	testDB.Exec("DELETE FROM cfg_service")
	testDB.Exec("DELETE FROM cfg_service_group")
	testDB.Exec("DELETE FROM cfg_policy")
	testDB.Exec("DELETE FROM cfg_interface")
	testDB.Exec("DELETE FROM cfg_route")
	testDB.Exec("DELETE FROM cfg_topology")

	testDB.Exec("INSERT INTO cfg_address (object_name, address_type, subnet) VALUES (?, ?, ?)", "addr1", "ipmask", "10.0.0.0/24")
	testDB.Exec("INSERT INTO cfg_address_group (group_name, members) VALUES (?, ?)", "grp1", `["addr1"]`)
	testDB.Exec("INSERT INTO cfg_service (service_name, protocol, ports) VALUES (?, ?, ?)", "svc1", "tcp", `[[80,80]]`)
	testDB.Exec(`INSERT INTO cfg_policy
		(router, priority, policy_id, srcintf, dstintf, src_objects, dst_objects, service_objects, action, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"r1", 10, 1, `["eth0"]`, `["eth1"]`, `["grp1"]`, `["all"]`, `["svc1"]`, "accept", "enable")
	testDB.Exec("INSERT INTO cfg_interface (router, name, address) VALUES (?, ?, ?)", "r1", "eth0", "10.0.0.1/24")
	testDB.Exec("INSERT INTO cfg_interface (router, name, address) VALUES (?, ?, ?)", "r1", "eth1", "192.168.1.1/24")
	testDB.Exec("INSERT INTO cfg_route (router, dst, device, blackhole) VALUES (?, ?, ?, ?)", "r1", "0.0.0.0/0", "eth1", false)
	testDB.Exec("INSERT INTO cfg_topology (src_router, src_iface, dst_router, dst_iface) VALUES (?, ?, ?, ?)", "r1", "eth1", "r2", "eth0")

	loader, err := NewDBLoader(testDSN)
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	defer loader.Close()

	dp, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load data plane: %v", err)
	}

	if len(dp.Routers) != 1 {
		t.Fatalf("expected 1 router (r2 has no config rows of its own), got %d", len(dp.Routers))
	}
	r1 := dp.Routers[0]
	if r1.Name != "r1" {
		t.Fatalf("expected router r1, got %s", r1.Name)
	}
	if len(r1.FIB) != 1 || r1.FIB[0].OutInterface != "eth1" {
		t.Fatalf("expected default route out eth1, got %#v", r1.FIB)
	}

	var eth1 *Interface
	for i := range r1.Interfaces {
		if r1.Interfaces[i].Name == "eth1" {
			eth1 = &r1.Interfaces[i]
		}
	}
	if eth1 == nil || eth1.OutgoingACL == nil {
		t.Fatalf("expected eth1 to carry an outgoing ACL")
	}
	if len(eth1.OutgoingACL.Lines) != 1 {
		t.Fatalf("expected 1 resolved ACL line, got %d", len(eth1.OutgoingACL.Lines))
	}
	if len(dp.Topology) != 1 {
		t.Fatalf("expected 1 topology edge, got %d", len(dp.Topology))
	}
}

func TestNewDBLoaderRejectsInvalidDSN(t *testing.T) {
	if _, err := NewDBLoader("not a valid dsn!!"); err == nil {
		t.Errorf("expected error for invalid DSN")
	}
}
