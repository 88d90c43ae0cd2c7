package main

import (
	"strings"
	"testing"

	"ecgraph/internal/engine"
)

func TestParseActionsCombinesFlags(t *testing.T) {
	actions, err := parseActions("accept,deny-in,null-route")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := engine.ActionAccept | engine.ActionDropACLIn | engine.ActionDropNullRoute
	if actions != want {
		t.Fatalf("got %v, want %v", actions, want)
	}
}

func TestParseActionsRejectsUnknownToken(t *testing.T) {
	if _, err := parseActions("accept,bogus"); err == nil {
		t.Fatalf("expected an error for an unknown action token")
	}
}

func TestParseActionsRejectsEmpty(t *testing.T) {
	if _, err := parseActions(""); err == nil {
		t.Fatalf("expected an error for an empty action list")
	}
}

func TestParseBackendAcceptsBothNames(t *testing.T) {
	if b, err := parseBackend("classic"); err != nil || b != engine.DeltaNet {
		t.Fatalf("classic: got (%v, %v)", b, err)
	}
	if b, err := parseBackend("doc"); err != nil || b != engine.DeltaNetDoC {
		t.Fatalf("doc: got (%v, %v)", b, err)
	}
	if _, err := parseBackend("quantum"); err == nil {
		t.Fatalf("expected an error for an unknown backend")
	}
}

func TestDestHeaderSpaceRejectsMalformedPrefix(t *testing.T) {
	if _, err := destHeaderSpace("not-a-prefix"); err == nil {
		t.Fatalf("expected an error for a malformed prefix")
	}
}

func TestDestHeaderSpaceEmptyMeansUnrestricted(t *testing.T) {
	h, err := destHeaderSpace("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.Ranges) != 0 {
		t.Fatalf("expected no restrictions, got %v", h.Ranges)
	}
}

func TestReadQueriesParsesThreeAndFourColumnRows(t *testing.T) {
	csv := "src,dst,action\n" +
		"r1,r2,accept\n" +
		"r1,r3,10.0.0.0/24,deny-out\n"
	queries, err := readQueries(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0].src != "r1" || queries[0].dst != "r2" || queries[0].action != "accept" || queries[0].destPrefix != "" {
		t.Fatalf("unexpected first query: %#v", queries[0])
	}
	if queries[1].destPrefix != "10.0.0.0/24" || queries[1].action != "deny-out" {
		t.Fatalf("unexpected second query: %#v", queries[1])
	}
}

func TestReadQueriesRejectsShortRows(t *testing.T) {
	if _, err := readQueries(strings.NewReader("r1,r2\n")); err == nil {
		t.Fatalf("expected an error for a row missing the action column")
	}
}
