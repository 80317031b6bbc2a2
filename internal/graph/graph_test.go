package graph

import (
	"sort"
	"testing"
)

func TestWouldCycleSelfBlock(t *testing.T) {
	if !WouldCycle(nil, "a", "a") {
		t.Error("self-block should be a cycle")
	}
}

func TestWouldCycleDirect(t *testing.T) {
	// a is blocked by b; adding "b blocked by a" closes the loop.
	adj := map[string][]string{"a": {"b"}}
	if !WouldCycle(adj, "a", "b") {
		t.Error("expected cycle: b -> a -> b")
	}
	if WouldCycle(adj, "c", "b") {
		t.Error("unrelated blocker should not cycle")
	}
}

func TestWouldCycleTransitive(t *testing.T) {
	// a -> b -> c; adding "c blocked by a" walks back to a.
	adj := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}
	if !WouldCycle(adj, "a", "c") {
		t.Error("expected transitive cycle through b")
	}
	if WouldCycle(adj, "c", "a") {
		t.Error("edge a -> c does not create a cycle")
	}
}

func TestWouldCycleDiamond(t *testing.T) {
	adj := map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
	}
	if WouldCycle(adj, "d", "e") {
		t.Error("new node cannot be reached from d")
	}
	if !WouldCycle(adj, "a", "d") {
		t.Error("d is reachable from a via both branches")
	}
}

func TestUnblocked(t *testing.T) {
	deps := map[string][]string{
		"x": {"r"},
		"y": {"r", "other"},
		"z": {"r"},
	}
	got := Unblocked(deps, "r")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "x" || got[1] != "z" {
		t.Errorf("expected [x z], got %v", got)
	}
}

func TestUnblockedEmpty(t *testing.T) {
	if got := Unblocked(nil, "r"); len(got) != 0 {
		t.Errorf("expected no unblocked ids, got %v", got)
	}
}

func TestIsBlocked(t *testing.T) {
	if IsBlocked(map[string]bool{"a": true, "b": true}) {
		t.Error("all blockers resolved: not blocked")
	}
	if !IsBlocked(map[string]bool{"a": true, "b": false}) {
		t.Error("one unresolved blocker: blocked")
	}
	if IsBlocked(nil) {
		t.Error("no blockers: not blocked")
	}
}

func TestUnresolvedBlockers(t *testing.T) {
	got := UnresolvedBlockers(map[string]bool{"a": false, "b": true, "c": false})
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("expected [a c], got %v", got)
	}
}
