// Package graph answers dependency questions over the blocked_by edge set.
//
// The graph is a view over already-fetched data: an adjacency map keyed by
// ticket id, where adj[A] lists the tickets A is blocked by. Working over
// ids instead of object references keeps cycle detection a bounded
// traversal and keeps these checks synchronous inside storage transactions.
package graph

// WouldCycle reports whether adding the edge "ticketID is blocked by
// candidateBlocker" would create a cycle, i.e. whether ticketID is already
// reachable from candidateBlocker by following blocked_by edges. A
// self-block is a cycle of length one.
func WouldCycle(adj map[string][]string, candidateBlocker, ticketID string) bool {
	if candidateBlocker == ticketID {
		return true
	}

	seen := map[string]bool{candidateBlocker: true}
	stack := []string{candidateBlocker}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[cur] {
			if next == ticketID {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Unblocked returns the ids of dependents whose blocker set becomes empty
// once resolvedID is removed. dependents maps each dependent ticket id to
// its full current blocker list. The cascade is single-level by design:
// removing the edge never transitively resolves the dependents themselves.
func Unblocked(dependents map[string][]string, resolvedID string) []string {
	var unblocked []string
	for id, blockers := range dependents {
		remaining := 0
		for _, b := range blockers {
			if b != resolvedID {
				remaining++
			}
		}
		if remaining == 0 {
			unblocked = append(unblocked, id)
		}
	}
	return unblocked
}

// IsBlocked reports whether any blocker in states is unresolved. states maps
// blocker id to its resolved flag.
func IsBlocked(states map[string]bool) bool {
	for _, resolved := range states {
		if !resolved {
			return true
		}
	}
	return false
}

// UnresolvedBlockers returns the ids of unresolved blockers in states,
// for Blocked error payloads.
func UnresolvedBlockers(states map[string]bool) []string {
	var ids []string
	for id, resolved := range states {
		if !resolved {
			ids = append(ids, id)
		}
	}
	return ids
}
