package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeline/trellis/internal/storage"
)

func addBlocker(ctx context.Context, q querier, ticketID, blockerID, agentID string) error {
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO ticket_deps (ticket_id, blocked_by_id, created_by)
		VALUES (?, ?, ?)
	`, ticketID, blockerID, agentID)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return storage.NotFoundf("blocker ticket %s not found", blockerID)
		}
		return fmt.Errorf("failed to add blocker: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	return nil
}

func removeBlocker(ctx context.Context, q querier, ticketID, blockerID string) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM ticket_deps WHERE ticket_id = ? AND blocked_by_id = ?
	`, ticketID, blockerID)
	if err != nil {
		return fmt.Errorf("failed to remove blocker: %w", err)
	}
	return nil
}

// blockerEdges returns the full blocked_by adjacency for a workflow, keyed
// by ticket id. Cycle checks walk this snapshot in memory.
func blockerEdges(ctx context.Context, q querier, workflowID string) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.ticket_id, d.blocked_by_id
		FROM ticket_deps d
		JOIN tickets t ON d.ticket_id = t.id
		WHERE t.workflow_id = ?
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocker edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	adj := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adj[from] = append(adj[from], to)
	}
	return adj, rows.Err()
}

// dependents returns every ticket whose blocker set contains blockerID,
// mapped to that ticket's full blocker list.
func dependents(ctx context.Context, q querier, blockerID string) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.ticket_id, d.blocked_by_id
		FROM ticket_deps d
		WHERE d.ticket_id IN (
			SELECT ticket_id FROM ticket_deps WHERE blocked_by_id = ?
		)
	`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deps := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		deps[from] = append(deps[from], to)
	}
	return deps, rows.Err()
}

// blockerStates returns resolved-ness keyed by blocker id for one ticket.
func blockerStates(ctx context.Context, q querier, ticketID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT b.id, b.is_resolved
		FROM ticket_deps d
		JOIN tickets b ON d.blocked_by_id = b.id
		WHERE d.ticket_id = ?
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocker states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]bool)
	for rows.Next() {
		var id string
		var resolved int
		if err := rows.Scan(&id, &resolved); err != nil {
			return nil, err
		}
		states[id] = resolved == 1
	}
	return states, rows.Err()
}

// AddBlocker records a blocking edge outside a transaction.
func (s *Store) AddBlocker(ctx context.Context, ticketID, blockerID, agentID string) error {
	return addBlocker(ctx, s.db, ticketID, blockerID, agentID)
}

// RemoveBlocker removes a blocking edge outside a transaction.
func (s *Store) RemoveBlocker(ctx context.Context, ticketID, blockerID, agentID string) error {
	return removeBlocker(ctx, s.db, ticketID, blockerID)
}

// BlockerEdges returns the workflow's blocked_by adjacency.
func (s *Store) BlockerEdges(ctx context.Context, workflowID string) (map[string][]string, error) {
	return blockerEdges(ctx, s.db, workflowID)
}
