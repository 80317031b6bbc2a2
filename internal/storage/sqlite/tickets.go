package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// querier is implemented by *sql.DB and *sql.Conn so ticket operations can
// run both directly and inside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ticketColumns is the SELECT list shared by every ticket read. is_blocked is
// derived in SQL: any blocker edge pointing at an unresolved ticket.
const ticketColumns = `
	t.id, t.workflow_id, t.title, t.description, t.ticket_type, t.priority,
	t.status, t.assigned_agent_id, t.parent_ticket_id, t.is_resolved,
	t.resolved_at, t.created_at, t.updated_at,
	EXISTS(
		SELECT 1 FROM ticket_deps d
		JOIN tickets b ON d.blocked_by_id = b.id
		WHERE d.ticket_id = t.id AND b.is_resolved = 0
	) AS is_blocked`

func insertTicket(ctx context.Context, q querier, t *types.Ticket) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tickets (
			id, workflow_id, title, description, ticket_type, priority, status,
			assigned_agent_id, parent_ticket_id, is_resolved, resolved_at,
			created_at, updated_at, status_entered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)
	`,
		t.ID, t.WorkflowID, t.Title, t.Description, t.TicketType, t.Priority,
		t.Status, t.AssignedAgentID, t.ParentTicketID,
		t.CreatedAt, t.UpdatedAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	for _, tag := range t.Tags {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO ticket_tags (ticket_id, tag) VALUES (?, ?)`,
			t.ID, tag); err != nil {
			return fmt.Errorf("failed to insert tag: %w", err)
		}
	}
	return nil
}

func scanTicket(row *sql.Row) (*types.Ticket, error) {
	var t types.Ticket
	var resolvedAt sql.NullTime
	var isResolved, isBlocked int
	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.Title, &t.Description, &t.TicketType,
		&t.Priority, &t.Status, &t.AssignedAgentID, &t.ParentTicketID,
		&isResolved, &resolvedAt, &t.CreatedAt, &t.UpdatedAt, &isBlocked,
	)
	if err != nil {
		return nil, err
	}
	t.IsResolved = isResolved == 1
	t.IsBlocked = isBlocked == 1
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}
	return &t, nil
}

func getTicket(ctx context.Context, q querier, id string) (*types.Ticket, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets t WHERE t.id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundf("ticket %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	if err := attachEdges(ctx, q, []*types.Ticket{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// attachEdges bulk-loads tags and blocked_by lists for the given tickets.
func attachEdges(ctx context.Context, q querier, tickets []*types.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	byID := make(map[string]*types.Ticket, len(tickets))
	placeholders := make([]string, len(tickets))
	args := make([]any, len(tickets))
	for i, t := range tickets {
		byID[t.ID] = t
		placeholders[i] = "?"
		args[i] = t.ID
	}
	in := strings.Join(placeholders, ",")

	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT ticket_id, tag FROM ticket_tags WHERE ticket_id IN (%s) ORDER BY tag`, in),
		args...)
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return err
		}
		byID[id].Tags = append(byID[id].Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	depRows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT ticket_id, blocked_by_id FROM ticket_deps WHERE ticket_id IN (%s) ORDER BY blocked_by_id`, in),
		args...)
	if err != nil {
		return fmt.Errorf("failed to load blockers: %w", err)
	}
	defer func() { _ = depRows.Close() }()
	for depRows.Next() {
		var id, blocker string
		if err := depRows.Scan(&id, &blocker); err != nil {
			return err
		}
		byID[id].BlockedBy = append(byID[id].BlockedBy, blocker)
	}
	return depRows.Err()
}

// updatableColumns maps engine field names to ticket columns. Status is
// deliberately absent: status changes go through SetStatus so the blocking
// rule cannot be bypassed.
var updatableColumns = map[string]string{
	"title":             "title",
	"description":       "description",
	"ticket_type":       "ticket_type",
	"priority":          "priority",
	"assigned_agent_id": "assigned_agent_id",
	"parent_ticket_id":  "parent_ticket_id",
}

func updateTicketFields(ctx context.Context, q querier, id string, updates map[string]any) ([]string, error) {
	var sets []string
	var args []any
	var updated []string

	for field, value := range updates {
		if field == "tags" {
			continue
		}
		col, ok := updatableColumns[field]
		if !ok {
			return nil, storage.Validationf("field %q cannot be updated", field)
		}
		sets = append(sets, col+" = ?")
		args = append(args, value)
		updated = append(updated, field)
	}

	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC())
		args = append(args, id)
		// #nosec G201 -- column names come from the closed updatableColumns map
		res, err := q.ExecContext(ctx,
			fmt.Sprintf(`UPDATE tickets SET %s WHERE id = ?`, strings.Join(sets, ", ")),
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to update ticket: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, storage.NotFoundf("ticket %s not found", id)
		}
	}

	if tags, ok := updates["tags"]; ok {
		tagList, ok := tags.([]string)
		if !ok {
			return nil, storage.Validationf("tags must be a string list")
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM ticket_tags WHERE ticket_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to clear tags: %w", err)
		}
		for _, tag := range tagList {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO ticket_tags (ticket_id, tag) VALUES (?, ?)`, id, tag); err != nil {
				return nil, fmt.Errorf("failed to insert tag: %w", err)
			}
		}
		updated = append(updated, "tags")
	}

	return updated, nil
}

func setStatus(ctx context.Context, q querier, id, status string, trackTime bool) error {
	if trackTime {
		// Fold the dwell in the outgoing column into column_dwell before the
		// status_entered_at reset.
		_, err := q.ExecContext(ctx, `
			INSERT INTO column_dwell (ticket_id, status, total_seconds)
			SELECT id, status, CAST(strftime('%s','now') - strftime('%s', status_entered_at) AS INTEGER)
			FROM tickets WHERE id = ? AND status_entered_at IS NOT NULL
			ON CONFLICT(ticket_id, status) DO UPDATE SET
				total_seconds = total_seconds + excluded.total_seconds
		`, id)
		if err != nil {
			return fmt.Errorf("failed to update dwell time: %w", err)
		}
	}

	res, err := q.ExecContext(ctx, `
		UPDATE tickets SET status = ?, updated_at = ?, status_entered_at = ?
		WHERE id = ?
	`, status, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.NotFoundf("ticket %s not found", id)
	}
	return nil
}

func markResolved(ctx context.Context, q querier, id string) error {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		UPDATE tickets SET is_resolved = 1, resolved_at = ?, updated_at = ?
		WHERE id = ? AND is_resolved = 0
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark resolved: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	return nil
}

func markReopened(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE tickets SET is_resolved = 0, resolved_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark reopened: %w", err)
	}
	return nil
}

// CreateTicket inserts a ticket outside a transaction.
func (s *Store) CreateTicket(ctx context.Context, t *types.Ticket, agentID string) error {
	return insertTicket(ctx, s.db, t)
}

// GetTicket fetches one ticket with tags and blocker list attached.
func (s *Store) GetTicket(ctx context.Context, id string) (*types.Ticket, error) {
	return getTicket(ctx, s.db, id)
}

// UpdateTicketFields applies field updates outside a transaction.
func (s *Store) UpdateTicketFields(ctx context.Context, id string, updates map[string]any, agentID string) ([]string, error) {
	return updateTicketFields(ctx, s.db, id, updates)
}
