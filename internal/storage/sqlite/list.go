package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/forgeline/trellis/internal/types"
)

// buildTicketFilter translates a TicketFilter into WHERE clauses and args.
func buildTicketFilter(filter types.TicketFilter) ([]string, []any) {
	whereClauses := []string{}
	args := []any{}

	if filter.WorkflowID != "" {
		whereClauses = append(whereClauses, "t.workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		whereClauses = append(whereClauses, "t.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		whereClauses = append(whereClauses, "t.priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.TicketType != nil {
		whereClauses = append(whereClauses, "t.ticket_type = ?")
		args = append(args, *filter.TicketType)
	}
	if filter.Assignee != nil {
		whereClauses = append(whereClauses, "t.assigned_agent_id = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.ParentID != nil {
		whereClauses = append(whereClauses, "t.parent_ticket_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.Resolved != nil {
		if *filter.Resolved {
			whereClauses = append(whereClauses, "t.is_resolved = 1")
		} else {
			whereClauses = append(whereClauses, "t.is_resolved = 0")
		}
	}

	// Tag filtering: ticket must have ALL specified tags
	for _, tag := range filter.Tags {
		whereClauses = append(whereClauses, "t.id IN (SELECT ticket_id FROM ticket_tags WHERE tag = ?)")
		args = append(args, tag)
	}

	// Blocked filtering uses the same derived expression as the SELECT list
	if filter.Blocked != nil {
		expr := `EXISTS(
			SELECT 1 FROM ticket_deps d
			JOIN tickets b ON d.blocked_by_id = b.id
			WHERE d.ticket_id = t.id AND b.is_resolved = 0
		)`
		if *filter.Blocked {
			whereClauses = append(whereClauses, expr)
		} else {
			whereClauses = append(whereClauses, "NOT "+expr)
		}
	}

	return whereClauses, args
}

func orderClause(sort types.SortOrder) string {
	switch sort {
	case types.SortCreatedAsc:
		return "t.created_at ASC, t.id ASC"
	case types.SortUpdatedDesc:
		return "t.updated_at DESC, t.id ASC"
	case types.SortPriorityDesc:
		return `CASE t.priority
			WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0
		END DESC, t.created_at DESC`
	default:
		return "t.created_at DESC, t.id ASC"
	}
}

func scanTicketRows(rows *sql.Rows) ([]*types.Ticket, error) {
	var tickets []*types.Ticket
	for rows.Next() {
		var t types.Ticket
		var resolvedAt sql.NullTime
		var isResolved, isBlocked int
		if err := rows.Scan(
			&t.ID, &t.WorkflowID, &t.Title, &t.Description, &t.TicketType,
			&t.Priority, &t.Status, &t.AssignedAgentID, &t.ParentTicketID,
			&isResolved, &resolvedAt, &t.CreatedAt, &t.UpdatedAt, &isBlocked,
		); err != nil {
			return nil, err
		}
		t.IsResolved = isResolved == 1
		t.IsBlocked = isBlocked == 1
		if resolvedAt.Valid {
			t.ResolvedAt = &resolvedAt.Time
		}
		tickets = append(tickets, &t)
	}
	return tickets, rows.Err()
}

// ListTickets returns one page of tickets matching the filter, with the
// total match count for pagination.
func (s *Store) ListTickets(ctx context.Context, filter types.TicketFilter) (*types.TicketPage, error) {
	whereClauses, args := buildTicketFilter(filter)
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	// #nosec G201 -- whereSQL is assembled from fixed clause strings
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM tickets t %s`, whereSQL)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = fmt.Sprintf("LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			limitSQL += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	// #nosec G201 -- assembled from fixed clause strings
	querySQL := fmt.Sprintf(`
		SELECT %s FROM tickets t
		%s
		ORDER BY %s
		%s
	`, ticketColumns, whereSQL, orderClause(filter.Sort), limitSQL)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tickets, err := scanTicketRows(rows)
	if err != nil {
		return nil, err
	}
	if err := attachEdges(ctx, s.db, tickets); err != nil {
		return nil, err
	}

	return &types.TicketPage{
		Tickets:    tickets,
		TotalCount: total,
		HasMore:    filter.Offset+len(tickets) < total,
	}, nil
}

// SnapshotTickets returns every ticket in a workflow for search. Reads use
// a single short query and never block writers beyond it.
func (s *Store) SnapshotTickets(ctx context.Context, workflowID string) ([]*types.Ticket, error) {
	// #nosec G201 -- ticketColumns is a package constant
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM tickets t WHERE t.workflow_id = ? ORDER BY t.created_at ASC
	`, ticketColumns), workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tickets, err := scanTicketRows(rows)
	if err != nil {
		return nil, err
	}
	if err := attachEdges(ctx, s.db, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// CommentTexts returns comment bodies grouped by ticket id for a workflow,
// for search with include_comments.
func (s *Store) CommentTexts(ctx context.Context, workflowID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.ticket_id, c.comment_text
		FROM comments c
		JOIN tickets t ON c.ticket_id = t.id
		WHERE t.workflow_id = ?
		ORDER BY c.id ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comment texts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	texts := make(map[string][]string)
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		texts[id] = append(texts[id], text)
	}
	return texts, rows.Err()
}
