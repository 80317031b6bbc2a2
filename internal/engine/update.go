package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeline/trellis/internal/graph"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// Update applies field updates to a ticket. Status cannot be updated here;
// it is routed through ChangeStatus so the blocking rule always applies.
// Every changed field produces one HistoryEvent. Returns the names of the
// fields that were updated.
func (e *Engine) Update(ctx context.Context, ticketID string, updates map[string]any, updateComment, agentID string) ([]string, error) {
	if err := requireAgent(agentID); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, storage.Validationf("no updates provided")
	}
	if _, ok := updates["status"]; ok {
		return nil, storage.Validationf("status cannot be updated directly; use change_ticket_status")
	}

	fields, blockedBy, err := e.validateUpdates(updates)
	if err != nil {
		return nil, err
	}

	var updated []string
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		old, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := e.checkAuthorized(agentID, "update", old); err != nil {
			return err
		}

		updated, err = tx.UpdateTicketFields(ctx, ticketID, fields, agentID)
		if err != nil {
			return err
		}
		for _, field := range updated {
			newVal := fmt.Sprintf("%v", fields[field])
			if tags, ok := fields[field].([]string); ok {
				newVal = strings.Join(tags, ",")
			}
			ev := &types.HistoryEvent{
				TicketID:   ticketID,
				ChangeType: types.ChangeFieldUpdate,
				OldValue:   oldFieldValue(old, field),
				NewValue:   newVal,
				AgentID:    agentID,
			}
			ev.Description = "updated " + field
			if err := tx.RecordHistory(ctx, ev); err != nil {
				return err
			}
		}

		if blockedBy != nil {
			changed, err := e.applyBlockerEdits(ctx, tx, old, blockedBy, agentID)
			if err != nil {
				return err
			}
			if changed {
				updated = append(updated, "blocked_by_ticket_ids")
			}
		}

		if updateComment != "" {
			_, err := tx.AddComment(ctx, &types.Comment{
				TicketID:    ticketID,
				AgentID:     agentID,
				CommentText: updateComment,
				CommentType: types.CommentGeneral,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// validateUpdates splits the raw update map into plain field updates and an
// optional blocked_by replacement, validating values against the board.
func (e *Engine) validateUpdates(updates map[string]any) (map[string]any, []string, error) {
	fields := make(map[string]any, len(updates))
	var blockedBy []string

	for key, value := range updates {
		switch key {
		case "blocked_by_ticket_ids":
			ids, ok := toStringSlice(value)
			if !ok {
				return nil, nil, storage.Validationf("blocked_by_ticket_ids must be a list of ticket ids")
			}
			blockedBy = ids
		case "tags":
			tags, ok := toStringSlice(value)
			if !ok {
				return nil, nil, storage.Validationf("tags must be a list of strings")
			}
			fields["tags"] = tags
		case "title":
			s, ok := value.(string)
			if !ok || len(s) < types.MinTitleLen || len(s) > types.MaxTitleLen {
				return nil, nil, storage.Validationf("title must be %d-%d characters", types.MinTitleLen, types.MaxTitleLen)
			}
			fields[key] = s
		case "description":
			s, ok := value.(string)
			if !ok || len(s) < types.MinDescriptionLen {
				return nil, nil, storage.Validationf("description must be at least %d characters", types.MinDescriptionLen)
			}
			fields[key] = s
		case "ticket_type":
			s, _ := value.(string)
			if !e.board.ValidType(s) {
				return nil, nil, storage.Validationf("invalid ticket type %q", s)
			}
			fields[key] = s
		case "priority":
			s, _ := value.(string)
			if !types.Priority(s).IsValid() {
				return nil, nil, storage.Validationf("invalid priority %q", s)
			}
			fields[key] = s
		case "assigned_agent_id", "parent_ticket_id":
			s, ok := value.(string)
			if !ok {
				return nil, nil, storage.Validationf("%s must be a string", key)
			}
			fields[key] = s
		default:
			return nil, nil, storage.Validationf("field %q cannot be updated", key)
		}
	}
	return fields, blockedBy, nil
}

// applyBlockerEdits replaces the ticket's blocker set, re-running existence
// and cycle checks for every added edge. Returns whether anything changed.
func (e *Engine) applyBlockerEdits(ctx context.Context, tx storage.Tx, t *types.Ticket, newBlockers []string, agentID string) (bool, error) {
	current := make(map[string]bool, len(t.BlockedBy))
	for _, id := range t.BlockedBy {
		current[id] = true
	}
	wanted := make(map[string]bool, len(newBlockers))
	for _, id := range newBlockers {
		wanted[id] = true
	}

	var adds, removes []string
	for id := range wanted {
		if !current[id] {
			adds = append(adds, id)
		}
	}
	for id := range current {
		if !wanted[id] {
			removes = append(removes, id)
		}
	}
	if len(adds) == 0 && len(removes) == 0 {
		return false, nil
	}

	if len(adds) > 0 {
		adj, err := tx.BlockerEdges(ctx, t.WorkflowID)
		if err != nil {
			return false, err
		}
		for _, blockerID := range sortedIDs(adds) {
			if _, err := tx.GetTicket(ctx, blockerID); err != nil {
				if storage.IsKind(err, storage.KindNotFound) {
					return false, storage.Validationf("blocker ticket %s does not exist", blockerID)
				}
				return false, err
			}
			if graph.WouldCycle(adj, blockerID, t.ID) {
				return false, storage.Cyclef("blocking %s on %s would create a dependency cycle", t.ID, blockerID)
			}
			adj[t.ID] = append(adj[t.ID], blockerID)
		}
	}

	for _, blockerID := range sortedIDs(adds) {
		if err := tx.AddBlocker(ctx, t.ID, blockerID, agentID); err != nil {
			return false, err
		}
		ev := &types.HistoryEvent{
			TicketID:   t.ID,
			ChangeType: types.ChangeBlockerAdded,
			NewValue:   blockerID,
			AgentID:    agentID,
		}
		if err := tx.RecordHistory(ctx, ev); err != nil {
			return false, err
		}
	}
	for _, blockerID := range sortedIDs(removes) {
		if err := tx.RemoveBlocker(ctx, t.ID, blockerID, agentID); err != nil {
			return false, err
		}
		ev := &types.HistoryEvent{
			TicketID:   t.ID,
			ChangeType: types.ChangeBlockerRemoved,
			OldValue:   blockerID,
			AgentID:    agentID,
		}
		if err := tx.RecordHistory(ctx, ev); err != nil {
			return false, err
		}
	}
	return true, nil
}

func oldFieldValue(t *types.Ticket, field string) string {
	switch field {
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "ticket_type":
		return t.TicketType
	case "priority":
		return string(t.Priority)
	case "assigned_agent_id":
		return t.AssignedAgentID
	case "parent_ticket_id":
		return t.ParentTicketID
	case "tags":
		return strings.Join(t.Tags, ",")
	}
	return ""
}

// toStringSlice accepts []string directly or []any as decoded from JSON.
func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case nil:
		return nil, true
	}
	return nil, false
}
