package engine

import (
	"context"
	"strings"

	"github.com/forgeline/trellis/internal/graph"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// StatusChange reports a successful transition.
type StatusChange struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// ChangeStatus moves a ticket to a new column.
//
// The blocking rule is fail-closed: if any blocker is unresolved the status
// is left untouched and the caller receives the full unresolved blocker
// list. The check and the write run in one transaction, so a concurrent
// resolve of the last blocker either lands before the check (transition
// succeeds) or after the commit (transition was rejected) — never between.
//
// Resolved tickets cannot be moved at all: Reopen is the only way back to
// an active column, and only on boards that allow it.
func (e *Engine) ChangeStatus(ctx context.Context, ticketID, newStatus, comment, commitSHA, agentID string) (*StatusChange, error) {
	if err := requireAgent(agentID); err != nil {
		return nil, err
	}
	if !e.board.ValidStatus(newStatus) {
		return nil, storage.Validationf("status %q is not a configured column", newStatus)
	}
	if e.board.RequireCommentsOnStatusChange && len(strings.TrimSpace(comment)) < minCommentLen {
		return nil, storage.Validationf("status changes require a comment of at least %d characters", minCommentLen)
	}

	var change *StatusChange
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := e.checkAuthorized(agentID, "change_status", t); err != nil {
			return err
		}
		if t.IsResolved {
			return storage.Validationf("ticket %s is resolved; reopen it before changing its status", ticketID)
		}

		states, err := tx.BlockerStates(ctx, ticketID)
		if err != nil {
			return err
		}
		if graph.IsBlocked(states) {
			return storage.BlockedErr(ticketID, sortedIDs(graph.UnresolvedBlockers(states)))
		}

		if err := tx.SetStatus(ctx, ticketID, newStatus, agentID); err != nil {
			return err
		}
		ev := &types.HistoryEvent{
			TicketID:   ticketID,
			ChangeType: types.ChangeStatus,
			OldValue:   t.Status,
			NewValue:   newStatus,
			AgentID:    agentID,
		}
		if err := tx.RecordHistory(ctx, ev); err != nil {
			return err
		}
		if comment != "" {
			_, err := tx.AddComment(ctx, &types.Comment{
				TicketID:    ticketID,
				AgentID:     agentID,
				CommentText: comment,
				CommentType: types.CommentStatusChange,
			})
			if err != nil {
				return err
			}
		}
		if commitSHA != "" {
			if err := e.linkCommitInTx(ctx, tx, ticketID, commitSHA, "", agentID); err != nil {
				return err
			}
		}

		change = &StatusChange{OldStatus: t.Status, NewStatus: newStatus}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// Resolve marks a ticket resolved, moves it to the terminal column, and
// cascades: the ticket is removed from every dependent's blocker set, and
// the ids of dependents whose set became empty are returned. The cascade is
// single-level; dependents still need their own status transitions.
//
// Resolving an already-resolved ticket is a no-op returning an empty list.
func (e *Engine) Resolve(ctx context.Context, ticketID, resolutionComment, commitSHA, agentID string) ([]string, error) {
	if err := requireAgent(agentID); err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(resolutionComment)) < minCommentLen {
		return nil, storage.Validationf("resolution comment must be at least %d characters", minCommentLen)
	}

	unblocked := []string{}
	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.IsResolved {
			return nil // Idempotent
		}
		if err := e.checkAuthorized(agentID, "resolve", t); err != nil {
			return err
		}

		// Resolution is a transition into the terminal column, so the
		// blocking rule applies to it as well.
		states, err := tx.BlockerStates(ctx, ticketID)
		if err != nil {
			return err
		}
		if graph.IsBlocked(states) {
			return storage.BlockedErr(ticketID, sortedIDs(graph.UnresolvedBlockers(states)))
		}

		if err := tx.MarkResolved(ctx, ticketID, agentID); err != nil {
			return err
		}
		terminal := e.board.TerminalStatus()
		if t.Status != terminal {
			if err := tx.SetStatus(ctx, ticketID, terminal, agentID); err != nil {
				return err
			}
		}
		ev := &types.HistoryEvent{
			TicketID:   ticketID,
			ChangeType: types.ChangeResolved,
			OldValue:   t.Status,
			NewValue:   terminal,
			AgentID:    agentID,
		}
		if err := tx.RecordHistory(ctx, ev); err != nil {
			return err
		}
		if _, err := tx.AddComment(ctx, &types.Comment{
			TicketID:    ticketID,
			AgentID:     agentID,
			CommentText: resolutionComment,
			CommentType: types.CommentResolution,
		}); err != nil {
			return err
		}
		if commitSHA != "" {
			if err := e.linkCommitInTx(ctx, tx, ticketID, commitSHA, "", agentID); err != nil {
				return err
			}
		}

		// Cascade: drop this ticket from every dependent's blocker set and
		// collect the dependents that became unblocked. Same transaction as
		// the resolution, so a crash never leaves a resolved ticket still
		// listed as an active blocker.
		deps, err := tx.Dependents(ctx, ticketID)
		if err != nil {
			return err
		}
		unblocked = sortedIDs(graph.Unblocked(deps, ticketID))
		for depID := range deps {
			if err := tx.RemoveBlocker(ctx, depID, ticketID, agentID); err != nil {
				return err
			}
			ev := &types.HistoryEvent{
				TicketID:    depID,
				ChangeType:  types.ChangeBlockerRemoved,
				OldValue:    ticketID,
				Description: "blocker resolved",
				AgentID:     agentID,
			}
			if err := tx.RecordHistory(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unblocked, nil
}

// Reopen clears a ticket's resolved flag and moves it back to the initial
// column. Only allowed when the board permits it. Dependents unblocked by
// the earlier resolution are NOT re-blocked: the cascade removed those
// edges and callers have already acted on the unblock.
func (e *Engine) Reopen(ctx context.Context, ticketID, reason, agentID string) error {
	if err := requireAgent(agentID); err != nil {
		return err
	}
	if !e.board.AllowReopen {
		return storage.Validationf("board does not allow reopening resolved tickets")
	}

	return e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if !t.IsResolved {
			return storage.Validationf("ticket %s is not resolved", ticketID)
		}
		if err := e.checkAuthorized(agentID, "reopen", t); err != nil {
			return err
		}

		if err := tx.MarkReopened(ctx, ticketID, agentID); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, ticketID, e.board.InitialStatus, agentID); err != nil {
			return err
		}
		ev := &types.HistoryEvent{
			TicketID:    ticketID,
			ChangeType:  types.ChangeReopened,
			OldValue:    t.Status,
			NewValue:    e.board.InitialStatus,
			Description: reason,
			AgentID:     agentID,
		}
		return tx.RecordHistory(ctx, ev)
	})
}
