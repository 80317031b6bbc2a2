package engine

import (
	"context"
	"time"

	"github.com/forgeline/trellis/internal/graph"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// CreateRequest describes a new ticket.
type CreateRequest struct {
	WorkflowID      string
	Title           string
	Description     string
	TicketType      string
	Priority        types.Priority
	Tags            []string
	BlockedBy       []string
	AssignedAgentID string
	ParentTicketID  string
}

// CreateResult is the created ticket plus advisory near-duplicates.
type CreateResult struct {
	Ticket         *types.Ticket
	SimilarTickets []*search.Result
}

// Create validates and persists a new ticket in the board's initial status.
// Near-duplicate detection runs after the ticket commits; it informs the
// caller but never blocks creation.
func (e *Engine) Create(ctx context.Context, req CreateRequest, agentID string) (*CreateResult, error) {
	if err := requireAgent(agentID); err != nil {
		return nil, err
	}
	if req.WorkflowID == "" {
		return nil, storage.Validationf("workflow_id is required")
	}

	now := time.Now().UTC()
	t := &types.Ticket{
		WorkflowID:      req.WorkflowID,
		Title:           req.Title,
		Description:     req.Description,
		TicketType:      req.TicketType,
		Priority:        req.Priority,
		Status:          e.board.InitialStatus,
		Tags:            req.Tags,
		AssignedAgentID: req.AssignedAgentID,
		ParentTicketID:  req.ParentTicketID,
		BlockedBy:       req.BlockedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.TicketType == "" {
		t.TicketType = e.board.DefaultTicketType
	}
	if t.Priority == "" {
		t.Priority = types.PriorityMedium
	}
	if e.board.AutoAssign && t.AssignedAgentID == "" {
		t.AssignedAgentID = agentID
	}
	if err := t.Validate(e.board.TicketTypes); err != nil {
		return nil, storage.Validationf("%v", err)
	}
	if err := e.checkAuthorized(agentID, "create", t); err != nil {
		return nil, err
	}

	err := e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		id, err := newTicketID(ctx, tx, t, agentID)
		if err != nil {
			return err
		}
		t.ID = id

		// Blockers must exist, and adding their edges must not close a
		// cycle. The adjacency snapshot is extended edge by edge so a
		// cycle among the new edges themselves is also caught.
		adj, err := tx.BlockerEdges(ctx, t.WorkflowID)
		if err != nil {
			return err
		}
		for _, blockerID := range t.BlockedBy {
			if _, err := tx.GetTicket(ctx, blockerID); err != nil {
				if storage.IsKind(err, storage.KindNotFound) {
					return storage.Validationf("blocker ticket %s does not exist", blockerID)
				}
				return err
			}
			if graph.WouldCycle(adj, blockerID, t.ID) {
				return storage.Cyclef("blocking %s on %s would create a dependency cycle", t.ID, blockerID)
			}
			adj[t.ID] = append(adj[t.ID], blockerID)
		}

		if err := tx.CreateTicket(ctx, t, agentID); err != nil {
			return err
		}
		for _, blockerID := range t.BlockedBy {
			if err := tx.AddBlocker(ctx, t.ID, blockerID, agentID); err != nil {
				return err
			}
		}
		return tx.RecordHistory(ctx, &types.HistoryEvent{
			TicketID:    t.ID,
			ChangeType:  types.ChangeCreated,
			NewValue:    t.Status,
			Description: "ticket created",
			AgentID:     agentID,
		})
	})
	if err != nil {
		return nil, err
	}

	created, err := e.store.GetTicket(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{Ticket: created}
	if e.searcher != nil {
		// Advisory only: a failed duplicate scan never fails the create.
		if similar, err := e.searcher.FindSimilar(ctx, t.WorkflowID, t.Title, t.Description); err == nil {
			for _, s := range similar {
				if s.Ticket.ID != t.ID {
					result.SimilarTickets = append(result.SimilarTickets, s)
				}
			}
		}
	}
	return result, nil
}
