// Package clarify arbitrates conflicting understandings of a ticket.
//
// When agents disagree about what a ticket means, the arbitrator forwards
// the ticket's current state to an external reasoning model and persists
// the ruling as a resolution comment. It never changes ticket status; the
// ruling is advice, and acting on it stays with the agents.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// MinConflictLen is the shortest accepted conflict description. Shorter
// descriptions do not carry enough signal for a useful ruling.
const MinConflictLen = 20

const (
	recentComments = 10
	recentHistory  = 20
)

// Request describes one clarification call.
type Request struct {
	TicketID            string
	ConflictDescription string
	Context             string
	PotentialSolutions  []string
	AgentID             string
}

// Response is the persisted ruling.
type Response struct {
	ClarificationText string `json:"clarification_text"`
	CommentID         int64  `json:"comment_id"`
}

// TicketContext is the full state forwarded to the arbitrator.
type TicketContext struct {
	Ticket              *types.Ticket
	Comments            []*types.Comment
	History             []*types.HistoryEvent
	Siblings            []*types.Ticket
	ConflictDescription string
	CallerContext       string
	PotentialSolutions  []string
}

// Arbitrator produces a clarification ruling from ticket context.
// Implementations call an external reasoning model; failures surface as
// UpstreamUnavailable since there is no safe degraded mode.
type Arbitrator interface {
	Arbitrate(ctx context.Context, tc *TicketContext) (string, error)
}

// Service validates clarification requests, assembles ticket context, and
// persists the arbitrator's ruling.
type Service struct {
	store storage.Storage
	arb   Arbitrator
}

func NewService(store storage.Storage, arb Arbitrator) *Service {
	return &Service{store: store, arb: arb}
}

// Request runs one clarification round for a ticket.
func (s *Service) Request(ctx context.Context, req Request) (*Response, error) {
	desc := strings.TrimSpace(req.ConflictDescription)
	if len(desc) < MinConflictLen {
		return nil, storage.Validationf("conflict_description must be at least %d characters", MinConflictLen)
	}
	if s.arb == nil {
		return nil, storage.Unavailablef("no arbitrator configured")
	}

	tc, err := s.assembleContext(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	tc.ConflictDescription = desc
	tc.CallerContext = req.Context
	tc.PotentialSolutions = req.PotentialSolutions

	// The arbitrator call happens outside any store transaction; it can
	// take seconds and must not hold a write lock.
	text, err := s.arb.Arbitrate(ctx, tc)
	if err != nil {
		var se *storage.Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, storage.Unavailablef("arbitration failed: %v", err)
	}

	comment := &types.Comment{
		TicketID:    req.TicketID,
		AgentID:     req.AgentID,
		CommentText: text,
		CommentType: types.CommentResolution,
	}
	id, err := s.store.AddComment(ctx, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to persist clarification: %w", err)
	}

	return &Response{ClarificationText: text, CommentID: id}, nil
}

// assembleContext gathers the ticket, its recent audit trail, and sibling
// tickets sharing the same parent.
func (s *Service) assembleContext(ctx context.Context, ticketID string) (*TicketContext, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	comments, err := s.store.GetComments(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comments: %w", err)
	}
	if len(comments) > recentComments {
		comments = comments[len(comments)-recentComments:]
	}

	history, err := s.store.GetHistory(ctx, ticketID, recentHistory, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var siblings []*types.Ticket
	if ticket.ParentTicketID != "" {
		parentID := ticket.ParentTicketID
		page, err := s.store.ListTickets(ctx, types.TicketFilter{
			WorkflowID: ticket.WorkflowID,
			ParentID:   &parentID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load siblings: %w", err)
		}
		for _, t := range page.Tickets {
			if t.ID != ticketID {
				siblings = append(siblings, t)
			}
		}
	}

	return &TicketContext{
		Ticket:   ticket,
		Comments: comments,
		History:  history,
		Siblings: siblings,
	}, nil
}
