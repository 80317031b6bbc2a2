package engine

import (
	"context"

	"github.com/forgeline/trellis/internal/clarify"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// Get returns a ticket with its comments, history, and commit links. The
// history is the most recent window; callers needing the full trail page
// backward with GetWithHistory.
func (e *Engine) Get(ctx context.Context, ticketID string) (*types.TicketDetail, error) {
	return e.GetWithHistory(ctx, ticketID, 0, 0)
}

// GetWithHistory is Get with an explicit history window. historyOffset
// counts back from the most recent event, so offset=100 returns the page
// before the default window. A zero limit means the per-call cap; limits
// above the cap are rejected rather than silently truncated.
func (e *Engine) GetWithHistory(ctx context.Context, ticketID string, limit, offset int) (*types.TicketDetail, error) {
	if limit < 0 || offset < 0 {
		return nil, storage.Validationf("history limit and offset must be non-negative")
	}
	if limit > historyLimit {
		return nil, storage.Validationf("history limit must not exceed %d; page with history_offset", historyLimit)
	}
	if limit == 0 {
		limit = historyLimit
	}

	t, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	comments, err := e.store.GetComments(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.GetHistory(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	commits, err := e.store.GetCommits(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return &types.TicketDetail{
		Ticket:   t,
		Comments: comments,
		History:  history,
		Commits:  commits,
	}, nil
}

// List returns one page of tickets matching the filter.
func (e *Engine) List(ctx context.Context, filter types.TicketFilter) (*types.TicketPage, error) {
	if filter.WorkflowID == "" {
		return nil, storage.Validationf("workflow_id is required")
	}
	if !filter.Sort.IsValid() {
		return nil, storage.Validationf("invalid sort order %q", filter.Sort)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, storage.Validationf("limit and offset must be non-negative")
	}
	return e.store.ListTickets(ctx, filter)
}

// AddComment appends a comment to a ticket. Mentions are stored verbatim;
// they may reference agents or tickets that do not exist yet.
func (e *Engine) AddComment(ctx context.Context, c *types.Comment) (int64, error) {
	if err := requireAgent(c.AgentID); err != nil {
		return 0, err
	}
	if c.CommentText == "" {
		return 0, storage.Validationf("comment_text must not be empty")
	}
	if c.CommentType == "" {
		c.CommentType = types.CommentGeneral
	}
	if !c.CommentType.IsValid() {
		return 0, storage.Validationf("invalid comment type %q", c.CommentType)
	}
	return e.store.AddComment(ctx, c)
}

// LinkCommit associates a commit with a ticket. When no message is supplied
// and a fetcher collaborator is configured, the message is fetched before
// the write; diff stats are stored opaquely.
func (e *Engine) LinkCommit(ctx context.Context, link *types.CommitLink, agentID string) error {
	if err := requireAgent(agentID); err != nil {
		return err
	}
	if link.CommitSHA == "" {
		return storage.Validationf("commit_sha is required")
	}
	if link.CommitMessage == "" && e.commits != nil {
		// Collaborator call stays outside the transaction.
		if msg, err := e.commits.CommitMessage(ctx, link.CommitSHA); err == nil {
			link.CommitMessage = msg
		}
	}
	if link.AuthorAgentID == "" {
		link.AuthorAgentID = agentID
	}

	return e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTicket(ctx, link.TicketID); err != nil {
			return err
		}
		if err := tx.LinkCommit(ctx, link); err != nil {
			return err
		}
		return tx.RecordHistory(ctx, &types.HistoryEvent{
			TicketID:   link.TicketID,
			ChangeType: types.ChangeCommitLinked,
			NewValue:   link.CommitSHA,
			AgentID:    agentID,
		})
	})
}

// linkCommitInTx links a commit as part of a larger transaction. No message
// fetch happens here; collaborator calls never run inside a transaction.
func (e *Engine) linkCommitInTx(ctx context.Context, tx storage.Tx, ticketID, sha, message, agentID string) error {
	if err := tx.LinkCommit(ctx, &types.CommitLink{
		TicketID:      ticketID,
		CommitSHA:     sha,
		CommitMessage: message,
		AuthorAgentID: agentID,
	}); err != nil {
		return err
	}
	return tx.RecordHistory(ctx, &types.HistoryEvent{
		TicketID:   ticketID,
		ChangeType: types.ChangeCommitLinked,
		NewValue:   sha,
		AgentID:    agentID,
	})
}

// Search delegates to the hybrid search engine.
func (e *Engine) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	if e.searcher == nil {
		return nil, storage.Unavailablef("search is not configured")
	}
	return e.searcher.Search(ctx, req)
}

// RequestClarification delegates to the clarification arbitrator. There is
// no degraded mode: collaborator failure surfaces to the caller.
func (e *Engine) RequestClarification(ctx context.Context, req clarify.Request) (*clarify.Response, error) {
	if err := requireAgent(req.AgentID); err != nil {
		return nil, err
	}
	if e.clarifier == nil {
		return nil, storage.Unavailablef("clarification is not configured")
	}
	return e.clarifier.Request(ctx, req)
}
