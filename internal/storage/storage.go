// Package storage provides shared types for ticket storage.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interfaces and error kinds referenced by both the implementation
// and its consumers (the engine, the RPC server).
package storage

import (
	"context"

	"github.com/forgeline/trellis/internal/types"
)

// Storage is the interface satisfied by *sqlite.Store. Consumers depend on
// this interface rather than on the concrete type so that alternatives
// (mocks, proxies) can be substituted.
type Storage interface {
	// Ticket CRUD
	CreateTicket(ctx context.Context, t *types.Ticket, agentID string) error
	GetTicket(ctx context.Context, id string) (*types.Ticket, error)
	UpdateTicketFields(ctx context.Context, id string, updates map[string]any, agentID string) ([]string, error)
	ListTickets(ctx context.Context, filter types.TicketFilter) (*types.TicketPage, error)

	// Snapshot reads for search: all tickets in a workflow, optionally with
	// comment text attached. Never mutates state.
	SnapshotTickets(ctx context.Context, workflowID string) ([]*types.Ticket, error)
	CommentTexts(ctx context.Context, workflowID string) (map[string][]string, error)

	// Dependency edges
	AddBlocker(ctx context.Context, ticketID, blockerID, agentID string) error
	RemoveBlocker(ctx context.Context, ticketID, blockerID, agentID string) error
	BlockerEdges(ctx context.Context, workflowID string) (map[string][]string, error)

	// Audit trail
	AddComment(ctx context.Context, c *types.Comment) (int64, error)
	GetComments(ctx context.Context, ticketID string) ([]*types.Comment, error)
	GetHistory(ctx context.Context, ticketID string, limit, offset int) ([]*types.HistoryEvent, error)
	LinkCommit(ctx context.Context, link *types.CommitLink) error
	GetCommits(ctx context.Context, ticketID string) ([]*types.CommitLink, error)

	// Workflow config KV (board config snapshots, counters)
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// SetTrackTime toggles per-status dwell accounting for status changes.
	SetTrackTime(enabled bool)

	// Lifecycle
	Close() error
}

// Tx exposes the subset of operations that execute within a single database
// transaction. All mutating engine operations (create, update, change
// status, resolve with cascade) run through Tx so that each is atomic: the
// blocked-check and the status write see the same committed state, and a
// cascade either fully commits or leaves the ticket exactly as it was.
type Tx interface {
	CreateTicket(ctx context.Context, t *types.Ticket, agentID string) error
	GetTicket(ctx context.Context, id string) (*types.Ticket, error)
	UpdateTicketFields(ctx context.Context, id string, updates map[string]any, agentID string) ([]string, error)
	SetStatus(ctx context.Context, id, status string, agentID string) error
	MarkResolved(ctx context.Context, id string, agentID string) error
	MarkReopened(ctx context.Context, id string, agentID string) error

	AddBlocker(ctx context.Context, ticketID, blockerID, agentID string) error
	RemoveBlocker(ctx context.Context, ticketID, blockerID, agentID string) error
	// Dependents returns ids of tickets whose blocker set contains blockerID,
	// along with each dependent's full blocker list.
	Dependents(ctx context.Context, blockerID string) (map[string][]string, error)
	// BlockerStates returns resolved-ness for each blocker of ticketID.
	BlockerStates(ctx context.Context, ticketID string) (map[string]bool, error)
	// ReachableFrom returns the blocked_by adjacency for the workflow, for
	// cycle checks over already-fetched data.
	BlockerEdges(ctx context.Context, workflowID string) (map[string][]string, error)

	AddComment(ctx context.Context, c *types.Comment) (int64, error)
	RecordHistory(ctx context.Context, ev *types.HistoryEvent) error
	LinkCommit(ctx context.Context, link *types.CommitLink) error

	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
}
