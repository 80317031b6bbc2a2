// Package engine implements the ticket state machine.
//
// The engine is the only writer to the store. Every mutating operation runs
// inside a single transaction so the dependency checks and the writes they
// guard see the same committed state; collaborator calls (semantic scoring,
// arbitration) always happen outside those transactions.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/forgeline/trellis/internal/board"
	"github.com/forgeline/trellis/internal/clarify"
	"github.com/forgeline/trellis/internal/idgen"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

const (
	// historyLimit bounds the trail returned by Get; full history is
	// available via pagination.
	historyLimit = 100

	// minCommentLen applies to required status-change and resolution
	// comments.
	minCommentLen = 10

	// idPrefix prefixes generated ticket ids.
	idPrefix = "tkt"

	// idRetries bounds collision retries during id generation.
	idRetries = 5
)

// AuthorizeFunc decides whether agentID may perform operation on ticket.
// The engine itself is role-agnostic; conventions like "only the reviewer
// resolves" belong to callers, who install them here.
type AuthorizeFunc func(agentID, operation string, ticket *types.Ticket) error

// CommitMessageFetcher resolves a commit message when the caller did not
// supply one. Implementations shell out to git or call a forge API.
type CommitMessageFetcher interface {
	CommitMessage(ctx context.Context, sha string) (string, error)
}

// Engine orchestrates the store, the board rules, and the dependency graph.
type Engine struct {
	store     storage.Storage
	board     *board.Config
	searcher  *search.Engine
	clarifier *clarify.Service
	authorize AuthorizeFunc
	commits   CommitMessageFetcher
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorize installs a caller-side authorization hook.
func WithAuthorize(fn AuthorizeFunc) Option {
	return func(e *Engine) { e.authorize = fn }
}

// WithClarifier wires the clarification arbitrator.
func WithClarifier(s *clarify.Service) Option {
	return func(e *Engine) { e.clarifier = s }
}

// WithCommitMessageFetcher wires the git collaborator used when link_commit
// is called without a message.
func WithCommitMessageFetcher(f CommitMessageFetcher) Option {
	return func(e *Engine) { e.commits = f }
}

// New builds an engine over the given store and board configuration.
func New(store storage.Storage, cfg *board.Config, searcher *search.Engine, opts ...Option) *Engine {
	e := &Engine{store: store, board: cfg, searcher: searcher}
	for _, opt := range opts {
		opt(e)
	}
	store.SetTrackTime(cfg.TrackTime)
	return e
}

// Board returns the engine's board configuration.
func (e *Engine) Board() *board.Config {
	return e.board
}

func (e *Engine) checkAuthorized(agentID, operation string, ticket *types.Ticket) error {
	if e.authorize == nil {
		return nil
	}
	return e.authorize(agentID, operation, ticket)
}

func requireAgent(agentID string) error {
	if agentID == "" {
		return storage.Validationf("agent_id is required")
	}
	return nil
}

// newTicketID generates a collision-free id inside the transaction.
func newTicketID(ctx context.Context, tx storage.Tx, t *types.Ticket, agentID string) (string, error) {
	for nonce := 0; nonce < idRetries; nonce++ {
		id := idgen.NewTicketID(idPrefix, t.WorkflowID, t.Title, agentID, t.CreatedAt, nonce)
		_, err := tx.GetTicket(ctx, id)
		if storage.IsKind(err, storage.KindNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to generate unique ticket id after %d attempts", idRetries)
}

// sortedIDs returns ids sorted for deterministic payloads.
func sortedIDs(ids []string) []string {
	sort.Strings(ids)
	return ids
}
