package rpc

import (
	"encoding/json"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// Operation names for the request/response boundary.
const (
	OpPing                 = "ping"
	OpShutdown             = "shutdown"
	OpCreateTicket         = "create_ticket"
	OpUpdateTicket         = "update_ticket"
	OpChangeTicketStatus   = "change_ticket_status"
	OpAddTicketComment     = "add_ticket_comment"
	OpSearchTickets        = "search_tickets"
	OpGetTicket            = "get_ticket"
	OpGetTickets           = "get_tickets"
	OpLinkCommitToTicket   = "link_commit_to_ticket"
	OpResolveTicket        = "resolve_ticket"
	OpReopenTicket         = "reopen_ticket"
	OpRequestClarification = "request_ticket_clarification"
)

// Request is one framed client call. AgentID identifies the caller for
// attribution in history and comments; every operation except ping
// requires it.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// ErrorPayload is the structured failure shape crossing the boundary.
type ErrorPayload struct {
	Kind        storage.Kind `json:"kind"`
	Message     string       `json:"message"`
	BlockingIDs []string     `json:"blocking_ticket_ids,omitempty"`
}

// Response is one framed server reply.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// NewErrorResponse converts err into a failed Response, preserving the
// structured kind and blocker ids where present.
func NewErrorResponse(err error) *Response {
	se := storage.AsError(err)
	return &Response{
		Success: false,
		Error: &ErrorPayload{
			Kind:        se.Kind,
			Message:     se.Message,
			BlockingIDs: se.BlockingIDs,
		},
	}
}

// NewSuccessResponse marshals data into a successful Response.
func NewSuccessResponse(data any) *Response {
	if data == nil {
		return &Response{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Response{Success: true, Data: raw}
}

// CreateTicketArgs are the arguments for create_ticket.
type CreateTicketArgs struct {
	WorkflowID      string   `json:"workflow_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	TicketType      string   `json:"ticket_type,omitempty"`
	Priority        string   `json:"priority,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	BlockedBy       []string `json:"blocked_by_ticket_ids,omitempty"`
	AssignedAgentID string   `json:"assigned_agent_id,omitempty"`
	ParentTicketID  string   `json:"parent_ticket_id,omitempty"`
}

// SimilarTicket is one advisory near-duplicate returned by create_ticket.
type SimilarTicket struct {
	TicketID string  `json:"ticket_id"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
}

// CreateTicketResult is the create_ticket payload.
type CreateTicketResult struct {
	Ticket         *types.Ticket   `json:"ticket"`
	SimilarTickets []SimilarTicket `json:"similar_tickets"`
}

// UpdateTicketArgs are the arguments for update_ticket.
type UpdateTicketArgs struct {
	TicketID      string         `json:"ticket_id"`
	Updates       map[string]any `json:"updates"`
	UpdateComment string         `json:"update_comment,omitempty"`
}

// UpdateTicketResult is the update_ticket payload.
type UpdateTicketResult struct {
	FieldsUpdated []string `json:"fields_updated"`
}

// ChangeStatusArgs are the arguments for change_ticket_status.
type ChangeStatusArgs struct {
	TicketID  string `json:"ticket_id"`
	NewStatus string `json:"new_status"`
	Comment   string `json:"comment,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// ChangeStatusResult is the change_ticket_status payload.
type ChangeStatusResult struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// AddCommentArgs are the arguments for add_ticket_comment.
type AddCommentArgs struct {
	TicketID    string   `json:"ticket_id"`
	CommentText string   `json:"comment_text"`
	CommentType string   `json:"comment_type,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
}

// AddCommentResult is the add_ticket_comment payload.
type AddCommentResult struct {
	CommentID int64 `json:"comment_id"`
}

// SearchFilters narrow search candidates. Pointer fields are optional.
type SearchFilters struct {
	Status          *string  `json:"status,omitempty"`
	Priority        *string  `json:"priority,omitempty"`
	TicketType      *string  `json:"ticket_type,omitempty"`
	AssignedAgentID *string  `json:"assigned_agent_id,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	IsBlocked       *bool    `json:"is_blocked,omitempty"`
}

// SearchTicketsArgs are the arguments for search_tickets.
type SearchTicketsArgs struct {
	WorkflowID      string        `json:"workflow_id"`
	Query           string        `json:"query"`
	SearchType      string        `json:"search_type,omitempty"`
	Filters         SearchFilters `json:"filters,omitempty"`
	Limit           int           `json:"limit,omitempty"`
	IncludeComments bool          `json:"include_comments,omitempty"`
}

// SearchResult is one ranked search hit.
type SearchResult struct {
	Ticket         *types.Ticket `json:"ticket"`
	RelevanceScore float64       `json:"relevance_score"`
	SemanticScore  float64       `json:"semantic_score"`
	KeywordScore   float64       `json:"keyword_score"`
	IsBlocked      bool          `json:"is_blocked"`
	IsResolved     bool          `json:"is_resolved"`
}

// SearchTicketsResult is the search_tickets payload.
type SearchTicketsResult struct {
	Results      []SearchResult `json:"results"`
	TotalFound   int            `json:"total_found"`
	SearchTimeMS int64          `json:"search_time_ms"`
	Degraded     bool           `json:"degraded,omitempty"`
}

// GetTicketArgs are the arguments for get_ticket. History in the payload is
// capped per call; history_offset pages backward from the most recent event
// for callers that need the full trail.
type GetTicketArgs struct {
	TicketID      string `json:"ticket_id"`
	HistoryLimit  int    `json:"history_limit,omitempty"`
	HistoryOffset int    `json:"history_offset,omitempty"`
}

// GetTicketsArgs are the arguments for get_tickets (list).
type GetTicketsArgs struct {
	WorkflowID string   `json:"workflow_id"`
	Status     *string  `json:"status,omitempty"`
	Priority   *string  `json:"priority,omitempty"`
	TicketType *string  `json:"ticket_type,omitempty"`
	Assignee   *string  `json:"assigned_agent_id,omitempty"`
	ParentID   *string  `json:"parent_ticket_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Blocked    *bool    `json:"is_blocked,omitempty"`
	Resolved   *bool    `json:"is_resolved,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
	Sort       string   `json:"sort,omitempty"`
}

// LinkCommitArgs are the arguments for link_commit_to_ticket.
type LinkCommitArgs struct {
	TicketID      string   `json:"ticket_id"`
	CommitSHA     string   `json:"commit_sha"`
	CommitMessage string   `json:"commit_message,omitempty"`
	FilesChanged  int      `json:"files_changed,omitempty"`
	Insertions    int      `json:"insertions,omitempty"`
	Deletions     int      `json:"deletions,omitempty"`
	FilesList     []string `json:"files_list,omitempty"`
}

// LinkCommitResult is the link_commit_to_ticket payload.
type LinkCommitResult struct {
	OK bool `json:"ok"`
}

// ResolveTicketArgs are the arguments for resolve_ticket.
type ResolveTicketArgs struct {
	TicketID          string `json:"ticket_id"`
	ResolutionComment string `json:"resolution_comment"`
	CommitSHA         string `json:"commit_sha,omitempty"`
}

// ResolveTicketResult is the resolve_ticket payload.
type ResolveTicketResult struct {
	UnblockedTickets []string `json:"unblocked_tickets"`
}

// ReopenTicketArgs are the arguments for reopen_ticket.
type ReopenTicketArgs struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason,omitempty"`
}

// ClarificationArgs are the arguments for request_ticket_clarification.
type ClarificationArgs struct {
	TicketID            string   `json:"ticket_id"`
	ConflictDescription string   `json:"conflict_description"`
	Context             string   `json:"context,omitempty"`
	PotentialSolutions  []string `json:"potential_solutions,omitempty"`
}

// ClarificationResult is the request_ticket_clarification payload.
type ClarificationResult struct {
	Clarification string `json:"clarification"`
	CommentID     int64  `json:"comment_id"`
}
