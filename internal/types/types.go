// Package types defines core data structures for the trellis ticket engine.
package types

import (
	"fmt"
	"time"
)

// Ticket represents a trackable unit of work on a Kanban board.
type Ticket struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	TicketType      string     `json:"ticket_type"`
	Priority        Priority   `json:"priority"`
	Status          string     `json:"status"`
	Tags            []string   `json:"tags,omitempty"`
	AssignedAgentID string     `json:"assigned_agent_id,omitempty"`
	ParentTicketID  string     `json:"parent_ticket_id,omitempty"`
	BlockedBy       []string   `json:"blocked_by_ticket_ids,omitempty"`
	IsBlocked       bool       `json:"is_blocked"` // Derived: any blocker not yet resolved
	IsResolved      bool       `json:"is_resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Title and description length bounds enforced at creation and update.
const (
	MinTitleLen       = 3
	MaxTitleLen       = 500
	MinDescriptionLen = 10
)

// Validate checks field values against the given set of allowed ticket types.
// Status membership is checked separately against the board configuration.
func (t *Ticket) Validate(allowedTypes []string) error {
	if len(t.Title) < MinTitleLen || len(t.Title) > MaxTitleLen {
		return fmt.Errorf("title must be %d-%d characters (got %d)", MinTitleLen, MaxTitleLen, len(t.Title))
	}
	if len(t.Description) < MinDescriptionLen {
		return fmt.Errorf("description must be at least %d characters (got %d)", MinDescriptionLen, len(t.Description))
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	typeOK := false
	for _, tt := range allowedTypes {
		if t.TicketType == tt {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return fmt.Errorf("invalid ticket type: %s", t.TicketType)
	}
	for _, id := range t.BlockedBy {
		if id == t.ID {
			return fmt.Errorf("ticket cannot block itself")
		}
	}
	return nil
}

// Priority represents ticket urgency.
type Priority string

// Priority constants
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority value is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Comment is an append-only note on a ticket. Immutable once written.
type Comment struct {
	ID          int64       `json:"id"`
	TicketID    string      `json:"ticket_id"`
	AgentID     string      `json:"agent_id"`
	CommentText string      `json:"comment_text"`
	CommentType CommentType `json:"comment_type"`
	Mentions    []string    `json:"mentions,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CommentType categorizes a comment.
type CommentType string

// Comment type constants
const (
	CommentGeneral      CommentType = "general"
	CommentStatusChange CommentType = "status_change"
	CommentBlocker      CommentType = "blocker"
	CommentResolution   CommentType = "resolution"
)

// IsValid checks if the comment type value is valid.
func (c CommentType) IsValid() bool {
	switch c {
	case CommentGeneral, CommentStatusChange, CommentBlocker, CommentResolution:
		return true
	}
	return false
}

// HistoryEvent is an immutable record of a single field or status change.
// Events for a ticket are totally ordered by ID (assigned in commit order).
type HistoryEvent struct {
	ID          int64      `json:"id"`
	TicketID    string     `json:"ticket_id"`
	ChangeType  ChangeType `json:"change_type"`
	OldValue    string     `json:"old_value,omitempty"`
	NewValue    string     `json:"new_value,omitempty"`
	Description string     `json:"change_description,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	ChangedAt   time.Time  `json:"changed_at"`
}

// ChangeType categorizes history events.
type ChangeType string

// Change type constants
const (
	ChangeCreated        ChangeType = "created"
	ChangeFieldUpdate    ChangeType = "field_update"
	ChangeStatus         ChangeType = "status_changed"
	ChangeResolved       ChangeType = "resolved"
	ChangeReopened       ChangeType = "reopened"
	ChangeBlockerAdded   ChangeType = "blocker_added"
	ChangeBlockerRemoved ChangeType = "blocker_removed"
	ChangeCommitLinked   ChangeType = "commit_linked"
)

// CommitLink associates a git commit with a ticket. Append-only; diff stats
// are stored opaquely and never interpreted by the engine.
type CommitLink struct {
	TicketID      string    `json:"ticket_id"`
	CommitSHA     string    `json:"commit_sha"`
	CommitMessage string    `json:"commit_message,omitempty"`
	AuthorAgentID string    `json:"author_agent_id,omitempty"`
	FilesChanged  int       `json:"files_changed,omitempty"`
	Insertions    int       `json:"insertions,omitempty"`
	Deletions     int       `json:"deletions,omitempty"`
	FilesList     []string  `json:"files_list,omitempty"`
	LinkedAt      time.Time `json:"linked_at"`
}

// TicketFilter is used to filter ticket queries.
type TicketFilter struct {
	WorkflowID string
	Status     *string
	Priority   *Priority
	TicketType *string
	Assignee   *string
	Tags       []string // AND semantics: ticket must have ALL these tags
	Blocked    *bool    // Filter by derived is_blocked flag
	Resolved   *bool
	ParentID   *string
	Limit      int
	Offset     int
	Sort       SortOrder
}

// SortOrder determines list ordering.
type SortOrder string

// Sort order constants
const (
	SortCreatedDesc  SortOrder = "created_desc"
	SortCreatedAsc   SortOrder = "created_asc"
	SortUpdatedDesc  SortOrder = "updated_desc"
	SortPriorityDesc SortOrder = "priority_desc"
)

// IsValid checks if the sort order value is valid.
func (s SortOrder) IsValid() bool {
	switch s {
	case SortCreatedDesc, SortCreatedAsc, SortUpdatedDesc, SortPriorityDesc, "":
		return true
	}
	return false
}

// PriorityRank maps priorities to a sortable rank (critical highest).
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// TicketPage is one page of a list query.
type TicketPage struct {
	Tickets    []*Ticket `json:"tickets"`
	TotalCount int       `json:"total_count"`
	HasMore    bool      `json:"has_more"`
}

// TicketDetail bundles a ticket with its audit trail for get operations.
type TicketDetail struct {
	Ticket   *Ticket         `json:"ticket"`
	Comments []*Comment      `json:"comments"`
	History  []*HistoryEvent `json:"history"`
	Commits  []*CommitLink   `json:"commits"`
}
