package types

import (
	"strings"
	"testing"
)

var taskTypes = []string{"task", "bug", "feature"}

func validTicket() *Ticket {
	return &Ticket{
		ID:          "tkt-00001",
		WorkflowID:  "wf",
		Title:       "Fix login redirect",
		Description: "Users land on a 404 after login.",
		TicketType:  "bug",
		Priority:    PriorityHigh,
	}
}

func TestValidateOK(t *testing.T) {
	if err := validTicket().Validate(taskTypes); err != nil {
		t.Fatalf("valid ticket rejected: %v", err)
	}
}

func TestValidateTitleBounds(t *testing.T) {
	tk := validTicket()
	tk.Title = "ab"
	if err := tk.Validate(taskTypes); err == nil {
		t.Error("short title accepted")
	}
	tk.Title = strings.Repeat("x", MaxTitleLen+1)
	if err := tk.Validate(taskTypes); err == nil {
		t.Error("overlong title accepted")
	}
	tk.Title = strings.Repeat("x", MaxTitleLen)
	if err := tk.Validate(taskTypes); err != nil {
		t.Errorf("title at max length rejected: %v", err)
	}
}

func TestValidateDescription(t *testing.T) {
	tk := validTicket()
	tk.Description = "too short"
	if err := tk.Validate(taskTypes); err == nil {
		t.Error("short description accepted")
	}
}

func TestValidateTicketType(t *testing.T) {
	tk := validTicket()
	tk.TicketType = "saga"
	if err := tk.Validate(taskTypes); err == nil {
		t.Error("unknown ticket type accepted")
	}
}

func TestValidatePriority(t *testing.T) {
	tk := validTicket()
	tk.Priority = "urgent"
	if err := tk.Validate(taskTypes); err == nil {
		t.Error("unknown priority accepted")
	}
}

func TestValidateSelfBlock(t *testing.T) {
	tk := validTicket()
	tk.BlockedBy = []string{tk.ID}
	if err := tk.Validate(taskTypes); err == nil {
		t.Error("self-block accepted")
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	if PriorityRank(PriorityCritical) <= PriorityRank(PriorityHigh) ||
		PriorityRank(PriorityHigh) <= PriorityRank(PriorityMedium) ||
		PriorityRank(PriorityMedium) <= PriorityRank(PriorityLow) {
		t.Error("priority ranks are not strictly ordered")
	}
}

func TestCommentTypeIsValid(t *testing.T) {
	for _, ct := range []CommentType{CommentGeneral, CommentStatusChange, CommentBlocker, CommentResolution} {
		if !ct.IsValid() {
			t.Errorf("%s should be valid", ct)
		}
	}
	if CommentType("banter").IsValid() {
		t.Error("unknown comment type should be invalid")
	}
}

func TestSortOrderIsValid(t *testing.T) {
	if !SortOrder("").IsValid() {
		t.Error("empty sort order should be valid (default)")
	}
	if SortOrder("shuffled").IsValid() {
		t.Error("unknown sort order should be invalid")
	}
}
