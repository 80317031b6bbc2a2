package engine

import (
	"context"
	"testing"

	"github.com/forgeline/trellis/internal/board"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/storage/sqlite"
	"github.com/forgeline/trellis/internal/types"
)

func newTestEngine(t *testing.T, cfg *board.Config, opts ...Option) *Engine {
	t.Helper()
	store, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if cfg == nil {
		cfg = board.Default()
	}
	return New(store, cfg, search.New(store, nil), opts...)
}

func mustCreateTicket(t *testing.T, eng *Engine, req CreateRequest) *types.Ticket {
	t.Helper()
	if req.WorkflowID == "" {
		req.WorkflowID = "wf-1"
	}
	res, err := eng.Create(context.Background(), req, "agent-1")
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", req.Title, err)
	}
	return res.Ticket
}

func TestCreateDefaults(t *testing.T) {
	eng := newTestEngine(t, nil)

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Add request logging",
		Description: "Log method, path, and latency for each request.",
	})
	if tk.Status != "backlog" {
		t.Errorf("status = %q, want initial column", tk.Status)
	}
	if tk.TicketType != "task" || tk.Priority != types.PriorityMedium {
		t.Errorf("defaults not applied: type=%s priority=%s", tk.TicketType, tk.Priority)
	}
	if tk.ID == "" {
		t.Error("no id assigned")
	}
}

func TestCreateValidation(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	cases := map[string]CreateRequest{
		"short title": {
			WorkflowID:  "wf-1",
			Title:       "ab",
			Description: "long enough description here",
		},
		"short description": {
			WorkflowID:  "wf-1",
			Title:       "Valid title",
			Description: "nope",
		},
		"bad type": {
			WorkflowID:  "wf-1",
			Title:       "Valid title",
			Description: "long enough description here",
			TicketType:  "saga",
		},
		"missing workflow": {
			Title:       "Valid title",
			Description: "long enough description here",
		},
		"unknown blocker": {
			WorkflowID:  "wf-1",
			Title:       "Valid title",
			Description: "long enough description here",
			BlockedBy:   []string{"tkt-nope"},
		},
	}
	for name, req := range cases {
		if _, err := eng.Create(ctx, req, "agent-1"); !storage.IsKind(err, storage.KindValidation) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
	}

	if _, err := eng.Create(ctx, cases["short title"], ""); !storage.IsKind(err, storage.KindValidation) {
		t.Error("missing agent should be rejected")
	}
}

func TestBlockedTransitionRejected(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	blocker := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Design the schema",
		Description: "Define tables for the new billing flow.",
	})
	dep := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Implement the API",
		Description: "Endpoints on top of the new schema.",
		BlockedBy:   []string{blocker.ID},
	})
	if !dep.IsBlocked {
		t.Fatal("dependent should start blocked")
	}

	_, err := eng.ChangeStatus(ctx, dep.ID, "building", "", "", "agent-2")
	if !storage.IsKind(err, storage.KindBlocked) {
		t.Fatalf("expected Blocked, got %v", err)
	}
	se := storage.AsError(err)
	if len(se.BlockingIDs) != 1 || se.BlockingIDs[0] != blocker.ID {
		t.Errorf("blocking ids = %v, want [%s]", se.BlockingIDs, blocker.ID)
	}

	// The rejected transition must leave the status untouched.
	got, err := eng.Get(ctx, dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Ticket.Status != "backlog" {
		t.Errorf("status changed despite rejection: %s", got.Ticket.Status)
	}
}

func TestResolveCascadeUnblocks(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	blocker := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Design the schema",
		Description: "Define tables for the new billing flow.",
	})
	depA := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Implement the API",
		Description: "Endpoints on top of the new schema.",
		BlockedBy:   []string{blocker.ID},
	})
	other := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Write the docs",
		Description: "User-facing docs for the billing flow.",
	})
	depB := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Ship the dashboard",
		Description: "Blocked on both schema and docs.",
		BlockedBy:   []string{blocker.ID, other.ID},
	})

	unblocked, err := eng.Resolve(ctx, blocker.ID, "done, fixed", "", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	// depA lost its only blocker; depB still waits on other.
	if len(unblocked) != 1 || unblocked[0] != depA.ID {
		t.Errorf("unblocked = %v, want [%s]", unblocked, depA.ID)
	}

	gotA, err := eng.Get(ctx, depA.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotA.Ticket.IsBlocked || len(gotA.Ticket.BlockedBy) != 0 {
		t.Errorf("depA not unblocked: %+v", gotA.Ticket)
	}
	gotB, err := eng.Get(ctx, depB.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !gotB.Ticket.IsBlocked || len(gotB.Ticket.BlockedBy) != 1 {
		t.Errorf("depB should still be blocked by %s: %+v", other.ID, gotB.Ticket)
	}

	resolved, err := eng.Get(ctx, blocker.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !resolved.Ticket.IsResolved || resolved.Ticket.Status != "done" {
		t.Errorf("resolved ticket state: %+v", resolved.Ticket)
	}

	// Resolving again is a no-op with an empty cascade.
	again, err := eng.Resolve(ctx, blocker.ID, "done, fixed", "", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second resolve cascaded: %v", again)
	}
}

func TestResolveRequiresComment(t *testing.T) {
	eng := newTestEngine(t, nil)
	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Small cleanup",
		Description: "Remove the dead feature flag checks.",
	})
	_, err := eng.Resolve(context.Background(), tk.ID, "short", "", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestResolveBlockedTicketRejected(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	blocker := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Upstream dependency",
		Description: "Must land before the dependent work.",
	})
	dep := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Dependent work",
		Description: "Cannot finish before the upstream lands.",
		BlockedBy:   []string{blocker.ID},
	})

	_, err := eng.Resolve(ctx, dep.ID, "trying to close early", "", "agent-1")
	if !storage.IsKind(err, storage.KindBlocked) {
		t.Errorf("resolving a blocked ticket should fail, got %v", err)
	}
}

func TestCycleRejected(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	a := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Ticket A of the pair",
		Description: "First half of a mutual dependency.",
	})
	b := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Ticket B of the pair",
		Description: "Second half of a mutual dependency.",
		BlockedBy:   []string{a.ID},
	})

	// Closing the loop A -> B -> A must fail and leave the graph untouched.
	_, err := eng.Update(ctx, a.ID, map[string]any{
		"blocked_by_ticket_ids": []string{b.ID},
	}, "", "agent-1")
	if !storage.IsKind(err, storage.KindCycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}

	got, err := eng.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Ticket.BlockedBy) != 0 {
		t.Errorf("failed edit modified the graph: %v", got.Ticket.BlockedBy)
	}
}

func TestCreateSelfReferencingBlockerRejected(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	// A create cannot name its own (not yet generated) id, but an update can
	// try. Both self-blocks and longer loops route through the same check.
	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Standalone ticket",
		Description: "Will attempt to block on itself.",
	})
	_, err := eng.Update(ctx, tk.ID, map[string]any{
		"blocked_by_ticket_ids": []string{tk.ID},
	}, "", "agent-1")
	if !storage.IsKind(err, storage.KindCycle) {
		t.Errorf("self-block should be a CycleError, got %v", err)
	}
}

func TestUpdateRejectsStatusKey(t *testing.T) {
	eng := newTestEngine(t, nil)
	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Any old ticket",
		Description: "Exists only to be updated badly.",
	})
	_, err := eng.Update(context.Background(), tk.ID, map[string]any{"status": "done"}, "", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("status through update should be rejected, got %v", err)
	}
}

func TestUpdateWritesFieldHistory(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Original title here",
		Description: "A ticket whose fields will change.",
	})

	updated, err := eng.Update(ctx, tk.ID, map[string]any{
		"title":    "Amended title here",
		"priority": "high",
	}, "", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated) != 2 {
		t.Errorf("updated = %v", updated)
	}

	detail, err := eng.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	var fieldEvents []*types.HistoryEvent
	for _, ev := range detail.History {
		if ev.ChangeType == types.ChangeFieldUpdate {
			fieldEvents = append(fieldEvents, ev)
		}
	}
	if len(fieldEvents) != 2 {
		t.Fatalf("expected 2 field_update events, got %d", len(fieldEvents))
	}
	for _, ev := range fieldEvents {
		if ev.OldValue == "" || ev.NewValue == "" {
			t.Errorf("event missing values: %+v", ev)
		}
	}
}

func TestStatusChangeCommentRequired(t *testing.T) {
	cfg := board.Default()
	cfg.RequireCommentsOnStatusChange = true
	eng := newTestEngine(t, cfg)
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Strict board ticket",
		Description: "This board demands transition comments.",
	})

	_, err := eng.ChangeStatus(ctx, tk.ID, "building", "", "", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Fatalf("missing comment should be rejected, got %v", err)
	}
	_, err = eng.ChangeStatus(ctx, tk.ID, "building", "short", "", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Fatalf("short comment should be rejected, got %v", err)
	}

	change, err := eng.ChangeStatus(ctx, tk.ID, "building", "starting implementation now", "", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if change.OldStatus != "backlog" || change.NewStatus != "building" {
		t.Errorf("change = %+v", change)
	}

	detail, err := eng.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range detail.Comments {
		if c.CommentType == types.CommentStatusChange {
			found = true
		}
	}
	if !found {
		t.Error("transition comment not persisted")
	}
}

func TestChangeStatusUnknownColumn(t *testing.T) {
	eng := newTestEngine(t, nil)
	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Any old ticket",
		Description: "Will try to move to a fake column.",
	})
	_, err := eng.ChangeStatus(context.Background(), tk.ID, "limbo", "", "", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("unknown column should be rejected, got %v", err)
	}
}

func TestReopen(t *testing.T) {
	cfg := board.Default()
	cfg.AllowReopen = true
	eng := newTestEngine(t, cfg)
	ctx := context.Background()

	blocker := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Flaky fix attempt",
		Description: "A fix that will turn out to be wrong.",
	})
	dep := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Follow-up work",
		Description: "Waits for the fix to land first.",
		BlockedBy:   []string{blocker.ID},
	})

	if _, err := eng.Resolve(ctx, blocker.ID, "fixed, or so we thought", "", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reopen(ctx, blocker.ID, "regression found", "agent-1"); err != nil {
		t.Fatal(err)
	}

	got, err := eng.Get(ctx, blocker.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Ticket.IsResolved || got.Ticket.Status != "backlog" {
		t.Errorf("reopened ticket state: %+v", got.Ticket)
	}

	// The earlier cascade already removed the edge; reopening must not
	// re-block the dependent.
	gotDep, err := eng.Get(ctx, dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotDep.Ticket.IsBlocked {
		t.Error("reopen re-blocked a dependent")
	}
}

func TestReopenGated(t *testing.T) {
	eng := newTestEngine(t, nil) // Default board: AllowReopen off
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "One-way ticket",
		Description: "This board never reopens tickets.",
	})
	if _, err := eng.Resolve(ctx, tk.ID, "shipped and done", "", "agent-1"); err != nil {
		t.Fatal(err)
	}
	err := eng.Reopen(ctx, tk.ID, "changed my mind", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("reopen should be gated by the board, got %v", err)
	}
}

func TestChangeStatusOnResolvedRejected(t *testing.T) {
	reopenable := board.Default()
	reopenable.AllowReopen = true

	for name, cfg := range map[string]*board.Config{
		"reopen off": nil,
		"reopen on":  reopenable,
	} {
		t.Run(name, func(t *testing.T) {
			eng := newTestEngine(t, cfg)
			ctx := context.Background()

			tk := mustCreateTicket(t, eng, CreateRequest{
				Title:       "Finished work item",
				Description: "Resolved, then someone tries to drag it back.",
			})
			if _, err := eng.Resolve(ctx, tk.ID, "shipped and done", "", "agent-1"); err != nil {
				t.Fatal(err)
			}

			_, err := eng.ChangeStatus(ctx, tk.ID, "building", "", "", "agent-1")
			if !storage.IsKind(err, storage.KindValidation) {
				t.Fatalf("moving a resolved ticket should be rejected, got %v", err)
			}

			got, err := eng.Get(ctx, tk.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Ticket.IsResolved || got.Ticket.Status != "done" {
				t.Errorf("rejected move mutated the ticket: %+v", got.Ticket)
			}
		})
	}

	// On a reopen-enabled board the path back is reopen, then move.
	eng := newTestEngine(t, reopenable)
	ctx := context.Background()
	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Regressed work item",
		Description: "Resolved too early, reopened, moved again.",
	})
	if _, err := eng.Resolve(ctx, tk.ID, "shipped and done", "", "agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reopen(ctx, tk.ID, "regression found", "agent-1"); err != nil {
		t.Fatal(err)
	}
	change, err := eng.ChangeStatus(ctx, tk.ID, "building", "", "", "agent-1")
	if err != nil {
		t.Fatalf("move after reopen should succeed: %v", err)
	}
	if change.OldStatus != "backlog" || change.NewStatus != "building" {
		t.Errorf("change = %+v", change)
	}
}

func TestReopenUnresolvedTicket(t *testing.T) {
	cfg := board.Default()
	cfg.AllowReopen = true
	eng := newTestEngine(t, cfg)

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Still open ticket",
		Description: "Was never resolved in the first place.",
	})
	err := eng.Reopen(context.Background(), tk.ID, "oops", "agent-1")
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("reopening an open ticket should fail, got %v", err)
	}
}

func TestAuthorizeHook(t *testing.T) {
	denied := storage.Validationf("agent-2 may not resolve")
	eng := newTestEngine(t, nil, WithAuthorize(func(agentID, operation string, _ *types.Ticket) error {
		if operation == "resolve" && agentID == "agent-2" {
			return denied
		}
		return nil
	}))
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Review-gated ticket",
		Description: "Only the reviewer resolves this one.",
	})
	if _, err := eng.Resolve(ctx, tk.ID, "sneaky self-resolve", "", "agent-2"); err == nil {
		t.Fatal("hook should have denied the resolve")
	}
	if _, err := eng.Resolve(ctx, tk.ID, "reviewed and approved", "", "agent-1"); err != nil {
		t.Fatalf("allowed agent rejected: %v", err)
	}
}

type staticFetcher struct{ msg string }

func (f staticFetcher) CommitMessage(ctx context.Context, sha string) (string, error) {
	return f.msg, nil
}

func TestLinkCommitFetchesMessage(t *testing.T) {
	eng := newTestEngine(t, nil, WithCommitMessageFetcher(staticFetcher{msg: "fix: the bug"}))
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Bug with a commit",
		Description: "The fix lands as a single commit.",
	})
	err := eng.LinkCommit(ctx, &types.CommitLink{TicketID: tk.ID, CommitSHA: "deadbeef"}, "agent-1")
	if err != nil {
		t.Fatal(err)
	}

	detail, err := eng.Get(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Commits) != 1 || detail.Commits[0].CommitMessage != "fix: the bug" {
		t.Errorf("commits = %+v", detail.Commits)
	}
	if detail.Commits[0].AuthorAgentID != "agent-1" {
		t.Errorf("author defaulted wrong: %s", detail.Commits[0].AuthorAgentID)
	}
}

func TestAddCommentValidation(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Comment target",
		Description: "Receives a couple of comments below.",
	})

	if _, err := eng.AddComment(ctx, &types.Comment{
		TicketID: tk.ID, AgentID: "agent-1", CommentText: "",
	}); !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("empty comment: got %v", err)
	}
	if _, err := eng.AddComment(ctx, &types.Comment{
		TicketID: tk.ID, AgentID: "agent-1", CommentText: "hello", CommentType: "banter",
	}); !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("bad comment type: got %v", err)
	}

	id, err := eng.AddComment(ctx, &types.Comment{
		TicketID: tk.ID, AgentID: "agent-1", CommentText: "defaulted to general",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Error("no comment id returned")
	}
}

func TestListRequiresWorkflow(t *testing.T) {
	eng := newTestEngine(t, nil)
	_, err := eng.List(context.Background(), types.TicketFilter{})
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestGetHistoryPaging(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	tk := mustCreateTicket(t, eng, CreateRequest{
		Title:       "Busy ticket",
		Description: "Accumulates a few history events.",
	})
	for _, p := range []string{"low", "high", "critical"} {
		if _, err := eng.Update(ctx, tk.ID, map[string]any{"priority": p}, "", "agent-1"); err != nil {
			t.Fatal(err)
		}
	}

	// Four events total: created plus three priority updates.
	latest, err := eng.GetWithHistory(ctx, tk.ID, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest.History) != 2 {
		t.Fatalf("expected 2 events, got %d", len(latest.History))
	}
	if latest.History[1].NewValue != "critical" {
		t.Errorf("latest window wrong: %+v", latest.History)
	}

	earliest, err := eng.GetWithHistory(ctx, tk.ID, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(earliest.History) != 2 || earliest.History[0].ChangeType != types.ChangeCreated {
		t.Errorf("offset window wrong: %+v", earliest.History)
	}

	if _, err := eng.GetWithHistory(ctx, tk.ID, historyLimit+1, 0); !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("oversized limit should be rejected, got %v", err)
	}
	if _, err := eng.GetWithHistory(ctx, tk.ID, 0, -1); !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("negative offset should be rejected, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	eng := newTestEngine(t, nil)
	_, err := eng.Get(context.Background(), "tkt-nope")
	if !storage.IsKind(err, storage.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
