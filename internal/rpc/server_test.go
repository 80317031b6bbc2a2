package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/forgeline/trellis/internal/board"
	"github.com/forgeline/trellis/internal/engine"
	"github.com/forgeline/trellis/internal/search"
	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/storage/sqlite"
	"github.com/forgeline/trellis/internal/types"
)

// startTestServer brings up a server on a temp-dir socket and returns a
// connected client.
func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	dir := t.TempDir()

	store, err := sqlite.New(context.Background(), dir+"/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	eng := engine.New(store, board.Default(), search.New(store, nil))
	srv := NewServer(eng, dir+"/trellis.sock")
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	client, err := Dial(srv.SocketPath(), "agent-1")
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func createOverRPC(t *testing.T, client *Client, title string, blockedBy []string) *types.Ticket {
	t.Helper()
	var result CreateTicketResult
	err := client.Call(OpCreateTicket, CreateTicketArgs{
		WorkflowID:  "wf-1",
		Title:       title,
		Description: "a description long enough to pass validation",
		BlockedBy:   blockedBy,
	}, &result)
	if err != nil {
		t.Fatalf("create_ticket failed: %v", err)
	}
	return result.Ticket
}

func TestPing(t *testing.T) {
	_, client := startTestServer(t)
	if err := client.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestCreateGetRoundtrip(t *testing.T) {
	_, client := startTestServer(t)

	created := createOverRPC(t, client, "Round trip ticket", nil)
	if created.ID == "" || created.Status != "backlog" {
		t.Fatalf("created = %+v", created)
	}

	var detail types.TicketDetail
	err := client.Call(OpGetTicket, GetTicketArgs{TicketID: created.ID}, &detail)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Ticket.Title != "Round trip ticket" {
		t.Errorf("title = %q", detail.Ticket.Title)
	}
	if len(detail.History) == 0 || detail.History[0].ChangeType != types.ChangeCreated {
		t.Errorf("history = %+v", detail.History)
	}
}

func TestGetTicketHistoryPaging(t *testing.T) {
	_, client := startTestServer(t)

	tk := createOverRPC(t, client, "Ticket with a trail", nil)
	for _, p := range []string{"low", "high"} {
		err := client.Call(OpUpdateTicket, UpdateTicketArgs{
			TicketID: tk.ID,
			Updates:  map[string]any{"priority": p},
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	// Three events total: created plus two priority updates.
	var detail types.TicketDetail
	err := client.Call(OpGetTicket, GetTicketArgs{TicketID: tk.ID, HistoryLimit: 1}, &detail)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.History) != 1 || detail.History[0].NewValue != "high" {
		t.Errorf("latest window wrong: %+v", detail.History)
	}

	err = client.Call(OpGetTicket, GetTicketArgs{TicketID: tk.ID, HistoryLimit: 1, HistoryOffset: 2}, &detail)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.History) != 1 || detail.History[0].ChangeType != types.ChangeCreated {
		t.Errorf("offset window wrong: %+v", detail.History)
	}

	err = client.Call(OpGetTicket, GetTicketArgs{TicketID: tk.ID, HistoryLimit: 1000}, &detail)
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("oversized history limit should be rejected, got %v", err)
	}
}

func TestBlockedErrorCrossesBoundary(t *testing.T) {
	_, client := startTestServer(t)

	blocker := createOverRPC(t, client, "Upstream work item", nil)
	dep := createOverRPC(t, client, "Downstream work item", []string{blocker.ID})

	var out ChangeStatusResult
	err := client.Call(OpChangeTicketStatus, ChangeStatusArgs{
		TicketID:  dep.ID,
		NewStatus: "building",
	}, &out)
	if err == nil {
		t.Fatal("blocked transition should fail")
	}

	var se *storage.Error
	if !errors.As(err, &se) {
		t.Fatalf("error lost structure over the wire: %v", err)
	}
	if se.Kind != storage.KindBlocked {
		t.Errorf("kind = %s", se.Kind)
	}
	if len(se.BlockingIDs) != 1 || se.BlockingIDs[0] != blocker.ID {
		t.Errorf("blocking ids = %v", se.BlockingIDs)
	}
}

func TestResolveOverRPC(t *testing.T) {
	_, client := startTestServer(t)

	blocker := createOverRPC(t, client, "Upstream work item", nil)
	dep := createOverRPC(t, client, "Downstream work item", []string{blocker.ID})

	var result ResolveTicketResult
	err := client.Call(OpResolveTicket, ResolveTicketArgs{
		TicketID:          blocker.ID,
		ResolutionComment: "done and verified",
	}, &result)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.UnblockedTickets) != 1 || result.UnblockedTickets[0] != dep.ID {
		t.Errorf("unblocked = %v", result.UnblockedTickets)
	}
}

func TestListOverRPC(t *testing.T) {
	_, client := startTestServer(t)

	createOverRPC(t, client, "First listed ticket", nil)
	createOverRPC(t, client, "Second listed ticket", nil)

	var page types.TicketPage
	err := client.Call(OpGetTickets, GetTicketsArgs{WorkflowID: "wf-1"}, &page)
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalCount != 2 || len(page.Tickets) != 2 {
		t.Errorf("page = %+v", page)
	}
}

func TestSearchOverRPC(t *testing.T) {
	_, client := startTestServer(t)

	createOverRPC(t, client, "Login fails with special characters", nil)

	var result SearchTicketsResult
	err := client.Call(OpSearchTickets, SearchTicketsArgs{
		WorkflowID: "wf-1",
		Query:      "login fails",
		SearchType: "keyword",
	}, &result)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalFound != 1 || len(result.Results) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if result.Results[0].RelevanceScore <= 0 {
		t.Error("score missing")
	}
}

func TestUnknownOperation(t *testing.T) {
	_, client := startTestServer(t)

	err := client.Call("explode_ticket", nil, nil)
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestMissingAgentID(t *testing.T) {
	srv, _ := startTestServer(t)

	anon, err := Dial(srv.SocketPath(), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = anon.Close() })

	// Ping is exempt from attribution.
	if err := anon.Ping(); err != nil {
		t.Fatalf("ping should not need an agent id: %v", err)
	}

	err = anon.Call(OpCreateTicket, CreateTicketArgs{
		WorkflowID:  "wf-1",
		Title:       "Anonymous ticket",
		Description: "a description long enough to pass validation",
	}, nil)
	if !storage.IsKind(err, storage.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestShutdownSignal(t *testing.T) {
	srv, client := startTestServer(t)

	if err := client.Call(OpShutdown, nil, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-srv.ShutdownRequested():
	default:
		t.Error("shutdown channel not closed")
	}
}

func TestPipelinedRequests(t *testing.T) {
	_, client := startTestServer(t)

	// One connection, several sequential operations.
	tk := createOverRPC(t, client, "Pipelined ticket", nil)

	var commentOut AddCommentResult
	err := client.Call(OpAddTicketComment, AddCommentArgs{
		TicketID:    tk.ID,
		CommentText: "first note on the ticket",
	}, &commentOut)
	if err != nil {
		t.Fatal(err)
	}

	var updateOut UpdateTicketResult
	err = client.Call(OpUpdateTicket, UpdateTicketArgs{
		TicketID: tk.ID,
		Updates:  map[string]any{"priority": "high"},
	}, &updateOut)
	if err != nil {
		t.Fatal(err)
	}
	if len(updateOut.FieldsUpdated) != 1 || updateOut.FieldsUpdated[0] != "priority" {
		t.Errorf("fields updated = %v", updateOut.FieldsUpdated)
	}

	var detail types.TicketDetail
	if err := client.Call(OpGetTicket, GetTicketArgs{TicketID: tk.ID}, &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Ticket.Priority != types.PriorityHigh {
		t.Errorf("priority = %s", detail.Ticket.Priority)
	}
	if len(detail.Comments) != 1 {
		t.Errorf("comments = %d", len(detail.Comments))
	}
}
