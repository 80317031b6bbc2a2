package clarify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/storage/sqlite"
	"github.com/forgeline/trellis/internal/types"
)

type fakeArbitrator struct {
	ruling string
	err    error
	lastTC *TicketContext
}

func (f *fakeArbitrator) Arbitrate(ctx context.Context, tc *TicketContext) (string, error) {
	f.lastTC = tc
	if f.err != nil {
		return "", f.err
	}
	return f.ruling, nil
}

func newTestService(t *testing.T, arb Arbitrator) (*Service, storage.Storage) {
	t.Helper()
	store, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, arb), store
}

func seedTicket(t *testing.T, store storage.Storage, id, parentID string) *types.Ticket {
	t.Helper()
	now := time.Now().UTC()
	tk := &types.Ticket{
		ID:             id,
		WorkflowID:     "wf-1",
		Title:          "Disputed caching behavior",
		Description:    "Agents disagree on cache invalidation timing.",
		TicketType:     "task",
		Priority:       types.PriorityMedium,
		Status:         "backlog",
		ParentTicketID: parentID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateTicket(context.Background(), tk, "agent-1"))
	return tk
}

const conflict = "Agent A reads this as write-through, agent B as write-back."

func TestRequestPersistsRuling(t *testing.T) {
	arb := &fakeArbitrator{ruling: "The ticket means write-through; see the description's second sentence."}
	svc, store := newTestService(t, arb)
	ctx := context.Background()

	seedTicket(t, store, "tkt-1", "")

	resp, err := svc.Request(ctx, Request{
		TicketID:            "tkt-1",
		ConflictDescription: conflict,
		AgentID:             "agent-a",
	})
	require.NoError(t, err)
	assert.Equal(t, arb.ruling, resp.ClarificationText)
	assert.NotZero(t, resp.CommentID)

	comments, err := store.GetComments(ctx, "tkt-1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, types.CommentResolution, comments[0].CommentType)
	assert.Equal(t, arb.ruling, comments[0].CommentText)
	assert.Equal(t, "agent-a", comments[0].AgentID)
}

func TestRequestShortConflictRejected(t *testing.T) {
	svc, store := newTestService(t, &fakeArbitrator{ruling: "never reached"})
	seedTicket(t, store, "tkt-1", "")

	_, err := svc.Request(context.Background(), Request{
		TicketID:            "tkt-1",
		ConflictDescription: "too vague",
		AgentID:             "agent-a",
	})
	assert.True(t, storage.IsKind(err, storage.KindValidation), "got %v", err)
}

func TestRequestTicketNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeArbitrator{ruling: "never reached"})
	_, err := svc.Request(context.Background(), Request{
		TicketID:            "tkt-nope",
		ConflictDescription: conflict,
		AgentID:             "agent-a",
	})
	assert.True(t, storage.IsKind(err, storage.KindNotFound), "got %v", err)
}

func TestRequestArbitratorFailure(t *testing.T) {
	svc, store := newTestService(t, &fakeArbitrator{err: errors.New("model overloaded")})
	seedTicket(t, store, "tkt-1", "")

	_, err := svc.Request(context.Background(), Request{
		TicketID:            "tkt-1",
		ConflictDescription: conflict,
		AgentID:             "agent-a",
	})
	assert.True(t, storage.IsKind(err, storage.KindUnavailable), "got %v", err)

	// The failed round must not leave a partial comment behind.
	comments, err := store.GetComments(context.Background(), "tkt-1")
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestRequestNoArbitrator(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedTicket(t, store, "tkt-1", "")

	_, err := svc.Request(context.Background(), Request{
		TicketID:            "tkt-1",
		ConflictDescription: conflict,
		AgentID:             "agent-a",
	})
	assert.True(t, storage.IsKind(err, storage.KindUnavailable), "got %v", err)
}

func TestContextAssembly(t *testing.T) {
	arb := &fakeArbitrator{ruling: "ruled"}
	svc, store := newTestService(t, arb)
	ctx := context.Background()

	parent := seedTicket(t, store, "tkt-parent", "")
	seedTicket(t, store, "tkt-main", parent.ID)
	seedTicket(t, store, "tkt-sib", parent.ID)

	for i := 0; i < 12; i++ {
		_, err := store.AddComment(ctx, &types.Comment{
			TicketID:    "tkt-main",
			AgentID:     "agent-1",
			CommentText: "discussion round",
			CommentType: types.CommentGeneral,
		})
		require.NoError(t, err)
	}

	_, err := svc.Request(ctx, Request{
		TicketID:            "tkt-main",
		ConflictDescription: conflict,
		Context:             "happened during review",
		PotentialSolutions:  []string{"write-through", "write-back"},
		AgentID:             "agent-a",
	})
	require.NoError(t, err)

	tc := arb.lastTC
	require.NotNil(t, tc, "arbitrator never called")
	assert.Equal(t, "tkt-main", tc.Ticket.ID)
	assert.Len(t, tc.Comments, recentComments, "only the most recent comments go to the arbitrator")
	require.Len(t, tc.Siblings, 1)
	assert.Equal(t, "tkt-sib", tc.Siblings[0].ID)
	assert.Equal(t, conflict, tc.ConflictDescription)
	assert.Equal(t, "happened during review", tc.CallerContext)
	assert.Len(t, tc.PotentialSolutions, 2)
}
