package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

// Verify txStore implements storage.Tx at compile time.
var _ storage.Tx = (*txStore)(nil)

// txStore implements storage.Tx. It wraps a dedicated database connection
// with an active BEGIN IMMEDIATE transaction.
type txStore struct {
	conn   *sql.Conn
	parent *Store
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// beginImmediate starts a write transaction, retrying on SQLITE_BUSY with
// exponential backoff. IMMEDIATE acquires the write lock up front so two
// concurrent mutations of the same ticket serialize instead of deadlocking.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err // Retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// RunInTransaction executes fn within a single write transaction.
//
// On success the transaction commits; on error or panic it rolls back, so a
// mutation either fully applies or leaves the store exactly as it was. A
// caller-cancelled context aborts before commit, never after.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		if isBusy(err) {
			return storage.Conflictf("store busy: %v", err)
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	tx := &txStore{conn: conn, parent: s}
	if err := fn(tx); err != nil {
		return err // Rollback happens in defer
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		if isBusy(err) {
			return storage.Conflictf("commit contention: %v", err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (t *txStore) CreateTicket(ctx context.Context, tk *types.Ticket, agentID string) error {
	return insertTicket(ctx, t.conn, tk)
}

func (t *txStore) GetTicket(ctx context.Context, id string) (*types.Ticket, error) {
	return getTicket(ctx, t.conn, id)
}

func (t *txStore) UpdateTicketFields(ctx context.Context, id string, updates map[string]any, agentID string) ([]string, error) {
	return updateTicketFields(ctx, t.conn, id, updates)
}

func (t *txStore) SetStatus(ctx context.Context, id, status, agentID string) error {
	return setStatus(ctx, t.conn, id, status, t.parent.trackTime.Load())
}

func (t *txStore) MarkResolved(ctx context.Context, id string, agentID string) error {
	return markResolved(ctx, t.conn, id)
}

func (t *txStore) MarkReopened(ctx context.Context, id string, agentID string) error {
	return markReopened(ctx, t.conn, id)
}

func (t *txStore) AddBlocker(ctx context.Context, ticketID, blockerID, agentID string) error {
	return addBlocker(ctx, t.conn, ticketID, blockerID, agentID)
}

func (t *txStore) RemoveBlocker(ctx context.Context, ticketID, blockerID, agentID string) error {
	return removeBlocker(ctx, t.conn, ticketID, blockerID)
}

func (t *txStore) Dependents(ctx context.Context, blockerID string) (map[string][]string, error) {
	return dependents(ctx, t.conn, blockerID)
}

func (t *txStore) BlockerStates(ctx context.Context, ticketID string) (map[string]bool, error) {
	return blockerStates(ctx, t.conn, ticketID)
}

func (t *txStore) BlockerEdges(ctx context.Context, workflowID string) (map[string][]string, error) {
	return blockerEdges(ctx, t.conn, workflowID)
}

func (t *txStore) AddComment(ctx context.Context, c *types.Comment) (int64, error) {
	return addComment(ctx, t.conn, c)
}

func (t *txStore) RecordHistory(ctx context.Context, ev *types.HistoryEvent) error {
	return recordHistory(ctx, t.conn, ev)
}

func (t *txStore) LinkCommit(ctx context.Context, link *types.CommitLink) error {
	return linkCommit(ctx, t.conn, link)
}

func (t *txStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (t *txStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := t.conn.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.NotFoundf("config key %s not found", key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
