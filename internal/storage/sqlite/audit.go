package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/types"
)

func addComment(ctx context.Context, q querier, c *types.Comment) (int64, error) {
	mentions, err := json.Marshal(c.Mentions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal mentions: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO comments (ticket_id, agent_id, comment_text, comment_type, mentions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.TicketID, c.AgentID, c.CommentText, c.CommentType, string(mentions), c.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return 0, storage.NotFoundf("ticket %s not found", c.TicketID)
		}
		return 0, fmt.Errorf("failed to add comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func recordHistory(ctx context.Context, q querier, ev *types.HistoryEvent) error {
	if ev.ChangedAt.IsZero() {
		ev.ChangedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO history (ticket_id, change_type, old_value, new_value, change_description, agent_id, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.TicketID, ev.ChangeType, ev.OldValue, ev.NewValue, ev.Description, ev.AgentID, ev.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	ev.ID, err = res.LastInsertId()
	return err
}

func linkCommit(ctx context.Context, q querier, link *types.CommitLink) error {
	files, err := json.Marshal(link.FilesList)
	if err != nil {
		return fmt.Errorf("failed to marshal files list: %w", err)
	}
	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO commit_links (ticket_id, commit_sha, commit_message, author_agent_id,
			files_changed, insertions, deletions, files_list, linked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket_id, commit_sha) DO NOTHING
	`, link.TicketID, link.CommitSHA, link.CommitMessage, link.AuthorAgentID,
		link.FilesChanged, link.Insertions, link.Deletions, string(files), link.LinkedAt)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return storage.NotFoundf("ticket %s not found", link.TicketID)
		}
		return fmt.Errorf("failed to link commit: %w", err)
	}
	return nil
}

// AddComment appends a comment. Comments are immutable once written.
func (s *Store) AddComment(ctx context.Context, c *types.Comment) (int64, error) {
	return addComment(ctx, s.db, c)
}

// GetComments returns a ticket's comments ordered by creation, ascending.
func (s *Store) GetComments(ctx context.Context, ticketID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, agent_id, comment_text, comment_type, mentions, created_at
		FROM comments WHERE ticket_id = ? ORDER BY id ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*types.Comment
	for rows.Next() {
		var c types.Comment
		var mentions string
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AgentID, &c.CommentText,
			&c.CommentType, &mentions, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mentions), &c.Mentions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mentions: %w", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// GetHistory returns a ticket's history events ascending by commit order.
// With limit > 0 the most recent limit events are returned (still
// ascending); offset pages further back from the most recent event, so
// limit=2 offset=2 returns the two events before the latest two.
func (s *Store) GetHistory(ctx context.Context, ticketID string, limit, offset int) ([]*types.HistoryEvent, error) {
	query := `
		SELECT id, ticket_id, change_type, old_value, new_value, change_description, agent_id, changed_at
		FROM history WHERE ticket_id = ? ORDER BY id ASC
	`
	args := []any{ticketID}
	if limit > 0 || offset > 0 {
		if limit <= 0 {
			limit = -1 // SQLite: no limit, offset still applies
		}
		query = `
			SELECT * FROM (
				SELECT id, ticket_id, change_type, old_value, new_value, change_description, agent_id, changed_at
				FROM history WHERE ticket_id = ? ORDER BY id DESC LIMIT ? OFFSET ?
			) ORDER BY id ASC
		`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.HistoryEvent
	for rows.Next() {
		var ev types.HistoryEvent
		var oldVal, newVal, desc sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TicketID, &ev.ChangeType, &oldVal,
			&newVal, &desc, &ev.AgentID, &ev.ChangedAt); err != nil {
			return nil, err
		}
		ev.OldValue = oldVal.String
		ev.NewValue = newVal.String
		ev.Description = desc.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// LinkCommit appends a commit link outside a transaction.
func (s *Store) LinkCommit(ctx context.Context, link *types.CommitLink) error {
	return linkCommit(ctx, s.db, link)
}

// GetCommits returns a ticket's commit links ordered by link time, ascending.
func (s *Store) GetCommits(ctx context.Context, ticketID string) ([]*types.CommitLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, commit_sha, commit_message, author_agent_id,
			files_changed, insertions, deletions, files_list, linked_at
		FROM commit_links WHERE ticket_id = ? ORDER BY id ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []*types.CommitLink
	for rows.Next() {
		var l types.CommitLink
		var files string
		if err := rows.Scan(&l.TicketID, &l.CommitSHA, &l.CommitMessage,
			&l.AuthorAgentID, &l.FilesChanged, &l.Insertions, &l.Deletions,
			&files, &l.LinkedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(files), &l.FilesList); err != nil {
			return nil, fmt.Errorf("failed to unmarshal files list: %w", err)
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

// SetConfig stores a config key/value pair.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

// GetConfig returns a config value, or NotFound.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.NotFoundf("config key %s not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}
