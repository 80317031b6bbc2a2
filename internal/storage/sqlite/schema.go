package sqlite

const schema = `
-- Tickets table
CREATE TABLE IF NOT EXISTS tickets (
    id TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    ticket_type TEXT NOT NULL DEFAULT 'task',
    priority TEXT NOT NULL DEFAULT 'medium',
    status TEXT NOT NULL,
    assigned_agent_id TEXT DEFAULT '',
    parent_ticket_id TEXT DEFAULT '',
    is_resolved INTEGER NOT NULL DEFAULT 0,
    resolved_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    -- Column dwell-time accounting (track_time boards)
    status_entered_at DATETIME,
    -- resolved_at invariant: resolved tickets must carry the timestamp
    CHECK (
        (is_resolved = 1 AND resolved_at IS NOT NULL) OR
        (is_resolved = 0 AND resolved_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_tickets_workflow ON tickets(workflow_id);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(workflow_id, status);
CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assigned_agent_id);
CREATE INDEX IF NOT EXISTS idx_tickets_updated_at ON tickets(updated_at);

-- Tags table
CREATE TABLE IF NOT EXISTS ticket_tags (
    ticket_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    PRIMARY KEY (ticket_id, tag),
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_ticket_tags_tag ON ticket_tags(tag);

-- Blocking edges: ticket_id is blocked by blocked_by_id
CREATE TABLE IF NOT EXISTS ticket_deps (
    ticket_id TEXT NOT NULL,
    blocked_by_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (ticket_id, blocked_by_id),
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE,
    FOREIGN KEY (blocked_by_id) REFERENCES tickets(id) ON DELETE CASCADE,
    CHECK (ticket_id != blocked_by_id)
);

CREATE INDEX IF NOT EXISTS idx_ticket_deps_blocked_by ON ticket_deps(blocked_by_id);

-- Comments table (append-only)
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ticket_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    comment_text TEXT NOT NULL CHECK(length(comment_text) >= 1),
    comment_type TEXT NOT NULL DEFAULT 'general',
    mentions TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_comments_ticket ON comments(ticket_id);
CREATE INDEX IF NOT EXISTS idx_comments_created_at ON comments(created_at);

-- History table (append-only audit trail; AUTOINCREMENT ids give total
-- per-ticket ordering by commit order)
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ticket_id TEXT NOT NULL,
    change_type TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    change_description TEXT,
    agent_id TEXT NOT NULL DEFAULT '',
    changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_history_ticket ON history(ticket_id);

-- Commit links table (append-only)
CREATE TABLE IF NOT EXISTS commit_links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ticket_id TEXT NOT NULL,
    commit_sha TEXT NOT NULL,
    commit_message TEXT NOT NULL DEFAULT '',
    author_agent_id TEXT NOT NULL DEFAULT '',
    files_changed INTEGER NOT NULL DEFAULT 0,
    insertions INTEGER NOT NULL DEFAULT 0,
    deletions INTEGER NOT NULL DEFAULT 0,
    files_list TEXT NOT NULL DEFAULT '[]',
    linked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (ticket_id, commit_sha),
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_commit_links_ticket ON commit_links(ticket_id);

-- Column dwell totals (populated only on track_time boards)
CREATE TABLE IF NOT EXISTS column_dwell (
    ticket_id TEXT NOT NULL,
    status TEXT NOT NULL,
    total_seconds INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (ticket_id, status),
    FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
);

-- Config table (board config snapshots, settings)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
