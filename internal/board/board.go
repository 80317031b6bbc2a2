// Package board defines the per-workflow board configuration: ordered status
// columns, allowed ticket types, and behavioral flags. A Config is loaded
// once when a workflow starts and is immutable for the life of the run;
// every status transition is checked against its closed column set.
package board

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Column is one status column on the board.
type Column struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Order int    `yaml:"order" json:"order"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// Config is the validated, strongly-typed board schema for one workflow.
type Config struct {
	Columns           []Column `yaml:"columns" json:"columns"`
	TicketTypes       []string `yaml:"ticket_types" json:"ticket_types"`
	DefaultTicketType string   `yaml:"default_ticket_type" json:"default_ticket_type"`
	InitialStatus     string   `yaml:"initial_status" json:"initial_status"`

	AutoAssign                    bool `yaml:"auto_assign" json:"auto_assign"`
	RequireCommentsOnStatusChange bool `yaml:"require_comments_on_status_change" json:"require_comments_on_status_change"`
	AllowReopen                   bool `yaml:"allow_reopen" json:"allow_reopen"`
	TrackTime                     bool `yaml:"track_time" json:"track_time"`
	TicketHumanReview             bool `yaml:"ticket_human_review" json:"ticket_human_review"`
	ApprovalTimeoutSeconds        int  `yaml:"approval_timeout_seconds" json:"approval_timeout_seconds"`

	statusSet map[string]bool
	typeSet   map[string]bool
}

// Default returns the stock board used when a workflow has no config file.
func Default() *Config {
	cfg := &Config{
		Columns: []Column{
			{ID: "backlog", Name: "Backlog", Order: 0},
			{ID: "planning", Name: "Planning", Order: 1},
			{ID: "building", Name: "Building", Order: 2},
			{ID: "review", Name: "Review", Order: 3},
			{ID: "done", Name: "Done", Order: 4},
		},
		TicketTypes:       []string{"task", "bug", "feature", "epic", "chore"},
		DefaultTicketType: "task",
		InitialStatus:     "backlog",
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default board config invalid: %v", err))
	}
	return cfg
}

// Load reads and validates a board config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read board config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse board config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks structural invariants and builds the closed lookup sets.
func (c *Config) Validate() error {
	if len(c.Columns) == 0 {
		return fmt.Errorf("board must have at least one column")
	}
	if len(c.TicketTypes) == 0 {
		return fmt.Errorf("board must allow at least one ticket type")
	}

	c.statusSet = make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		if col.ID == "" {
			return fmt.Errorf("column with empty id")
		}
		if c.statusSet[col.ID] {
			return fmt.Errorf("duplicate column id: %s", col.ID)
		}
		c.statusSet[col.ID] = true
	}

	c.typeSet = make(map[string]bool, len(c.TicketTypes))
	for _, tt := range c.TicketTypes {
		if tt == "" {
			return fmt.Errorf("empty ticket type")
		}
		c.typeSet[tt] = true
	}

	if c.DefaultTicketType == "" {
		c.DefaultTicketType = c.TicketTypes[0]
	}
	if !c.typeSet[c.DefaultTicketType] {
		return fmt.Errorf("default ticket type %q not in ticket_types", c.DefaultTicketType)
	}

	if c.InitialStatus == "" {
		c.InitialStatus = c.Columns[0].ID
	}
	if !c.statusSet[c.InitialStatus] {
		return fmt.Errorf("initial status %q is not a column id", c.InitialStatus)
	}
	return nil
}

// ValidStatus reports whether id is a configured column id.
func (c *Config) ValidStatus(id string) bool {
	return c.statusSet[id]
}

// ValidType reports whether t is an allowed ticket type.
func (c *Config) ValidType(t string) bool {
	return c.typeSet[t]
}

// TerminalStatus returns the column resolved tickets move to: the
// highest-order column.
func (c *Config) TerminalStatus() string {
	terminal := c.Columns[0]
	for _, col := range c.Columns[1:] {
		if col.Order > terminal.Order {
			terminal = col
		}
	}
	return terminal.ID
}

// ColumnIDs returns the column ids in board order.
func (c *Config) ColumnIDs() []string {
	ids := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		ids[i] = col.ID
	}
	return ids
}
