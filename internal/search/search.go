// Package search ranks tickets against natural-language queries.
//
// The engine is stateless: every call reads a snapshot of the workflow's
// tickets and scores them with a keyword matcher and, when available, an
// external semantic similarity collaborator. The collaborator failing (or
// being absent) degrades the search to keyword-only rather than failing the
// call.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline/trellis/internal/storage"
	"github.com/forgeline/trellis/internal/telemetry"
	"github.com/forgeline/trellis/internal/types"
)

// Type selects how component scores are combined.
type Type string

const (
	TypeSemantic Type = "semantic"
	TypeKeyword  Type = "keyword"
	TypeHybrid   Type = "hybrid"
)

const (
	// MinQueryLen is the shortest accepted query.
	MinQueryLen = 3
	// DefaultLimit and MaxLimit bound the result count.
	DefaultLimit = 10
	MaxLimit     = 50

	// Duplicate detection: candidates scoring below the floor are not
	// reported as similar.
	similarFloor = 0.35
	similarLimit = 5

	// Semantic scoring runs in batches so one slow embedding call cannot
	// stall the whole candidate set.
	scoreBatchSize   = 16
	scoreConcurrency = 4
)

// SemanticScorer supplies similarity scores in [0, 1] for each document
// against the query. Implementations call an external embedding service.
type SemanticScorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Filters narrows the candidate set before scoring. Nil pointer fields are
// not applied; Tags requires all listed tags.
type Filters struct {
	Status     *string
	Priority   *string
	TicketType *string
	Assignee   *string
	Tags       []string
	Blocked    *bool
}

// Request describes one search call.
type Request struct {
	WorkflowID      string
	Query           string
	Type            Type
	Filters         Filters
	Limit           int
	IncludeComments bool
}

// Result is one ranked ticket.
type Result struct {
	Ticket        *types.Ticket
	Score         float64
	SemanticScore float64
	KeywordScore  float64
}

// Response carries the ranked page plus aggregates.
type Response struct {
	Results      []*Result
	TotalFound   int
	SearchTimeMS int64
	// Degraded is set when semantic scoring was requested but unavailable
	// and the ranking fell back to keyword-only.
	Degraded bool
}

// Engine ranks tickets for a workflow. Scorer may be nil, in which case
// semantic and hybrid searches degrade to keyword-only.
type Engine struct {
	store  storage.Storage
	scorer SemanticScorer
	dur    metric.Float64Histogram
}

func New(store storage.Storage, scorer SemanticScorer) *Engine {
	m := telemetry.Meter("github.com/forgeline/trellis/search")
	dur, _ := m.Float64Histogram("trellis.search.duration",
		metric.WithDescription("Search duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Engine{store: store, scorer: scorer, dur: dur}
}

// Search ranks the workflow's tickets against req.Query.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if len(query) < MinQueryLen {
		return nil, storage.Validationf("query must be at least %d characters", MinQueryLen)
	}
	searchType := req.Type
	switch searchType {
	case "":
		searchType = TypeHybrid
	case TypeSemantic, TypeKeyword, TypeHybrid:
	default:
		return nil, storage.Validationf("invalid search_type %q", searchType)
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, storage.Validationf("limit must be between 1 and %d", MaxLimit)
	}

	tickets, err := e.store.SnapshotTickets(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tickets: %w", err)
	}
	candidates := applyFilters(tickets, req.Filters)

	var comments map[string][]string
	if req.IncludeComments {
		comments, err = e.store.CommentTexts(ctx, req.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load comments: %w", err)
		}
	}

	docs := make([]string, len(candidates))
	for i, t := range candidates {
		docs[i] = searchText(t, comments[t.ID])
	}

	degraded := false
	semantic := make([]float64, len(candidates))
	if searchType != TypeKeyword {
		semantic, err = e.semanticScores(ctx, query, docs)
		if err != nil {
			// Collaborator down: keyword ranking still answers the query.
			semantic = make([]float64, len(candidates))
			searchType = TypeKeyword
			degraded = true
		}
	}

	var results []*Result
	for i, t := range candidates {
		kw := keywordScore(query, docs[i])
		score := combine(searchType, semantic[i], kw)
		if score <= 0 {
			continue
		}
		results = append(results, &Result{
			Ticket:        t,
			Score:         score,
			SemanticScore: semantic[i],
			KeywordScore:  kw,
		})
	}
	sortResults(results)

	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	elapsed := time.Since(start)
	e.dur.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("search.type", string(searchType)),
	))

	return &Response{
		Results:      results,
		TotalFound:   total,
		SearchTimeMS: elapsed.Milliseconds(),
		Degraded:     degraded,
	}, nil
}

// FindSimilar reports likely duplicates of a prospective ticket, ranked by
// title+description overlap. Advisory only: the floor keeps weak matches out
// and callers never block on the answer.
func (e *Engine) FindSimilar(ctx context.Context, workflowID, title, description string) ([]*Result, error) {
	tickets, err := e.store.SnapshotTickets(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tickets: %w", err)
	}

	query := title
	if description != "" {
		query += " " + description
	}

	var results []*Result
	for _, t := range tickets {
		if t.IsResolved {
			continue
		}
		doc := t.Title + "\n" + t.Description
		// Score in both directions so a short new title still matches a
		// verbose existing one.
		score := keywordScore(query, doc)
		if s := keywordScore(t.Title, title); s > score {
			score = s
		}
		if score < similarFloor {
			continue
		}
		results = append(results, &Result{Ticket: t, Score: score, KeywordScore: score})
	}
	sortResults(results)
	if len(results) > similarLimit {
		results = results[:similarLimit]
	}
	return results, nil
}

// semanticScores fans candidate docs out to the scorer in bounded batches.
func (e *Engine) semanticScores(ctx context.Context, query string, docs []string) ([]float64, error) {
	if e.scorer == nil {
		return nil, storage.Unavailablef("no semantic scorer configured")
	}
	if len(docs) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreConcurrency)

	for start := 0; start < len(docs); start += scoreBatchSize {
		end := start + scoreBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		g.Go(func() error {
			batch, err := e.scorer.Score(gctx, query, docs[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return storage.Unavailablef("scorer returned %d scores for %d docs", len(batch), end-start)
			}
			copy(scores[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func searchText(t *types.Ticket, comments []string) string {
	var b strings.Builder
	b.WriteString(t.Title)
	b.WriteString("\n")
	b.WriteString(t.Description)
	for _, c := range comments {
		b.WriteString("\n")
		b.WriteString(c)
	}
	return b.String()
}

func applyFilters(tickets []*types.Ticket, f Filters) []*types.Ticket {
	var out []*types.Ticket
	for _, t := range tickets {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Priority != nil && string(t.Priority) != *f.Priority {
			continue
		}
		if f.TicketType != nil && t.TicketType != *f.TicketType {
			continue
		}
		if f.Assignee != nil && t.AssignedAgentID != *f.Assignee {
			continue
		}
		if f.Blocked != nil && t.IsBlocked != *f.Blocked {
			continue
		}
		if !hasAllTags(t.Tags, f.Tags) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
