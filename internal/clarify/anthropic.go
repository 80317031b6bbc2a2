package clarify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/forgeline/trellis/internal/telemetry"
)

const (
	// DefaultModel handles arbitration. Rulings are short and grounded in
	// the provided context, so the fast tier is enough.
	DefaultModel = "claude-3-5-haiku-latest"

	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxOutput      = 1024
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("API key required")

const arbitratePromptTemplate = `You are arbitrating a disagreement between autonomous coding agents about a work ticket.

Ticket {{.Ticket.ID}} [{{.Ticket.Status}}, {{.Ticket.Priority}}]: {{.Ticket.Title}}

Description:
{{.Ticket.Description}}

{{if .Comments}}Recent comments:
{{range .Comments}}- [{{.AgentID}}] {{.CommentText}}
{{end}}{{end}}
{{if .History}}Recent changes:
{{range .History}}- {{.ChangeType}}{{if .Description}}: {{.Description}}{{end}}
{{end}}{{end}}
{{if .Siblings}}Sibling tickets under the same parent:
{{range .Siblings}}- {{.ID}} [{{.Status}}]: {{.Title}}
{{end}}{{end}}
The conflict:
{{.ConflictDescription}}

{{if .CallerContext}}Additional context from the requesting agent:
{{.CallerContext}}
{{end}}
{{if .PotentialSolutions}}Proposed resolutions:
{{range .PotentialSolutions}}- {{.}}
{{end}}{{end}}
Give a single, decisive clarification the agents can act on. Pick one
interpretation (one of the proposed resolutions if any fits), state it
plainly, and say what the next concrete step is. Do not hedge.`

// AnthropicArbitrator implements Arbitrator using the Anthropic Messages API.
type AnthropicArbitrator struct {
	client         anthropic.Client
	model          anthropic.Model
	promptTemplate *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewAnthropicArbitrator creates an arbitrator. Env var ANTHROPIC_API_KEY
// takes precedence over the explicit apiKey. Pass model "" for the default.
func NewAnthropicArbitrator(apiKey, model string) (*AnthropicArbitrator, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY environment variable or provide via config", errAPIKeyRequired)
	}
	if model == "" {
		model = DefaultModel
	}

	tmpl, err := template.New("arbitrate").Parse(arbitratePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse arbitration template: %w", err)
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &AnthropicArbitrator{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		promptTemplate: tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/forgeline/trellis/ai")
	aiMetrics.inputTokens, _ = m.Int64Counter("trellis.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("trellis.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("trellis.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

// Arbitrate renders the ticket context into a prompt and calls the model.
func (a *AnthropicArbitrator) Arbitrate(ctx context.Context, tc *TicketContext) (string, error) {
	var buf bytes.Buffer
	if err := a.promptTemplate.Execute(&buf, tc); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return a.callWithRetry(ctx, buf.String())
}

func (a *AnthropicArbitrator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/forgeline/trellis/ai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("trellis.ai.model", string(a.model)),
		attribute.String("trellis.ai.operation", "clarify"),
	)

	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxOutput,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := a.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := a.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("trellis.ai.model", string(a.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("trellis.ai.input_tokens", message.Usage.InputTokens),
				attribute.Int64("trellis.ai.output_tokens", message.Usage.OutputTokens),
				attribute.Int("trellis.ai.attempts", attempt+1),
			)

			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, nil
				}
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", fmt.Errorf("unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("failed after %d retries: %w", a.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode := apiErr.StatusCode
		if statusCode == 429 || statusCode >= 500 {
			return true
		}
		return false
	}

	return false
}
