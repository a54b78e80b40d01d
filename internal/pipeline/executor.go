package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/resilience"
	"github.com/sells-group/import-cli/pkg/anthropic"
	"github.com/sells-group/import-cli/pkg/serp"
)

// SearchFactory builds a search client for a resolved API key. Enrichment
// configs may carry their own credentials, so clients are constructed per
// config rather than once per process.
type SearchFactory func(apiKey string) serp.Client

// Result is the outcome of running one enrichment config against one row.
// Failure is a value, not an error: the batch loop continues past failed
// configs and rows.
type Result struct {
	Values  map[string]string
	Success bool
	Err     string
}

// ExecutorOptions tunes the enrichment executor.
type ExecutorOptions struct {
	// StepDelay is the enforced delay between external calls for the same
	// row. Values <= 0 are clamped to 500ms; back-to-back calls with zero
	// delay are never allowed.
	StepDelay time.Duration

	// DefaultModel is used for ai-model configs that name no model.
	DefaultModel string

	// MaxTokens caps completion length for ai-model calls.
	MaxTokens int64
}

// Executor runs enrichment configs against rows. It owns credential
// resolution, placeholder substitution, inter-call pacing, and the
// search-result extraction strategies.
type Executor struct {
	anthropic anthropic.Factory
	search    SearchFactory
	secrets   SecretResolver
	limiter   *rate.Limiter
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewExecutor creates an Executor. anthropicFactory and searchFactory may be
// exercised with different keys across configs.
func NewExecutor(anthropicFactory anthropic.Factory, searchFactory SearchFactory, secrets SecretResolver, opts ExecutorOptions) *Executor {
	delay := opts.StepDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	retry := resilience.DefaultRetryConfig()
	retry.Operation = "enrichment"
	return &Executor{
		anthropic: anthropicFactory,
		search:    searchFactory,
		secrets:   secrets,
		limiter:   rate.NewLimiter(rate.Every(delay), 1),
		model:     opts.DefaultModel,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

// RunOne executes a single enrichment config against the row's effective
// field values. The caller decides what to do with the Result; RunOne never
// mutates the row.
func (e *Executor) RunOne(ctx context.Context, cfg model.EnrichmentConfig, row map[string]string) Result {
	if err := e.pace(ctx); err != nil {
		return failure(err)
	}

	key, err := resolveAPIKey(e.secrets, cfg)
	if err != nil {
		return failure(err)
	}

	switch cfg.Service {
	case model.ServiceAIModel:
		return e.runCompletion(ctx, cfg, key, row)
	case model.ServiceSearchAPI:
		return e.runSearch(ctx, cfg, key, row)
	default:
		return failure(eris.Errorf("pipeline: unknown enrichment service %q", cfg.Service))
	}
}

// pace blocks until the inter-call delay has elapsed since the previous
// external call, or ctx is cancelled.
func (e *Executor) pace(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "pipeline: pacing wait")
	}
	return nil
}

func (e *Executor) runCompletion(ctx context.Context, cfg model.EnrichmentConfig, key string, row map[string]string) Result {
	prompt := substitutePlaceholders(cfg.Template, row)

	modelID := cfg.Model
	if modelID == "" {
		modelID = e.model
	}

	client := e.anthropic(key)
	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.CompletionResponse, error) {
		return client.Complete(ctx, anthropic.CompletionRequest{
			Model:     modelID,
			MaxTokens: e.maxTokens,
			Prompt:    prompt,
		})
	})
	if err != nil {
		// Preserve the backend's message verbatim for operator visibility.
		return failure(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return failure(eris.New("pipeline: empty model response"))
	}

	values, err := parseCompletionOutput(text, cfg.Output)
	if err != nil {
		return failure(err)
	}
	return Result{Values: values, Success: true}
}

func (e *Executor) runSearch(ctx context.Context, cfg model.EnrichmentConfig, key string, row map[string]string) Result {
	query := buildSearchQuery(cfg, row)
	if query == "" {
		return failure(eris.New("pipeline: no non-empty input fields for search"))
	}

	client := e.search(key)
	results, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*serp.Results, error) {
		return client.Search(ctx, query)
	})
	if err != nil {
		return failure(err)
	}

	outputID := cfg.Output.Primary()
	value, err := extractSearchValue(results, outputID, row)
	if err != nil {
		return failure(err)
	}
	return Result{Values: map[string]string{outputID: value}, Success: true}
}

// placeholderPattern matches [fieldName]-style template placeholders.
var placeholderPattern = regexp.MustCompile(`\[([A-Za-z0-9_ .-]+)\]`)

// substitutePlaceholders replaces [fieldName] tokens with row values.
// Unknown fields substitute as empty strings.
func substitutePlaceholders(template string, row map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(tok, "["), "]")
		return row[name]
	})
}

// parseCompletionOutput maps model output text onto the declared output
// fields. Multi-output configs expect a JSON object keyed by field id; a
// single value is written to the first declared id.
func parseCompletionOutput(text string, target model.OutputTarget) (map[string]string, error) {
	primary := target.Primary()
	if primary == "" {
		return nil, eris.New("pipeline: config declares no output field")
	}

	if len(target.Fields) > 1 && strings.HasPrefix(text, "{") {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			zap.L().Warn("multi-output response was not valid JSON, using primary field",
				zap.String("field", primary))
			return map[string]string{primary: text}, nil
		}
		values := make(map[string]string, len(target.Fields))
		for _, id := range target.IDs() {
			if v := strings.TrimSpace(parsed[id]); v != "" {
				values[id] = v
			}
		}
		if len(values) == 0 {
			return nil, eris.New("pipeline: multi-output response matched no declared field")
		}
		return values, nil
	}

	return map[string]string{primary: text}, nil
}

func failure(err error) Result {
	return Result{Success: false, Err: err.Error()}
}
