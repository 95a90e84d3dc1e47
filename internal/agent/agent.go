// Package agent answers natural-language questions over the memory store.
//
// Each question primes semantic context once, then runs up to MaxAttempts
// attempts of plan, fetch (SQL or semantic) and synthesize. A failed
// attempt's error is handed to the next plan so the model can correct
// itself. Every attempt writes one query_log row.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/orb/internal/llm"
	"github.com/kalambet/orb/internal/retrieval"
	"github.com/kalambet/orb/internal/sqlguard"
	"github.com/kalambet/orb/internal/storage"
)

// FailureMessage is returned when every attempt failed.
const FailureMessage = "❌ All attempts failed. Check terminal for schema collisions."

const (
	DefaultMaxAttempts   = 3
	DefaultCallTimeout   = 30 * time.Second
	DefaultContextTokens = 1500
)

// Store is the persistence the agent reads and audits through.
type Store interface {
	SchemaDescription() string
	ExecuteReadOnly(ctx context.Context, query string) ([]storage.Row, error)
	InsertQueryLog(ctx context.Context, l storage.QueryLog) (int64, error)
}

// Retriever primes semantic context for a question.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string) (retrieval.Context, error)
}

// Gate validates generated SQL.
type Gate interface {
	Validate(raw string) sqlguard.Verdict
}

// InteractionLogger records chat turns. Implementations swallow their own
// failures.
type InteractionLogger interface {
	LogInteraction(ctx context.Context, text string, category storage.Category)
}

// Deps are the collaborators of an Agent.
type Deps struct {
	LLM          llm.Client
	Store        Store
	Retriever    Retriever
	Gate         Gate
	Interactions InteractionLogger
	Logger       *slog.Logger
}

// Options tune the loop. Zero values select the defaults.
type Options struct {
	MaxAttempts   int
	CallTimeout   time.Duration
	ContextTokens int
}

// Agent runs the plan/fetch/synthesize loop.
type Agent struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates an Agent. MaxAttempts is capped at DefaultMaxAttempts.
func New(deps Deps, opts Options) *Agent {
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > DefaultMaxAttempts {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ContextTokens <= 0 {
		opts.ContextTokens = DefaultContextTokens
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{deps: deps, opts: opts, log: logger.With("component", "agent")}
}

type requestIDKey struct{}

// WithRequestID tags ctx with the id of the request asking the question. The
// agent's log lines for that question carry it as request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// HandleQuery records the question as a user_input interaction and answers it.
func (a *Agent) HandleQuery(ctx context.Context, query string) string {
	a.deps.Interactions.LogInteraction(ctx, query, storage.CategoryUserInput)
	return a.Handle(ctx, query)
}

// Handle answers query. It never panics and never returns an error: when all
// attempts fail, or ctx is cancelled between attempts, it returns
// FailureMessage.
func (a *Agent) Handle(ctx context.Context, query string) string {
	if id := RequestID(ctx); id != "" {
		scoped := *a
		scoped.log = a.log.With("request_id", id)
		a = &scoped
	}
	a.log.Info("question received", "query", query)

	recollection := a.primeContext(ctx, query)

	lastError := noPreviousError
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			a.log.Warn("question abandoned", "attempt", attempt, "error", err)
			break
		}

		a.log.Info("attempt started", "attempt", attempt, "max", a.opts.MaxAttempts)
		res := a.attempt(ctx, query, recollection, lastError)

		if res.failure != nil {
			lastError = res.failure.Error()
			a.log.Error("attempt failed", "attempt", attempt, "kind", res.failure.kind, "error", res.failure.err)
			a.writeFailureLog(ctx, query, attempt, res.failure)
			continue
		}

		a.writeSuccessLog(ctx, query, res)
		a.deps.Interactions.LogInteraction(context.WithoutCancel(ctx), res.answer, storage.CategoryAIResponse)
		a.log.Info("question answered", "attempt", attempt, "approach", res.plan.Approach)
		return res.answer
	}

	return FailureMessage
}

// primeContext renders the semantic context shared by every attempt. A
// retrieval failure leaves it empty.
func (a *Agent) primeContext(ctx context.Context, query string) string {
	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	rc, err := a.deps.Retriever.RetrieveContext(cctx, query)
	if err != nil {
		a.log.Warn("context priming failed, continuing without recollection", "error", err)
		return retrieval.EmptyContext
	}
	return rc.Render(a.opts.ContextTokens)
}

// attempt runs one plan/fetch/synthesize pass.
func (a *Agent) attempt(ctx context.Context, query, recollection, lastError string) attemptResult {
	schema := a.deps.Store.SchemaDescription()

	raw, err := a.complete(ctx, llm.Request{
		System: buildPlanPrompt(schema, query, recollection, lastError),
		User:   query,
		JSON:   true,
		Schema: planSchema(),
	})
	if err != nil {
		return failed(FailurePlan, err)
	}
	plan, err := parsePlan(raw)
	if err != nil {
		return failed(FailurePlan, err)
	}
	if plan.Consideration != "" {
		a.log.Warn("consideration", "text", plan.Consideration)
	}
	a.log.Info("plan", "approach", plan.Approach, "intent", plan.SQLIntent)

	data := recollection
	if plan.Approach == ApproachSQL {
		var f *failure
		data, f = a.runSQL(ctx, schema, plan.SQLIntent)
		if f != nil {
			return attemptResult{plan: plan, failure: f}
		}
	}

	answer, err := a.complete(ctx, llm.Request{User: buildSynthesisPrompt(data, query)})
	if err != nil {
		return attemptResult{plan: plan, failure: &failure{kind: FailureSynthesis, err: err}}
	}
	if strings.TrimSpace(answer) == "" {
		return attemptResult{plan: plan, failure: &failure{kind: FailureSynthesis, err: llm.ErrEmptyResponse}}
	}

	return attemptResult{plan: plan, toolOutput: data, answer: answer}
}

// runSQL generates, validates and executes a query, returning the rows as
// JSON.
func (a *Agent) runSQL(ctx context.Context, schema, intent string) (string, *failure) {
	raw, err := a.complete(ctx, llm.Request{User: buildSQLPrompt(schema, intent)})
	if err != nil {
		return "", &failure{kind: FailurePlan, err: fmt.Errorf("generating sql: %w", err)}
	}

	verdict := a.deps.Gate.Validate(raw)
	if !verdict.Accepted {
		a.log.Warn("sql blocked", "reason", verdict.Reason, "sql", raw)
		return "", &failure{kind: FailureSafety, err: errors.New(verdict.Reason)}
	}
	a.log.Warn("sql execute", "sql", verdict.SQL)

	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	rows, err := a.deps.Store.ExecuteReadOnly(cctx, verdict.SQL)
	if err != nil {
		return "", &failure{kind: FailureExecution, err: err}
	}
	a.log.Info("data retrieved", "records", len(rows))

	out, err := json.Marshal(rows)
	if err != nil {
		return "", &failure{kind: FailureExecution, err: fmt.Errorf("encoding rows: %w", err)}
	}
	return string(out), nil
}

func (a *Agent) complete(ctx context.Context, req llm.Request) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.deps.LLM.Complete(cctx, req)
}

func (a *Agent) writeSuccessLog(ctx context.Context, query string, res attemptResult) {
	plan, err := json.Marshal(res.plan)
	if err != nil {
		plan = []byte(`{}`)
	}
	a.writeLog(ctx, storage.QueryLog{
		UserQuery:   query,
		AgentPlan:   plan,
		ToolOutputs: res.toolOutput,
		AIResponse:  res.answer,
	})
}

func (a *Agent) writeFailureLog(ctx context.Context, query string, attempt int, f *failure) {
	plan, _ := json.Marshal(map[string]any{"error_attempt": attempt, "kind": f.kind.String()})
	a.writeLog(ctx, storage.QueryLog{
		UserQuery:   query,
		AgentPlan:   plan,
		ToolOutputs: f.Error(),
		AIResponse:  failedResponse,
	})
}

// writeLog persists an audit row even when the caller has gone away. A write
// failure is logged and otherwise ignored.
func (a *Agent) writeLog(ctx context.Context, l storage.QueryLog) {
	if _, err := a.deps.Store.InsertQueryLog(context.WithoutCancel(ctx), l); err != nil {
		a.log.Error("writing query log failed", "error", err)
	}
}
