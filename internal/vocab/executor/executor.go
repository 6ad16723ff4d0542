// Package executor implements the quality-gated tool call: invoke a tool,
// score its output, retry with feedback up to a bound, and fall back to a
// typed sentinel result when retries are exhausted or the tool panics.
package executor

import (
	"context"
	"fmt"

	"github.com/vocabweave/vocabweave/internal/vocab/domain"
	"github.com/vocabweave/vocabweave/internal/vocab/supervisor"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

// ToolFunc invokes one enrichment tool with the given model and inputs. It
// returns the decoded result, the prompt text that was sent (for the
// supervisor's schema-aware quality-check prompt), and any error.
type ToolFunc func(ctx context.Context, model string, inputs map[string]any) (result map[string]any, prompt string, err error)

// Result is the outcome of a quality-gated tool execution.
type Result struct {
	Output   map[string]any
	Quality  domain.QualityResult
	Fallback bool
}

// Executor wraps tool calls with the supervisor's quality gate.
type Executor struct {
	sup    *supervisor.Supervisor
	router supervisor.Router
}

// New creates an Executor.
func New(sup *supervisor.Supervisor, router supervisor.Router) *Executor {
	return &Executor{sup: sup, router: router}
}

// Execute runs tool with quality-gated retries:
//  1. pick model by (task, retryCount);
//  2. invoke the tool;
//  3. ask the supervisor to score the result;
//  4. write {tool}_quality_approved/_score on acceptance;
//  5. else plan a retry, recursing with merged adjusted inputs;
//  6. on exhaustion, return the tool's fallback with approved=false, score=0.
//
// Any panic-equivalent error from the tool itself is converted to the
// fallback output with the error message recorded.
func (e *Executor) Execute(ctx context.Context, name tools.Name, task supervisor.TaskType, inputs map[string]any, fn ToolFunc) (Result, error) {
	return e.execute(ctx, name, task, inputs, fn, 0)
}

func (e *Executor) execute(ctx context.Context, name tools.Name, task supervisor.TaskType, inputs map[string]any, fn ToolFunc, retryCount int) (Result, error) {
	model := e.router.ModelFor(task, retryCount)

	result, prompt, err := fn(ctx, model, inputs)
	if err != nil {
		return Result{
			Output:   tools.FallbackResult(name, err.Error()),
			Quality:  domain.QualityResult{Approved: false, Score: 0, RetryCount: retryCount},
			Fallback: true,
		}, nil
	}

	validation, err := e.sup.ValidateToolOutput(ctx, name, result, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("executor: validate %s output: %w", name, err)
	}

	strategy := e.sup.PlanRetryStrategy(name, validation, retryCount, inputs)
	if strategy.Accepted {
		return Result{
			Output:  result,
			Quality: domain.QualityResult{Approved: true, Score: validation.Score, RetryCount: retryCount},
		}, nil
	}
	if strategy.ShouldRetry {
		return e.execute(ctx, name, task, strategy.AdjustedInputs, fn, retryCount+1)
	}

	if validation.Terminal {
		// The tool already produced a definitive answer (e.g.
		// is_valid=false); keep that real output instead of substituting
		// the generic fallback text, so callers can still read its fields.
		return Result{
			Output:  result,
			Quality: domain.QualityResult{Approved: false, Score: 0, RetryCount: retryCount},
		}, nil
	}

	return Result{
		Output:   tools.FallbackResult(name, "quality shortfall after retries exhausted"),
		Quality:  domain.QualityResult{Approved: false, Score: 0, RetryCount: retryCount},
		Fallback: true,
	}, nil
}

// ExecuteWithoutQualityGate runs pronunciation directly, with no validation
// call at all: pronunciation is never quality-gated.
func ExecuteWithoutQualityGate(ctx context.Context, model string, inputs map[string]any, fn ToolFunc) (Result, error) {
	result, _, err := fn(ctx, model, inputs)
	if err != nil {
		return Result{
			Output:   tools.FallbackResult(tools.Pronunciation, err.Error()),
			Quality:  domain.QualityResult{Approved: false, Score: 0},
			Fallback: true,
		}, nil
	}
	return Result{
		Output:  result,
		Quality: domain.QualityResult{Approved: true, Score: 10},
	}, nil
}
