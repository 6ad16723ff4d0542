package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/vocabweave/vocabweave/internal/agent"
	"github.com/vocabweave/vocabweave/internal/vocab/gateway"
	"github.com/vocabweave/vocabweave/internal/vocab/supervisor"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

type sequenceCompleter struct {
	responses []string
	calls     int
}

func (s *sequenceCompleter) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: s.responses[idx]}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newExecutor(qualityResponses []string) *Executor {
	gw := gateway.New(&sequenceCompleter{responses: qualityResponses}, nil)
	router := supervisor.Router{ExecutorModel: "cheap", SupervisorModel: "strong"}
	sup := supervisor.New(supervisor.DefaultConfig(), gw, router)
	return New(sup, router)
}

func TestExecuteAcceptsImmediatelyOnHighScore(t *testing.T) {
	e := newExecutor([]string{`{"score": 9.0, "issues": [], "suggestions": []}`})
	calls := 0
	fn := func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		calls++
		return map[string]any{"target_word": "construir"}, "prompt", nil
	}
	result, err := e.Execute(context.Background(), tools.Translation, supervisor.TaskTranslation, nil, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Quality.Approved {
		t.Fatal("expected approval")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one tool call, got %d", calls)
	}
}

func TestExecuteRetriesThenAcceptsOnFinalWithinAcceptOnFinal(t *testing.T) {
	// scores: 6.0 (retry 0 -> 1), 7.0 (retry 1 -> 2), 7.5 (final retry, accept)
	e := newExecutor([]string{
		`{"score": 6.0, "issues": ["weak"], "suggestions": []}`,
		`{"score": 7.0, "issues": ["still weak"], "suggestions": []}`,
		`{"score": 7.5, "issues": [], "suggestions": []}`,
	})
	calls := 0
	fn := func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		calls++
		return map[string]any{"target_word": "construir", "attempt": calls}, "prompt", nil
	}
	result, err := e.Execute(context.Background(), tools.Translation, supervisor.TaskTranslation, map[string]any{"word": "build"}, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Quality.Approved {
		t.Fatal("expected approval on final retry at 7.5")
	}
	if result.Quality.RetryCount != 2 {
		t.Fatalf("expected retry_count=2 on the accepted attempt, got %d", result.Quality.RetryCount)
	}
	if calls != 3 {
		t.Fatalf("expected 3 tool invocations (2 retries), got %d", calls)
	}
}

func TestExecuteFallsBackWhenToolErrors(t *testing.T) {
	e := newExecutor(nil)
	fn := func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		return nil, "", errors.New("upstream timeout")
	}
	result, err := e.Execute(context.Background(), tools.Translation, supervisor.TaskTranslation, nil, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quality.Approved {
		t.Fatal("expected no approval on tool error")
	}
	if !result.Fallback {
		t.Fatal("expected fallback result")
	}
	msg, _ := result.Output["target_word"].(string)
	if msg == "" {
		t.Fatal("expected fallback target_word to carry the error message")
	}
}

func TestExecuteTerminatesOnInvalidWordWithoutRetryingOrMasking(t *testing.T) {
	// Even a quality-check response that would score a well-formed payload
	// highly must never turn an is_valid=false answer into an approval or
	// a retry.
	e := newExecutor([]string{`{"score": 9.0, "issues": [], "suggestions": []}`})
	calls := 0
	fn := func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		calls++
		return map[string]any{"is_valid": false, "issue_message": "not a recognizable word"}, "prompt", nil
	}
	result, err := e.Execute(context.Background(), tools.Validation, supervisor.TaskValidation, nil, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one tool call (no retry), got %d", calls)
	}
	if result.Quality.Approved || result.Quality.Score != 0 {
		t.Fatalf("expected rejection with score 0, got %+v", result.Quality)
	}
	if result.Fallback {
		t.Fatal("did not expect the generic fallback result for a well-formed is_valid=false answer")
	}
	msg, _ := result.Output["issue_message"].(string)
	if msg != "not a recognizable word" {
		t.Fatalf("expected the real issue_message to survive, got %q", msg)
	}
}

func TestExecuteWithoutQualityGateSkipsValidation(t *testing.T) {
	called := false
	fn := func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		called = true
		return map[string]any{"audio": "s3://bucket/audio.mp3"}, "", nil
	}
	result, err := ExecuteWithoutQualityGate(context.Background(), "cheap", nil, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected tool to be invoked")
	}
	if !result.Quality.Approved || result.Quality.Score != 10 {
		t.Fatalf("expected automatic approval at score 10, got %+v", result.Quality)
	}
}
