// Package supervisor implements the "LLM as judge" quality gate: scoring a
// tool's output against its schema and the prompt that produced it,
// planning bounded retries with feedback injection, and coordinating which
// tools run in the parallel fan-out stage.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vocabweave/vocabweave/internal/vocab/domain"
	"github.com/vocabweave/vocabweave/internal/vocab/gateway"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

// Config holds the supervisor's tunable thresholds.
type Config struct {
	QualityThreshold float64 // default 8.0
	MaxRetries       int     // default 2
	AcceptOnFinal    float64 // default 7.25
}

// DefaultConfig returns the quality gate's production defaults.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: 8.0,
		MaxRetries:       2,
		AcceptOnFinal:    7.25,
	}
}

// qualityCheckResponse is the schema the quality-check LLM call must return.
type qualityCheckResponse struct {
	Score       float64  `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// ValidationResult is the score/issues/suggestions triple produced by
// ValidateToolOutput.
type ValidationResult struct {
	Score       float64
	Issues      []string
	Suggestions []string

	// Terminal marks a result that must never be retried regardless of
	// score: the tool already produced a definitive, well-formed answer
	// (e.g. validation's is_valid=false) and another attempt cannot change
	// that answer.
	Terminal bool
}

// RetryStrategy is the outcome of PlanRetryStrategy. When ShouldRetry is
// false, Accepted distinguishes "score already met threshold or cleared the
// final-retry bar" (use the real result) from "retries exhausted below the
// bar" (caller falls back to FallbackResult).
type RetryStrategy struct {
	ShouldRetry    bool
	Accepted       bool
	RetryReason    string
	AdjustedInputs map[string]any
}

// toolsAcceptingFeedback are the tools whose prompt construction knows how
// to fold quality_feedback/previous_issues/suggestions back into the next
// attempt's inputs.
var toolsAcceptingFeedback = map[tools.Name]bool{
	tools.Classification: true,
	tools.Translation:    true,
	tools.Synonyms:       true,
	tools.Examples:       true,
	tools.Syllables:      true,
	tools.Conjugation:    true,
	tools.Media:          true,
}

// Supervisor scores tool outputs and plans retries.
type Supervisor struct {
	cfg     Config
	gateway *gateway.Gateway
	router  Router
}

// New creates a Supervisor.
func New(cfg Config, gw *gateway.Gateway, router Router) *Supervisor {
	return &Supervisor{cfg: cfg, gateway: gw, router: router}
}

// ValidateToolOutput scores a tool's output:
//   - skip_validation_tools (pronunciation) always scores 10 with no issues.
//   - validation short-circuits to a terminal score of 0 the moment
//     is_valid=false: the source word was rejected outright, and no
//     schema-aware re-judging or retry can turn that into a different,
//     retryable answer.
//   - media short-circuits to 10 when it already exposes three well-formed
//     image URLs (or carries an api_fallback marker); otherwise only the
//     search-query sub-result is validated against its schema.
//   - everything else is scored by a schema-aware LLM quality-check call.
func (s *Supervisor) ValidateToolOutput(ctx context.Context, name tools.Name, result map[string]any, promptText string) (ValidationResult, error) {
	if tools.SkipValidation[name] {
		return ValidationResult{Score: 10}, nil
	}

	if name == tools.Validation {
		if isValid, ok := result["is_valid"].(bool); ok && !isValid {
			return ValidationResult{Score: 0, Terminal: true}, nil
		}
	}

	if name == tools.Media {
		return s.validateMedia(ctx, result)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("supervisor: marshal %s result: %w", name, err)
	}

	if _, err := tools.Schema(name); err != nil {
		return ValidationResult{}, err
	}

	system := fmt.Sprintf(
		"You are a strict quality judge for the %s enrichment tool. "+
			"Score the provided JSON output from 0 to 10 against its declared "+
			"schema and the original prompt requirements. Return {\"score\": "+
			"number, \"issues\": [string], \"suggestions\": [string]}.", name)
	user := fmt.Sprintf("tool: %s\n\nprompt: %s\n\noutput: %s", name, promptText, payload)

	var resp qualityCheckResponse
	model := s.router.ModelFor(TaskQualityCheck, 0)
	_, err = s.gateway.Call(ctx, gateway.Request{Schema: tools.QualityCheck, System: system, User: user, Model: model}, &resp)
	if err != nil {
		var protoErr *gateway.ErrProtocol
		if asProtocolError(err, &protoErr) {
			// A protocol-level error scores 5.0 with a manual-review note,
			// rather than blocking the pipeline.
			return ValidationResult{Score: 5.0, Issues: []string{"manual review: quality-check call failed"}}, nil
		}
		return ValidationResult{}, err
	}

	out := ValidationResult{Score: resp.Score, Issues: resp.Issues, Suggestions: resp.Suggestions}
	if out.Score >= s.cfg.QualityThreshold {
		out.Issues = nil
		out.Suggestions = nil
	}
	return out, nil
}

func (s *Supervisor) validateMedia(ctx context.Context, result map[string]any) (ValidationResult, error) {
	if _, ok := result["api_fallback"]; ok {
		return ValidationResult{Score: 10}, nil
	}
	if src, ok := result["src"].(map[string]string); ok && wellFormedImageURLs(src) {
		return ValidationResult{Score: 10}, nil
	}
	if src, ok := result["src"].(map[string]any); ok {
		converted := make(map[string]string, len(src))
		for k, v := range src {
			if s, ok := v.(string); ok {
				converted[k] = s
			}
		}
		if wellFormedImageURLs(converted) {
			return ValidationResult{Score: 10}, nil
		}
	}

	searchResult, _ := result["search"].(map[string]any)
	if searchResult == nil {
		return ValidationResult{Score: 0, Issues: []string{"media output missing both well-formed image URLs and a search sub-result"}}, nil
	}
	if err := tools.Validate(tools.Media, searchResult); err != nil {
		return ValidationResult{Score: 0, Issues: []string{err.Error()}}, nil
	}
	return ValidationResult{Score: 10}, nil
}

// wellFormedImageURLs checks the three-key, https, .jpg shape the media
// quality-gate fast path requires.
func wellFormedImageURLs(src map[string]string) bool {
	required := [][]string{
		{"large2x", "large", "medium"},
		{"large", "medium"},
	}
	for _, set := range required {
		allPresent := true
		for _, key := range set {
			url, ok := src[key]
			if !ok || !isHTTPSJPEG(url) {
				allPresent = false
				break
			}
		}
		if allPresent {
			return true
		}
	}
	return false
}

func isHTTPSJPEG(url string) bool {
	const prefix = "https://"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return false
	}
	return len(url) >= 4 && url[len(url)-4:] == ".jpg"
}

// PlanRetryStrategy decides whether to retry a tool call:
//   - a Terminal validation never retries and is never accepted, regardless
//     of score or remaining retry budget.
//   - no retry when score >= threshold.
//   - on the final retry (retryCount >= maxRetries), accept when
//     score >= acceptOnFinal, otherwise give up.
//   - otherwise retry, injecting feedback for tools that accept it.
func (s *Supervisor) PlanRetryStrategy(name tools.Name, validation ValidationResult, retryCount int, inputs map[string]any) RetryStrategy {
	if validation.Terminal {
		return RetryStrategy{ShouldRetry: false, Accepted: false, RetryReason: "terminal result, not retryable"}
	}

	if validation.Score >= s.cfg.QualityThreshold {
		return RetryStrategy{ShouldRetry: false, Accepted: true}
	}

	if retryCount >= s.cfg.MaxRetries {
		if validation.Score >= s.cfg.AcceptOnFinal {
			return RetryStrategy{ShouldRetry: false, Accepted: true}
		}
		return RetryStrategy{ShouldRetry: false, Accepted: false, RetryReason: "retries exhausted"}
	}

	adjusted := map[string]any{}
	for k, v := range inputs {
		adjusted[k] = v
	}
	if toolsAcceptingFeedback[name] {
		adjusted["quality_feedback"] = validation.Issues
		adjusted["previous_issues"] = validation.Issues
		adjusted["suggestions"] = validation.Suggestions
	}

	return RetryStrategy{
		ShouldRetry:    true,
		RetryReason:    "score below threshold",
		AdjustedInputs: adjusted,
	}
}

// CoordinateParallelTasks returns the fixed fan-out task list: media,
// examples, synonyms, syllables always; conjugation only for verbs;
// pronunciation always appended last since it consumes the syllable list.
func CoordinateParallelTasks(targetPartOfSpeech string) []tools.Name {
	tasks := []tools.Name{tools.Media, tools.Examples, tools.Synonyms, tools.Syllables}
	if pos, ok := domain.LookupPartOfSpeech(targetPartOfSpeech); ok && pos.IsConjugatable {
		tasks = append(tasks, tools.Conjugation)
	}
	tasks = append(tasks, tools.Pronunciation)
	return tasks
}

func asProtocolError(err error, target **gateway.ErrProtocol) bool {
	pe, ok := err.(*gateway.ErrProtocol)
	if ok {
		*target = pe
	}
	return ok
}
