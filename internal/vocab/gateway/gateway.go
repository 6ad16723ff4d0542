// Package gateway exposes a single schema-constrained structured-output
// operation over the underlying LLMProvider/Router abstraction: given a
// system message, a user message, and a target schema, return the decoded
// JSON or a typed error. It also surfaces token usage and the model
// identifier to an optional observability sink on every call.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vocabweave/vocabweave/internal/agent"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

// Completer is the minimal surface the gateway needs from a provider or
// router. Both agent.LLMProvider and *routing.Router satisfy it, so the
// gateway can sit directly on top of the routing layer without import
// cycles.
type Completer interface {
	Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error)
}

// UsageSink receives token accounting for every completed call. Implemented
// by the observability package's OTel/metrics adapters; nil is a valid
// no-op sink.
type UsageSink interface {
	RecordUsage(ctx context.Context, model string, promptTokens, completionTokens int)
}

// Request describes one structured-output call.
type Request struct {
	Schema  tools.Name
	System  string
	User    string
	Model   string
	// Temperature is pinned to 0 for every call this gateway makes;
	// callers cannot override it.
}

// Gateway is the C2 LLM gateway.
type Gateway struct {
	completer Completer
	sink      UsageSink
}

// New creates a Gateway over a Completer (typically a *routing.Router
// fronting multiple provider bindings) and an optional usage sink.
func New(completer Completer, sink UsageSink) *Gateway {
	return &Gateway{completer: completer, sink: sink}
}

// Usage carries token accounting for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// ErrProtocol is returned when the provider stream itself failed (network,
// auth, rate limit) as opposed to returning malformed content.
type ErrProtocol struct{ Cause error }

func (e *ErrProtocol) Error() string { return fmt.Sprintf("gateway: protocol error: %v", e.Cause) }
func (e *ErrProtocol) Unwrap() error { return e.Cause }

// Call performs one schema-constrained completion and decodes the result
// into v (typically a pointer to one of the tools.*Output structs via an
// intermediate map[string]any, or directly a map[string]any for callers
// that want raw fields).
func (g *Gateway) Call(ctx context.Context, req Request, v any) (Usage, error) {
	completionReq := &agent.CompletionRequest{
		Model:  req.Model,
		System: buildSystemPrompt(req.System, req.Schema),
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: req.User},
		},
		MaxTokens: 4096,
	}

	stream, err := g.completer.Complete(ctx, completionReq)
	if err != nil {
		return Usage{}, &ErrProtocol{Cause: err}
	}

	var text strings.Builder
	usage := Usage{Model: req.Model}
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return usage, &ErrProtocol{Cause: chunk.Error}
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			usage.PromptTokens = chunk.InputTokens
			usage.CompletionTokens = chunk.OutputTokens
		}
	}

	if g.sink != nil {
		g.sink.RecordUsage(ctx, usage.Model, usage.PromptTokens, usage.CompletionTokens)
	}

	payload := extractJSON(text.String())
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return usage, fmt.Errorf("gateway: decode %s response: %w", req.Schema, err)
	}

	var generic any
	if err := json.Unmarshal([]byte(payload), &generic); err == nil {
		if err := tools.Validate(req.Schema, generic); err != nil {
			return usage, fmt.Errorf("gateway: %s response failed schema validation: %w", req.Schema, err)
		}
	}

	return usage, nil
}

func buildSystemPrompt(base string, schema tools.Name) string {
	return base + "\n\nRespond with a single JSON object matching the " + string(schema) + " schema. No prose, no markdown fences."
}

// extractJSON trims a markdown code fence around a JSON payload, in case a
// provider ignores the "no markdown fences" instruction.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
