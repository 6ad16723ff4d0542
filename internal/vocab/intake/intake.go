// Package intake implements the C10 request boundary: validate an inbound
// enrichment request, short-circuit on a cache hit, run the graph under a
// wall-clock bound, persist the result, and report whether the caller
// should let the request be redelivered. Grounded on vocab_handler.py's
// _process_record/_handle_request: a 90s processing timeout kept well
// under the 120s SQS visibility window, a pre-graph existence check that
// skips the pipeline entirely, and post-graph persistence before the
// terminal notification.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vocabweave/vocabweave/internal/cache"
	"github.com/vocabweave/vocabweave/internal/retry"
	"github.com/vocabweave/vocabweave/internal/vocab/domain"
	"github.com/vocabweave/vocabweave/internal/vocab/graph"
	"github.com/vocabweave/vocabweave/internal/vocab/store"
)

// DefaultTimeout bounds one request's graph execution, mirroring
// LAMBDA_PROCESSING_TIMEOUT=90s.
const DefaultTimeout = 90 * time.Second

// VisibilityBuffer is how much longer the queue's redelivery window must
// stay open than DefaultTimeout, so a genuinely slow request is retried
// instead of double-processed while still in flight.
const VisibilityBuffer = 120 * time.Second

// DedupeWindow bounds how long a redelivered or resubmitted request for the
// same word/language pair is suppressed without touching the store, absorbing
// the SQS at-least-once bursts a slow consumer or a retried send produces.
const DedupeWindow = 30 * time.Second

// Config tunes the intake boundary.
type Config struct {
	Timeout time.Duration // default DefaultTimeout

	// Dedupe, when set, suppresses repeat processing of a word/language pair
	// seen within DedupeWindow instead of re-running the graph or re-querying
	// the store. Shared across calls to Process so it can actually catch
	// redeliveries; nil disables the optimization.
	Dedupe *cache.DedupeCache
}

// storeFacade is the subset of *store.Store intake depends on.
type storeFacade interface {
	CheckExists(ctx context.Context, sourceLanguage, sourceWord, targetLanguage string) (bool, map[string]any, error)
	StoreResult(ctx context.Context, item store.Item, now time.Time) (store.WriteResult, error)
	StoreSearchFanout(ctx context.Context, terms []string, mainPK, mainSK, englishWord string, media domain.Media) error
}

// Result is what the caller reports back to its delivery mechanism (queue
// ack/nack, HTTP response, ...).
type Result struct {
	Outcome  graph.Outcome
	CacheHit bool
}

// Process validates req, short-circuits on an existing entry, otherwise
// drives the graph to completion within cfg.Timeout and persists the
// outcome. A non-nil error means the caller should let the request be
// redelivered, UNLESS errors.As(err, &retry.PermanentError{}) — a
// permanent error means the request itself is malformed and redelivery
// will never succeed.
func Process(ctx context.Context, deps graph.Deps, st storeFacade, req domain.Request, cfg Config) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, retry.Permanent(err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sourceLanguage := req.SourceLanguage
	if sourceLanguage == "" {
		sourceLanguage = "en"
	}

	notify(ctx, deps, "processing_started", domain.NewState(req))

	if cfg.Dedupe != nil && cfg.Dedupe.Check(dedupeKey(sourceLanguage, req.SourceWord, req.TargetLanguage)) {
		return Result{Outcome: graph.Outcome{State: domain.NewState(req), StopNode: "deduplicated"}, CacheHit: true}, nil
	}

	if st != nil {
		exists, existing, err := st.CheckExists(ctx, sourceLanguage, req.SourceWord, req.TargetLanguage)
		if err != nil {
			return Result{}, fmt.Errorf("intake: check existing: %w", err)
		}
		if exists {
			cached := domain.NewState(req)
			cached.ExistingItem = existing
			cached.WordExists = domain.Bool(true)
			cached.ProcessingComplete = true
			notifyCacheHit(ctx, deps, cached)
			return Result{Outcome: graph.Outcome{State: cached, Completed: true, StopNode: "cache_hit"}, CacheHit: true}, nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := graph.Run(runCtx, deps, domain.NewState(req))
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("intake: processing exceeded %s: %w", timeout, err)
		}
		return Result{}, fmt.Errorf("intake: graph run: %w", err)
	}

	if st != nil && outcome.Completed {
		if err := persist(ctx, st, outcome.State); err != nil {
			return Result{}, fmt.Errorf("intake: persist result: %w", err)
		}
	}

	return Result{Outcome: outcome}, nil
}

func dedupeKey(sourceLanguage, sourceWord, targetLanguage string) string {
	return sourceLanguage + "|" + domain.Normalize(sourceWord) + "|" + targetLanguage
}

func notify(ctx context.Context, deps graph.Deps, eventType string, st domain.State) {
	if deps.Notifier == nil {
		return
	}
	_ = deps.Notifier.Notify(ctx, eventType, st)
}

func notifyCacheHit(ctx context.Context, deps graph.Deps, st domain.State) {
	notify(ctx, deps, "cache_hit", st)
}

func persist(ctx context.Context, st storeFacade, state domain.State) error {
	item := store.Item{
		SourceWord:           state.SourceWord,
		SourceLanguage:       state.SourceLanguage,
		SourcePartOfSpeech:   state.SourcePartOfSpeech,
		SourceArticle:        state.SourceArticle,
		SourceDefinition:     state.SourceDefinition,
		SourceAdditionalInfo: state.SourceAdditionalInfo,
		TargetWord:           state.TargetWord,
		TargetLanguage:       state.TargetLanguage,
		TargetPartOfSpeech:   state.TargetPartOfSpeech,
		TargetArticle:        state.TargetArticle,
		TargetAdditionalInfo: state.TargetAdditionalInfo,
		TargetPluralForm:     state.TargetPluralForm,
		TargetSyllables:      state.TargetSyllables,
		TargetPhoneticGuide:  state.TargetPhoneticGuide,
		Synonyms:             state.Synonyms,
		Examples:             state.Examples,
		Conjugation:          state.Conjugation,
		Pronunciations:       state.Pronunciations,
		Media:                state.Media,
		EnglishWord:          state.EnglishWord,
	}

	result, err := st.StoreResult(ctx, item, time.Now())
	if err != nil {
		return err
	}
	if result.Duplicate {
		return nil
	}
	return st.StoreSearchFanout(ctx, state.SearchQuery, result.PK, result.SK, state.EnglishWord, state.Media)
}

// Validate enforces the request-shape invariants the graph itself assumes:
// a non-empty source word and a supported target (and, if given, source)
// language.
func Validate(req domain.Request) error {
	if strings.TrimSpace(req.SourceWord) == "" {
		return fmt.Errorf("intake: source_word is required")
	}
	if !domain.ValidLanguageCode(req.TargetLanguage) {
		return fmt.Errorf("intake: target_language %q is not supported", req.TargetLanguage)
	}
	if req.SourceLanguage != "" && !domain.ValidLanguageCode(req.SourceLanguage) {
		return fmt.Errorf("intake: source_language %q is not supported", req.SourceLanguage)
	}
	return nil
}
