// Package graph executes the fixed enrichment DAG over a shared state
// record: a sequential prefix with a quality gate, a parallel fan-out with
// a mutex-guarded join, and a final quality aggregation.
package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocabweave/vocabweave/internal/vocab/domain"
	"github.com/vocabweave/vocabweave/internal/vocab/executor"
	"github.com/vocabweave/vocabweave/internal/vocab/gateway"
	"github.com/vocabweave/vocabweave/internal/vocab/store"
	"github.com/vocabweave/vocabweave/internal/vocab/supervisor"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

// MediaProvider runs the C7 media subsystem for the current state.
type MediaProvider interface {
	Run(ctx context.Context, st domain.State) (media domain.Media, reused bool, err error)
}

// AudioProvider runs the C8 audio subsystem for the current state.
type AudioProvider interface {
	Generate(ctx context.Context, st domain.State) (domain.Pronunciations, error)
}

// Notifier emits step/chunk events to subscribers (C9).
type Notifier interface {
	Notify(ctx context.Context, eventType string, st domain.State) error
}

// Deps wires the graph engine to its collaborators.
type Deps struct {
	Gateway  *gateway.Gateway
	Executor *executor.Executor
	Store    *store.Store
	Media    MediaProvider
	Audio    AudioProvider
	Notifier Notifier
}

// Outcome is the terminal state of a graph run.
type Outcome struct {
	State     domain.State
	Completed bool   // true iff processing reached supervisor_final_quality_check
	StopNode  string // node name where the run terminated
}

func notify(ctx context.Context, deps Deps, eventType string, st domain.State) {
	if deps.Notifier == nil {
		return
	}
	_ = deps.Notifier.Notify(ctx, eventType, st)
}

// Run drives the fixed DAG to completion. It never returns an error for
// domain-level termination (invalid word, existing word, failed sequential
// gate) — those are represented in the returned Outcome; Run only returns
// an error for infrastructure failures (gateway/store faults).
func Run(ctx context.Context, deps Deps, st domain.State) (Outcome, error) {
	st, stop, err := validateSourceWord(ctx, deps, st)
	if err != nil {
		return Outcome{}, err
	}
	notify(ctx, deps, "step_update", st)
	if stop {
		notify(ctx, deps, "processing_failed", st)
		return Outcome{State: st, StopNode: "validate_source_word"}, nil
	}

	st, stop, err = getClassification(ctx, deps, st)
	if err != nil {
		return Outcome{}, err
	}
	notify(ctx, deps, "step_update", st)
	if stop {
		notify(ctx, deps, "cache_hit", st)
		return Outcome{State: st, StopNode: "get_classification"}, nil
	}

	st, err = getTranslation(ctx, deps, st)
	if err != nil {
		return Outcome{}, err
	}
	notify(ctx, deps, "step_update", st)

	st, passed := supervisorCheckSequentialQuality(st)
	if !passed {
		notify(ctx, deps, "processing_failed", st)
		return Outcome{State: st, StopNode: "supervisor_check_sequential_quality"}, nil
	}

	st = supervisorCoordinateParallelTasks(st)

	st, err = runParallelFanOut(ctx, deps, st)
	if err != nil {
		return Outcome{}, err
	}
	notify(ctx, deps, "step_update", st)

	st = supervisorFinalQualityCheck(st)
	notify(ctx, deps, "processing_completed", st)
	return Outcome{State: st, Completed: true, StopNode: "supervisor_final_quality_check"}, nil
}

func validateSourceWord(ctx context.Context, deps Deps, st domain.State) (domain.State, bool, error) {
	fn := ValidationTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Validation, supervisor.TaskValidation, map[string]any{
		"source_word":     st.SourceWord,
		"source_language": st.SourceLanguage,
		"target_language": st.TargetLanguage,
	}, fn)
	if err != nil {
		return st, false, fmt.Errorf("graph: validate_source_word: %w", err)
	}

	isValid, _ := result.Output["is_valid"].(bool)
	partial := domain.State{
		ValidationPassed: domain.Bool(isValid),
		Quality:          map[string]domain.QualityResult{string(tools.Validation): result.Quality},
	}
	if lang, ok := result.Output["source_language"].(string); ok && lang != "" {
		partial.SourceLanguage = lang
	}
	if !isValid {
		if msg, ok := result.Output["issue_message"].(string); ok {
			partial.ValidationIssue = msg
		}
		partial.ValidationSuggestions = decodeSuggestions(result.Output)
	}
	st = st.Merge(partial)
	return st, !isValid, nil
}

func getClassification(ctx context.Context, deps Deps, st domain.State) (domain.State, bool, error) {
	if deps.Store != nil {
		exists, item, err := deps.Store.CheckExists(ctx, st.SourceLanguage, st.SourceWord, st.TargetLanguage)
		if err != nil {
			return st, false, fmt.Errorf("graph: existence check: %w", err)
		}
		if exists {
			st = st.Merge(domain.State{WordExists: domain.Bool(true), ExistingItem: item})
			return st, true, nil
		}
	}

	fn := ClassificationTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Classification, supervisor.TaskClassification, map[string]any{
		"source_word":     st.SourceWord,
		"source_language": st.SourceLanguage,
		"target_language": st.TargetLanguage,
	}, fn)
	if err != nil {
		return st, false, fmt.Errorf("graph: get_classification: %w", err)
	}

	partial := domain.State{Quality: map[string]domain.QualityResult{string(tools.Classification): result.Quality}}
	applyClassification(&partial, result.Output)
	st = st.Merge(partial)
	return st, false, nil
}

func applyClassification(partial *domain.State, out map[string]any) {
	if defs, ok := out["source_definition"].([]any); ok {
		partial.SourceDefinition = toStringSlice(defs)
	}
	if pos, ok := out["source_part_of_speech"].(string); ok {
		partial.SourcePartOfSpeech = pos
	}
	if article, ok := out["source_article"].(string); ok {
		partial.SourceArticle = article
	}
	if info, ok := out["source_additional_info"].(string); ok {
		partial.SourceAdditionalInfo = info
	}
}

func getTranslation(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	fn := TranslationTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Translation, supervisor.TaskTranslation, map[string]any{
		"source_word":           st.SourceWord,
		"source_language":       st.SourceLanguage,
		"target_language":       st.TargetLanguage,
		"source_part_of_speech": st.SourcePartOfSpeech,
	}, fn)
	if err != nil {
		return st, fmt.Errorf("graph: get_translation: %w", err)
	}

	partial := domain.State{Quality: map[string]domain.QualityResult{string(tools.Translation): result.Quality}}
	if w, ok := result.Output["target_word"].(string); ok {
		partial.TargetWord = w
	}
	if pos, ok := result.Output["target_part_of_speech"].(string); ok {
		partial.TargetPartOfSpeech = pos
	}
	if article, ok := result.Output["target_article"].(string); ok {
		partial.TargetArticle = article
	}
	if info, ok := result.Output["target_additional_info"].(string); ok {
		partial.TargetAdditionalInfo = info
	}
	if plural, ok := result.Output["target_plural_form"].(string); ok {
		partial.TargetPluralForm = plural
	}
	if englishWord, ok := result.Output["english_word"].(string); ok {
		partial.EnglishWord = englishWord
	}
	return st.Merge(partial), nil
}

// supervisorCheckSequentialQuality implements the sequential quality gate:
// validation, classification, and translation must all be approved.
func supervisorCheckSequentialQuality(st domain.State) (domain.State, bool) {
	passed := st.Quality[string(tools.Validation)].Approved &&
		st.Quality[string(tools.Classification)].Approved &&
		st.Quality[string(tools.Translation)].Approved
	st.SequentialQualityPassed = passed
	return st, passed
}

func supervisorCoordinateParallelTasks(st domain.State) domain.State {
	names := supervisor.CoordinateParallelTasks(st.TargetPartOfSpeech)
	tasks := make([]string, 0, len(names))
	for _, n := range names {
		tasks = append(tasks, string(n))
	}
	st.ParallelTasksToExecute = tasks
	return st
}

// runParallelFanOut launches one goroutine per coordinated task and joins
// them with a mutex-guarded merge. Branches
// never write the same state field, so State.Merge's per-field rules
// (last-writer for scalars, set-union for CompletedParallelTasks) apply
// with no conflicts to arbitrate.
func runParallelFanOut(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup

	runsConjugation := false
	for _, t := range st.ParallelTasksToExecute {
		if t == string(tools.Conjugation) {
			runsConjugation = true
		}
	}

	branch := func(fn func() (domain.State, error)) {
		defer wg.Done()
		partial, err := fn()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		st = st.Merge(partial)
	}

	wg.Add(4)
	if runsConjugation {
		wg.Add(1)
	}

	go branch(func() (domain.State, error) { return mediaBranch(ctx, deps, st) })
	go branch(func() (domain.State, error) { return examplesBranch(ctx, deps, st) })
	go branch(func() (domain.State, error) { return synonymsBranch(ctx, deps, st) })
	if runsConjugation {
		go branch(func() (domain.State, error) { return conjugationBranch(ctx, deps, st) })
	}
	// syllables feeds pronunciation: run that pair as a single sequential
	// branch, since pronunciation must run strictly after syllables.
	go branch(func() (domain.State, error) { return syllablesThenPronunciationBranch(ctx, deps, st) })

	wg.Wait()
	if firstErr != nil {
		return st, firstErr
	}

	return joinParallelTasks(st), nil
}

// mediaBranch runs media through the same quality-gated executor path as
// every other tool, so the supervisor's media fast path (well-formed image
// URLs, the api_fallback marker) actually decides approval instead of the
// branch hardcoding it.
func mediaBranch(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	var reused bool
	fn := func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		m, r, err := deps.Media.Run(ctx, st)
		if err != nil {
			return nil, "", err
		}
		reused = r
		return mediaResultMap(m, r), "", nil
	}

	result, err := deps.Executor.Execute(ctx, tools.Media, supervisor.TaskMediaSelection, map[string]any{
		"source_word":     st.SourceWord,
		"target_word":     st.TargetWord,
		"source_language": st.SourceLanguage,
		"target_language": st.TargetLanguage,
	}, fn)
	if err != nil {
		return domain.State{}, fmt.Errorf("graph: get_media: %w", err)
	}

	return domain.State{
		Media:                  decodeMediaResult(result.Output),
		MediaReused:            reused,
		Quality:                map[string]domain.QualityResult{string(tools.Media): result.Quality},
		CompletedParallelTasks: []string{string(tools.Media)},
	}, nil
}

// mediaResultMap converts a MediaProvider result into the plain map shape
// the supervisor's media fast path inspects. An empty Src (the zero-result
// placeholder MediaProvider.Run returns when no photo candidates matched)
// carries an api_fallback marker so the gate accepts it outright instead of
// endlessly retrying a search that will never find a result.
func mediaResultMap(m domain.Media, reused bool) map[string]any {
	out := map[string]any{
		"alt":          m.Alt,
		"explanation":  m.Explanation,
		"memory_tip":   m.MemoryTip,
		"matched_word": m.MatchedWord,
		"src":          m.Src,
		"media_reused": reused,
	}
	if len(m.Src) == 0 {
		out["api_fallback"] = true
	}
	return out
}

func decodeMediaResult(out map[string]any) domain.Media {
	m := domain.Media{}
	if v, ok := out["alt"].(string); ok {
		m.Alt = v
	}
	if v, ok := out["explanation"].(string); ok {
		m.Explanation = v
	}
	if v, ok := out["memory_tip"].(string); ok {
		m.MemoryTip = v
	}
	if v, ok := out["matched_word"].(string); ok {
		m.MatchedWord = v
	}
	if src, ok := out["src"].(map[string]string); ok {
		m.Src = src
	}
	return m
}

func examplesBranch(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	fn := ExamplesTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Examples, supervisor.TaskExamples, map[string]any{
		"source_word":     st.SourceWord,
		"target_word":     st.TargetWord,
		"source_language": st.SourceLanguage,
		"target_language": st.TargetLanguage,
	}, fn)
	if err != nil {
		return domain.State{}, fmt.Errorf("graph: get_examples: %w", err)
	}
	return domain.State{
		Examples:               decodeExamples(result.Output),
		Quality:                map[string]domain.QualityResult{string(tools.Examples): result.Quality},
		CompletedParallelTasks: []string{string(tools.Examples)},
	}, nil
}

func synonymsBranch(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	fn := SynonymsTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Synonyms, supervisor.TaskSynonyms, map[string]any{
		"target_word":           st.TargetWord,
		"source_language":       st.SourceLanguage,
		"target_language":       st.TargetLanguage,
		"target_part_of_speech": st.TargetPartOfSpeech,
	}, fn)
	if err != nil {
		return domain.State{}, fmt.Errorf("graph: get_synonyms: %w", err)
	}
	return domain.State{
		Synonyms:               decodeSynonyms(result.Output),
		Quality:                map[string]domain.QualityResult{string(tools.Synonyms): result.Quality},
		CompletedParallelTasks: []string{string(tools.Synonyms)},
	}, nil
}

func conjugationBranch(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	fn := ConjugationTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Conjugation, supervisor.TaskConjugation, map[string]any{
		"target_word":     st.TargetWord,
		"target_language": st.TargetLanguage,
	}, fn)
	if err != nil {
		return domain.State{}, fmt.Errorf("graph: get_conjugation: %w", err)
	}
	return domain.State{
		Conjugation:             result.Output,
		Quality:                 map[string]domain.QualityResult{string(tools.Conjugation): result.Quality},
		CompletedParallelTasks:  []string{string(tools.Conjugation)},
	}, nil
}

// syllablesThenPronunciationBranch runs syllables under the quality gate,
// then pronunciation (audio) with no gate at all, since pronunciation
// consumes the syllable list.
// Both task names are marked complete once the pair finishes.
func syllablesThenPronunciationBranch(ctx context.Context, deps Deps, st domain.State) (domain.State, error) {
	fn := SyllablesTool(deps.Gateway)
	result, err := deps.Executor.Execute(ctx, tools.Syllables, supervisor.TaskSyllables, map[string]any{
		"target_word":     st.TargetWord,
		"target_language": st.TargetLanguage,
	}, fn)
	if err != nil {
		return domain.State{}, fmt.Errorf("graph: get_syllables: %w", err)
	}

	partial := domain.State{Quality: map[string]domain.QualityResult{string(tools.Syllables): result.Quality}}
	if syll, ok := result.Output["syllables"].([]any); ok {
		partial.TargetSyllables = toStringSlice(syll)
	}
	if guide, ok := result.Output["phonetic_guide"].(string); ok {
		partial.TargetPhoneticGuide = guide
	}

	merged := st.Merge(partial)
	pron, err := deps.Audio.Generate(ctx, merged)
	if err != nil {
		return domain.State{}, fmt.Errorf("graph: get_pronunciation: %w", err)
	}
	partial.Pronunciations = pron
	partial.CompletedParallelTasks = []string{string(tools.Syllables), string(tools.Pronunciation)}
	return partial, nil
}

// joinParallelTasks re-checks whether the completed set now covers every
// coordinated task; this node is re-entrant per completion, but
// since runParallelFanOut joins with a WaitGroup barrier, the check always
// sees the full set once every branch finishes.
func joinParallelTasks(st domain.State) domain.State {
	expected := map[string]bool{}
	for _, t := range st.ParallelTasksToExecute {
		expected[t] = true
	}
	got := map[string]bool{}
	for _, t := range st.CompletedParallelTasks {
		got[t] = true
	}
	allComplete := true
	for t := range expected {
		if !got[t] {
			allComplete = false
			break
		}
	}
	st.ParallelTasksComplete = allComplete
	return st
}

// supervisorFinalQualityCheck aggregates every approved tool's quality
// score into overall_quality_score. Only
// tools that actually ran (present in Quality) are counted, so a noun's
// absent conjugation gate never drags down the pass/fail tally.
func supervisorFinalQualityCheck(st domain.State) domain.State {
	var sum float64
	var passed, failed int
	for _, q := range st.Quality {
		if q.Approved {
			sum += q.Score
			passed++
		} else {
			failed++
		}
	}

	overall := 0.0
	if passed > 0 {
		overall = sum / float64(passed)
	}
	st.OverallQualityScore = overall
	st.ProcessingComplete = true
	_ = failed // exposed via logging at the call site, not a state field
	return st
}

func toStringSlice(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeSuggestions(out map[string]any) []domain.Suggestion {
	raw, _ := out["issue_suggestions"].([]any)
	suggestions := make([]domain.Suggestion, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		s := domain.Suggestion{}
		if v, ok := m["word"].(string); ok {
			s.Word = v
		}
		if v, ok := m["language"].(string); ok {
			s.Language = v
		}
		suggestions = append(suggestions, s)
	}
	return suggestions
}

func decodeExamples(out map[string]any) []domain.Example {
	raw, _ := out["examples"].([]any)
	examples := make([]domain.Example, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		e := domain.Example{}
		if v, ok := m["original"].(string); ok {
			e.Original = v
		}
		if v, ok := m["translation"].(string); ok {
			e.Translation = v
		}
		if v, ok := m["context"].(string); ok {
			e.Context = v
		}
		examples = append(examples, e)
	}
	return examples
}

func decodeSynonyms(out map[string]any) []domain.Synonym {
	raw, _ := out["synonyms"].([]any)
	synonyms := make([]domain.Synonym, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		s := domain.Synonym{}
		if v, ok := m["synonym"].(string); ok {
			s.Synonym = v
		}
		if v, ok := m["explanation"].(string); ok {
			s.Explanation = v
		}
		synonyms = append(synonyms, s)
	}
	return synonyms
}
