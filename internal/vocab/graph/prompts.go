package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vocabweave/vocabweave/internal/vocab/executor"
	"github.com/vocabweave/vocabweave/internal/vocab/gateway"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

// callAndDecode runs one gateway call against schema name and decodes the
// response into a plain map, the shape executor.ToolFunc expects.
func callAndDecode(ctx context.Context, gw *gateway.Gateway, name tools.Name, model, system, user string) (map[string]any, error) {
	var raw json.RawMessage
	if _, err := gw.Call(ctx, gateway.Request{Schema: name, System: system, User: user, Model: model}, &raw); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("graph: decode %s response: %w", name, err)
	}
	return out, nil
}

// feedbackSuffix folds retry feedback into the user prompt, grounded on the
// original's build_enhanced_prompt (quality_feedback/previous_issues/suggestions).
func feedbackSuffix(inputs map[string]any) string {
	var b strings.Builder
	if fb, ok := inputs["quality_feedback"]; ok && fb != nil {
		fmt.Fprintf(&b, "\n\nPrevious attempt feedback: %v", fb)
	}
	if issues, ok := inputs["previous_issues"].([]string); ok && len(issues) > 0 {
		fmt.Fprintf(&b, "\nPrevious issues: %s", strings.Join(issues, "; "))
	}
	if sugg, ok := inputs["suggestions"].([]string); ok && len(sugg) > 0 {
		fmt.Fprintf(&b, "\nSuggestions: %s", strings.Join(sugg, "; "))
	}
	return b.String()
}

func str(inputs map[string]any, key string) string {
	v, _ := inputs[key].(string)
	return v
}

// ValidationTool builds the validate_source_word tool, grounded on
// validation_tool.py's validate_word.
func ValidationTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		sourceWord := str(inputs, "source_word")
		targetLanguage := str(inputs, "target_language")
		sourceLanguage := str(inputs, "source_language")

		system := "You validate a word submitted for vocabulary enrichment: check spelling, language " +
			"clarity, and ambiguity. Respond with is_valid, the detected source_language if not given, " +
			"and on failure an issue_message plus up to three issue_suggestions {word, language}."
		user := fmt.Sprintf("source_word: %q\ntarget_language: %s\nsource_language: %s%s",
			sourceWord, targetLanguage, orAny(sourceLanguage), feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Validation, model, system, user)
		return out, user, err
	}
}

// ClassificationTool builds get_classification: definition, part of speech,
// article, additional info in the source language.
func ClassificationTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		system := "You classify a word in its source language: give 1-3 definitions, its part of " +
			"speech, its grammatical article if it is a noun, and any additional usage notes."
		user := fmt.Sprintf("source_word: %q\nsource_language: %s\ntarget_language: %s%s",
			str(inputs, "source_word"), str(inputs, "source_language"), str(inputs, "target_language"),
			feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Classification, model, system, user)
		return out, user, err
	}
}

// TranslationTool builds get_translation: target word, POS, article,
// plural form, and english_word (the canonical lookup key for media reuse).
func TranslationTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		system := "You translate a word between supported languages and classify its part of " +
			"speech in the target language, including article and plural form for nouns. Always " +
			"include english_word, the canonical English translation (with 'to' for verbs)."
		user := fmt.Sprintf("source_word: %q\nsource_language: %s\ntarget_language: %s\nsource_part_of_speech: %s%s",
			str(inputs, "source_word"), str(inputs, "source_language"), str(inputs, "target_language"),
			str(inputs, "source_part_of_speech"), feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Translation, model, system, user)
		return out, user, err
	}
}

// SynonymsTool builds get_synonyms, grounded on synonyms_tool.py.
func SynonymsTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		targetWord := str(inputs, "target_word")
		targetLanguage := str(inputs, "target_language")
		sourceLanguage := str(inputs, "source_language")

		system := fmt.Sprintf(
			"You are a linguistic expert providing synonyms for %q (%s, %s). First decide whether "+
				"direct, common synonyms exist. If none exist, add a note in %s explaining why. In "+
				"any case return 1 to 3 closest words or concepts, each with an explanation in %s.",
			targetWord, targetLanguage, str(inputs, "target_part_of_speech"), sourceLanguage, sourceLanguage)
		user := fmt.Sprintf("target_word: %q\ntarget_language: %s%s", targetWord, targetLanguage, feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Synonyms, model, system, user)
		return out, user, err
	}
}

// ExamplesTool builds get_examples: 2-3 bilingual sentences, grounded on
// examples_tool.py. Not a feedback-accepting tool in the original, but the
// supervisor still retries it on low scores without injecting feedback text.
func ExamplesTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		sourceWord := str(inputs, "source_word")
		targetWord := str(inputs, "target_word")
		sourceLanguage := str(inputs, "source_language")
		targetLanguage := str(inputs, "target_language")

		system := "You write bilingual example sentences pairing a source-language sentence with " +
			"its target-language translation, real-life context, medium length, everyday conversation."
		user := fmt.Sprintf(
			"Create 2 to 3 bilingual example sentences using %q (%s) and %q (%s). The context note "+
				"should be in %s.%s",
			sourceWord, sourceLanguage, targetWord, targetLanguage, sourceLanguage, feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Examples, model, system, user)
		return out, user, err
	}
}

// SyllablesTool builds get_syllables: syllable list + phonetic guide.
func SyllablesTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		targetWord := str(inputs, "target_word")
		targetLanguage := str(inputs, "target_language")

		system := "You break a word into its syllables and provide a simple, learner-friendly " +
			"phonetic guide."
		user := fmt.Sprintf("target_word: %q\ntarget_language: %s%s", targetWord, targetLanguage, feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Syllables, model, system, user)
		return out, user, err
	}
}

// ConjugationTool builds get_conjugation for verbs only, grounded on
// conjugation_tool.py's per-language expected-tense listing.
func ConjugationTool(gw *gateway.Gateway) executor.ToolFunc {
	return func(ctx context.Context, model string, inputs map[string]any) (map[string]any, string, error) {
		targetWord := str(inputs, "target_word")
		targetLanguage := str(inputs, "target_language")

		system := fmt.Sprintf(
			"You conjugate the verb %q in %s across its standard non-personal forms, indicative, "+
				"and subjunctive tenses. Return the full conjugation table as nested fields under 'tenses'.",
			targetWord, targetLanguage)
		user := fmt.Sprintf("target_word: %q\ntarget_language: %s%s", targetWord, targetLanguage, feedbackSuffix(inputs))

		out, err := callAndDecode(ctx, gw, tools.Conjugation, model, system, user)
		return out, user, err
	}
}

func orAny(s string) string {
	if s == "" {
		return "(detect automatically)"
	}
	return s
}
