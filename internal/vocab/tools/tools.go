// Package tools declares the typed input/output contract for every
// enrichment step the pipeline drives through the quality gate, plus the
// fallback output each tool produces when it exhausts retries or throws.
package tools

// Name identifies a tool in state fields, schema lookups, and routing
// decisions.
type Name string

const (
	Validation     Name = "validation"
	Classification Name = "classification"
	Translation    Name = "translation"
	Synonyms       Name = "synonyms"
	Examples       Name = "examples"
	Syllables      Name = "syllables"
	Conjugation    Name = "conjugation"
	Media          Name = "media"
	Pronunciation  Name = "pronunciation"

	// QualityCheck is the schema name for the supervisor's own LLM-judge
	// calls. It is distinct from every tool's own output schema
	// so a quality-check response is never validated against the schema of
	// the tool output it is judging.
	QualityCheck Name = "quality_check"
)

// SkipValidation is the set of tools the supervisor never quality-checks
// (pronunciation by default).
var SkipValidation = map[Name]bool{
	Pronunciation: true,
}

// ValidationOutput is the validation tool's result shape.
type ValidationOutput struct {
	IsValid          bool              `json:"is_valid"`
	SourceLanguage   string            `json:"source_language,omitempty"`
	IssueMessage     string            `json:"issue_message,omitempty"`
	IssueSuggestions []IssueSuggestion `json:"issue_suggestions,omitempty"` // at most 3
}

// IssueSuggestion is one alternate word/language pair offered on rejection.
type IssueSuggestion struct {
	Word     string `json:"word"`
	Language string `json:"language"`
}

// ClassificationOutput is the classification tool's result shape.
type ClassificationOutput struct {
	SourceWord           string         `json:"source_word,omitempty"` // base/dictionary form
	SourceDefinition     []string       `json:"source_definition"`     // 1-3
	SourcePartOfSpeech   string         `json:"source_part_of_speech"`
	SourceArticle        string         `json:"source_article,omitempty"`
	SourceAdditionalInfo string         `json:"source_additional_info,omitempty"`
	WordExists           bool           `json:"word_exists,omitempty"`
	ExistingItem         map[string]any `json:"existing_item,omitempty"`
}

// TranslationOutput is the translation tool's result shape.
type TranslationOutput struct {
	TargetWord           string `json:"target_word"` // base form
	TargetPartOfSpeech   string `json:"target_part_of_speech"`
	TargetArticle        string `json:"target_article,omitempty"`
	TargetAdditionalInfo string `json:"target_additional_info,omitempty"`
	TargetPluralForm     string `json:"target_plural_form,omitempty"`
	EnglishWord          string `json:"english_word"`
}

// SynonymsOutput is the synonyms tool's result shape.
type SynonymsOutput struct {
	Note     string         `json:"note,omitempty"`
	Synonyms []SynonymEntry `json:"synonyms"` // 0-3
}

// SynonymEntry is one synonym with a short explanation of the nuance.
type SynonymEntry struct {
	Synonym     string `json:"synonym"`
	Explanation string `json:"explanation"`
}

// ExamplesOutput is the examples tool's result shape.
type ExamplesOutput struct {
	Examples []ExampleEntry `json:"examples"` // 2-3, each string >= 20 chars
}

// ExampleEntry is one usage example.
type ExampleEntry struct {
	Original    string `json:"original"`
	Translation string `json:"translation"`
	Context     string `json:"context,omitempty"`
}

// SyllablesOutput is the syllables tool's result shape.
type SyllablesOutput struct {
	Syllables     []string `json:"syllables"`
	PhoneticGuide string   `json:"phonetic_guide"` // ASCII, no IPA
}

// ConjugationOutput is the conjugation tool's result shape (verbs only).
// NotApplicable is set (with Score 10) when the target part
// of speech is not a verb; Table is nil in that case.
type ConjugationOutput struct {
	NotApplicable bool           `json:"not_applicable,omitempty"`
	Table         map[string]any `json:"table,omitempty"` // language-specific conjugation table
}

// MediaSearchOutput is phase one of the two-phase media tool: the LLM's
// proposed English search terms.
type MediaSearchOutput struct {
	EnglishWord string   `json:"english_word"`
	SearchTerms []string `json:"search_terms"` // 1-3, 1-2 words each
}

// MediaOutput is the media tool's final result shape.
type MediaOutput struct {
	Alt         string            `json:"alt,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	MemoryTip   string            `json:"memory_tip,omitempty"`
	Src         map[string]string `json:"src"` // size -> URL; keys among {large2x, large, medium, small}
	MediaReused bool              `json:"media_reused,omitempty"`
	MatchedWord string            `json:"matched_word,omitempty"`
}

// PronunciationOutput is the pronunciation tool's result shape. It is never
// quality-gated.
type PronunciationOutput struct {
	Audio     string `json:"audio"` // blob URL
	Syllables string `json:"syllables,omitempty"` // blob URL, optional
}

// FallbackResult builds the per-tool fallback JSON shape used when a tool
// exhausts its retries or panics, mirroring the reference implementation's
// create_fallback_result: a human-readable "ERROR - {tool} failed: {cause}"
// string in the tool's primary text field, empty lists for list-shaped
// tools, and is_valid=false for validation.
func FallbackResult(name Name, cause string) map[string]any {
	msg := "ERROR - " + string(name) + " failed: " + cause
	switch name {
	case Validation:
		return map[string]any{
			"is_valid":      false,
			"issue_message": msg,
		}
	case Classification:
		return map[string]any{
			"source_definition":     []string{msg},
			"source_part_of_speech": "",
		}
	case Translation:
		return map[string]any{
			"target_word":  msg,
			"english_word": "",
		}
	case Synonyms:
		return map[string]any{
			"note":     msg,
			"synonyms": []SynonymEntry{},
		}
	case Examples:
		return map[string]any{
			"examples": []ExampleEntry{},
			"note":     msg,
		}
	case Syllables:
		return map[string]any{
			"syllables":      []string{},
			"phonetic_guide": msg,
		}
	case Conjugation:
		return map[string]any{
			"not_applicable": false,
			"table":          map[string]any{"error": msg},
		}
	case Media:
		return map[string]any{
			"src":          map[string]string{},
			"media_reused": false,
			"alt":          msg,
		}
	case Pronunciation:
		return map[string]any{
			"audio": "ERROR: " + cause,
		}
	default:
		return map[string]any{"error": msg}
	}
}
