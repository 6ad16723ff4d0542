package domain

// Request is one inbound enrichment request, as decoded off the queue.
type Request struct {
	SourceWord     string `json:"source_word"`
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language,omitempty"` // optional; empty means "let validation fill it in"
	UserID         string `json:"user_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// Example is one usage example pairing the source-language sentence with
// its target-language translation.
type Example struct {
	Original    string
	Translation string
	Context     string
}

// Synonym is a near-synonym of the source word with a short explanation.
type Synonym struct {
	Synonym     string
	Explanation string
}

// Pronunciations holds the blob URLs for generated audio.
type Pronunciations struct {
	Audio     string
	Syllables string // optional: only produced when len(syllables) > 1
}

// Media is the representative-image artifact, plus provenance of how it
// was found.
type Media struct {
	Alt         string
	Explanation string
	MemoryTip   string
	Src         map[string]string // size name -> URL, e.g. {"large2x": "...", "small": "..."}
	MatchedWord string            // set when media was reused via a related search term
}

// QualityResult is the score/issues/suggestions triple the supervisor
// attaches to every quality-gated tool invocation.
type QualityResult struct {
	Approved   bool
	Score      float64
	RetryCount int
}

// State is the shared mutable record threaded through the graph. Every
// field is optional: a node only ever returns a partial State, which is
// merged into the running one via Merge.
type State struct {
	// Inputs
	SourceWord     string
	TargetLanguage string
	SourceLanguage string

	// Validation
	ValidationPassed      *bool
	ValidationIssue       string
	ValidationSuggestions []Suggestion

	// Classification
	SourceDefinition     []string
	SourcePartOfSpeech   string
	SourceArticle        string
	SourceAdditionalInfo string
	WordExists           *bool
	ExistingItem         map[string]any

	// Translation
	TargetWord           string
	TargetPartOfSpeech   string
	TargetArticle        string
	TargetAdditionalInfo string
	TargetPluralForm     string
	EnglishWord          string

	// Enrichment
	TargetSyllables     []string
	TargetPhoneticGuide string
	Synonyms            []Synonym
	Examples            []Example
	Conjugation         map[string]any
	Pronunciations      Pronunciations
	Media               Media
	SearchQuery         []string
	MediaReused         bool

	// Quality, keyed by tool name: validation, classification, translation,
	// synonyms, examples, syllables, conjugation, media.
	Quality map[string]QualityResult

	// Orchestration
	SequentialQualityPassed bool
	ParallelTasksToExecute  []string
	CompletedParallelTasks  []string
	ParallelTasksComplete   bool
	OverallQualityScore     float64
	ProcessingComplete      bool
}

// Suggestion is an alternate word/language pair offered when validation
// rejects the source word.
type Suggestion struct {
	Word     string
	Language string
}

// NewState seeds a State from a Request.
func NewState(req Request) State {
	return State{
		SourceWord:     req.SourceWord,
		TargetLanguage: req.TargetLanguage,
		SourceLanguage: req.SourceLanguage,
		Quality:        map[string]QualityResult{},
	}
}

// Merge folds partial into s and returns the result. Scalars are
// last-writer-wins (partial wins whenever it sets a non-zero value);
// CompletedParallelTasks is unioned so a branch's completion is never lost.
func (s State) Merge(partial State) State {
	out := s

	if partial.SourceWord != "" {
		out.SourceWord = partial.SourceWord
	}
	if partial.TargetLanguage != "" {
		out.TargetLanguage = partial.TargetLanguage
	}
	if partial.SourceLanguage != "" {
		out.SourceLanguage = partial.SourceLanguage
	}
	if partial.ValidationPassed != nil {
		out.ValidationPassed = partial.ValidationPassed
	}
	if partial.ValidationIssue != "" {
		out.ValidationIssue = partial.ValidationIssue
	}
	if partial.ValidationSuggestions != nil {
		out.ValidationSuggestions = partial.ValidationSuggestions
	}
	if partial.SourceDefinition != nil {
		out.SourceDefinition = partial.SourceDefinition
	}
	if partial.SourcePartOfSpeech != "" {
		out.SourcePartOfSpeech = partial.SourcePartOfSpeech
	}
	if partial.SourceArticle != "" {
		out.SourceArticle = partial.SourceArticle
	}
	if partial.SourceAdditionalInfo != "" {
		out.SourceAdditionalInfo = partial.SourceAdditionalInfo
	}
	if partial.WordExists != nil {
		out.WordExists = partial.WordExists
	}
	if partial.ExistingItem != nil {
		out.ExistingItem = partial.ExistingItem
	}
	if partial.TargetWord != "" {
		out.TargetWord = partial.TargetWord
	}
	if partial.TargetPartOfSpeech != "" {
		out.TargetPartOfSpeech = partial.TargetPartOfSpeech
	}
	if partial.TargetArticle != "" {
		out.TargetArticle = partial.TargetArticle
	}
	if partial.TargetAdditionalInfo != "" {
		out.TargetAdditionalInfo = partial.TargetAdditionalInfo
	}
	if partial.TargetPluralForm != "" {
		out.TargetPluralForm = partial.TargetPluralForm
	}
	if partial.EnglishWord != "" {
		out.EnglishWord = partial.EnglishWord
	}
	if partial.TargetSyllables != nil {
		out.TargetSyllables = partial.TargetSyllables
	}
	if partial.TargetPhoneticGuide != "" {
		out.TargetPhoneticGuide = partial.TargetPhoneticGuide
	}
	if partial.Synonyms != nil {
		out.Synonyms = partial.Synonyms
	}
	if partial.Examples != nil {
		out.Examples = partial.Examples
	}
	if partial.Conjugation != nil {
		out.Conjugation = partial.Conjugation
	}
	if partial.Pronunciations.Audio != "" {
		out.Pronunciations = partial.Pronunciations
	}
	if partial.Media.Src != nil {
		out.Media = partial.Media
	}
	if partial.SearchQuery != nil {
		out.SearchQuery = partial.SearchQuery
	}
	if partial.MediaReused {
		out.MediaReused = true
	}
	if len(partial.Quality) > 0 {
		if out.Quality == nil {
			out.Quality = map[string]QualityResult{}
		}
		for tool, q := range partial.Quality {
			out.Quality[tool] = q
		}
	}
	if partial.SequentialQualityPassed {
		out.SequentialQualityPassed = true
	}
	if partial.ParallelTasksToExecute != nil {
		out.ParallelTasksToExecute = partial.ParallelTasksToExecute
	}
	if len(partial.CompletedParallelTasks) > 0 {
		out.CompletedParallelTasks = unionStrings(out.CompletedParallelTasks, partial.CompletedParallelTasks)
	}
	if partial.ParallelTasksComplete {
		out.ParallelTasksComplete = true
	}
	if partial.OverallQualityScore != 0 {
		out.OverallQualityScore = partial.OverallQualityScore
	}
	if partial.ProcessingComplete {
		out.ProcessingComplete = true
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Bool is a small helper for constructing the *bool fields above from a
// literal without a local variable.
func Bool(v bool) *bool { return &v }
