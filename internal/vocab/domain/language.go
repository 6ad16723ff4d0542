// Package domain holds the shared vocabulary types driven through the
// enrichment graph: languages, parts of speech, the request shape, and the
// mutable state record that nodes read and merge partial updates into.
package domain

import "fmt"

// Language is a closed enumeration of the languages the pipeline supports.
type Language struct {
	Code   string // ISO-639-1, e.g. "en"
	Name   string // English display name, e.g. "English"
	Native string // native name, e.g. "Deutsch"
}

var languages = map[string]Language{
	"en": {Code: "en", Name: "English", Native: "English"},
	"es": {Code: "es", Name: "Spanish", Native: "Español"},
	"de": {Code: "de", Name: "German", Native: "Deutsch"},
}

// LookupLanguage resolves an ISO-639-1 code to a Language. ok is false for
// any code outside {en, es, de}.
func LookupLanguage(code string) (Language, bool) {
	lang, ok := languages[code]
	return lang, ok
}

// ValidLanguageCode reports whether code is one of the supported languages.
func ValidLanguageCode(code string) bool {
	_, ok := languages[code]
	return ok
}

// PartOfSpeech is a closed enumeration with the grammatical properties the
// pipeline needs to decide on conjugation, articles, and storage-key
// collapsing.
type PartOfSpeech struct {
	Category       string // "noun", "verb", "adjective", ...
	HasGender      bool
	IsConjugatable bool // true only for verb
	IsDeclinable   bool
}

var partsOfSpeech = map[string]PartOfSpeech{
	"noun":               {Category: "noun", HasGender: false, IsDeclinable: true},
	"masculine noun":     {Category: "noun", HasGender: true, IsDeclinable: true},
	"feminine noun":      {Category: "noun", HasGender: true, IsDeclinable: true},
	"neuter noun":        {Category: "noun", HasGender: true, IsDeclinable: true},
	"verb":               {Category: "verb", IsConjugatable: true},
	"adjective":          {Category: "adjective", IsDeclinable: true},
	"adverb":             {Category: "adverb"},
	"preposition":        {Category: "preposition"},
	"conjunction":        {Category: "conjunction"},
	"pronoun":            {Category: "pronoun", IsDeclinable: true},
	"interjection":       {Category: "interjection"},
	"article":            {Category: "article"},
	"numeral":            {Category: "numeral"},
}

// LookupPartOfSpeech resolves a POS label (as produced by the classification
// or translation tool) to its PartOfSpeech properties.
func LookupPartOfSpeech(label string) (PartOfSpeech, bool) {
	pos, ok := partsOfSpeech[label]
	return pos, ok
}

// CollapsePOSForKey collapses a gendered noun label ("masculine noun",
// "feminine noun", "neuter noun") down to plain "noun" for use in a storage
// sort key, mirroring the reference implementation's suffix-based collapse.
func CollapsePOSForKey(label string) string {
	const suffix = " noun"
	if len(label) > len(suffix) && label[len(label)-len(suffix):] == suffix {
		return "noun"
	}
	return label
}

// ArticleFor returns the expected article for a gendered noun in a given
// target language, or "" if the language/POS pair carries no article
// (e.g. English nouns, or any non-noun part of speech).
func ArticleFor(targetLanguage, posLabel string) string {
	switch targetLanguage {
	case "de":
		switch posLabel {
		case "masculine noun":
			return "der"
		case "feminine noun":
			return "die"
		case "neuter noun":
			return "das"
		}
	case "es":
		switch posLabel {
		case "masculine noun":
			return "el"
		case "feminine noun":
			return "la"
		}
	}
	return ""
}

// ValidateArticle reports whether article is the expected article for the
// given language/POS pair: gendered
// nouns must carry the matching article, English nouns carry none.
func ValidateArticle(targetLanguage, posLabel, article string) error {
	expected := ArticleFor(targetLanguage, posLabel)
	if expected == "" {
		if article != "" && targetLanguage != "en" {
			// Non-gendered POS in de/es may still lack an article; only
			// flag an article present where none is ever valid.
			return nil
		}
		return nil
	}
	if article != expected {
		return fmt.Errorf("domain: article %q does not match expected %q for %s/%s", article, expected, targetLanguage, posLabel)
	}
	return nil
}
