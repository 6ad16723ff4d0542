package tools

import "testing"

func TestFallbackResultValidation(t *testing.T) {
	out := FallbackResult(Validation, "timeout")
	if out["is_valid"] != false {
		t.Fatalf("expected is_valid=false, got %v", out["is_valid"])
	}
	msg, _ := out["issue_message"].(string)
	if msg != "ERROR - validation failed: timeout" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestFallbackResultSynonymsIsEmptyList(t *testing.T) {
	out := FallbackResult(Synonyms, "schema mismatch")
	syns, ok := out["synonyms"].([]SynonymEntry)
	if !ok {
		t.Fatalf("expected []SynonymEntry, got %T", out["synonyms"])
	}
	if len(syns) != 0 {
		t.Fatalf("expected empty list, got %v", syns)
	}
}

func TestSkipValidationDefaultsToPronunciationOnly(t *testing.T) {
	if !SkipValidation[Pronunciation] {
		t.Fatal("pronunciation must be in the skip-validation set")
	}
	if SkipValidation[Media] {
		t.Fatal("media must be quality-gated, not skipped")
	}
}

func TestSchemaCompilesForEveryTool(t *testing.T) {
	names := []Name{Validation, Classification, Translation, Synonyms, Examples, Syllables, Conjugation, Media, Pronunciation, QualityCheck}
	for _, n := range names {
		schema, err := Schema(n)
		if err != nil {
			t.Fatalf("Schema(%s): %v", n, err)
		}
		if schema == nil {
			t.Fatalf("Schema(%s) returned nil", n)
		}
	}
}

func TestValidateExamplesRejectsShortStrings(t *testing.T) {
	payload := map[string]any{
		"examples": []any{
			map[string]any{"original": "too short", "translation": "also too short"},
		},
	}
	if err := Validate(Examples, payload); err == nil {
		t.Fatal("expected validation error for examples shorter than 20 chars")
	}
}

func TestValidateMediaAcceptsWellFormedURLs(t *testing.T) {
	payload := map[string]any{
		"src": map[string]any{
			"large2x": "https://images.example.com/a.jpg",
			"large":   "https://images.example.com/b.jpg",
			"medium":  "https://images.example.com/c.jpg",
		},
	}
	if err := Validate(Media, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
