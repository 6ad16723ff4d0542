package domain

import (
	"reflect"
	"sort"
	"testing"
)

func TestMergeScalarLastWriterWins(t *testing.T) {
	s := NewState(Request{SourceWord: "haus", TargetLanguage: "en"})
	s = s.Merge(State{TargetWord: "house", EnglishWord: "house"})
	if s.TargetWord != "house" {
		t.Fatalf("expected TargetWord to be set, got %q", s.TargetWord)
	}
	s = s.Merge(State{TargetWord: "home"})
	if s.TargetWord != "home" {
		t.Fatalf("expected overwrite to home, got %q", s.TargetWord)
	}
}

func TestMergeCompletedParallelTasksUnion(t *testing.T) {
	s := NewState(Request{})
	s = s.Merge(State{CompletedParallelTasks: []string{"media"}})
	s = s.Merge(State{CompletedParallelTasks: []string{"examples"}})
	s = s.Merge(State{CompletedParallelTasks: []string{"media"}}) // idempotent re-delivery

	got := append([]string(nil), s.CompletedParallelTasks...)
	sort.Strings(got)
	want := []string{"examples", "media"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMergeUnionOrderIndependence(t *testing.T) {
	a := NewState(Request{}).
		Merge(State{CompletedParallelTasks: []string{"media"}}).
		Merge(State{CompletedParallelTasks: []string{"synonyms", "examples"}})

	b := NewState(Request{}).
		Merge(State{CompletedParallelTasks: []string{"synonyms", "examples"}}).
		Merge(State{CompletedParallelTasks: []string{"media"}})

	sa := append([]string(nil), a.CompletedParallelTasks...)
	sb := append([]string(nil), b.CompletedParallelTasks...)
	sort.Strings(sa)
	sort.Strings(sb)
	if !reflect.DeepEqual(sa, sb) {
		t.Fatalf("merge order should not matter: %v vs %v", sa, sb)
	}
}

func TestCollapsePOSForKey(t *testing.T) {
	cases := map[string]string{
		"masculine noun": "noun",
		"feminine noun":  "noun",
		"neuter noun":    "noun",
		"noun":           "noun",
		"verb":           "verb",
	}
	for in, want := range cases {
		if got := CollapsePOSForKey(in); got != want {
			t.Errorf("CollapsePOSForKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArticleForAndValidate(t *testing.T) {
	if got := ArticleFor("de", "neuter noun"); got != "das" {
		t.Errorf("expected das, got %q", got)
	}
	if got := ArticleFor("es", "feminine noun"); got != "la" {
		t.Errorf("expected la, got %q", got)
	}
	if err := ValidateArticle("de", "neuter noun", "das"); err != nil {
		t.Errorf("expected valid article, got %v", err)
	}
	if err := ValidateArticle("de", "neuter noun", "der"); err == nil {
		t.Errorf("expected validation error for mismatched article")
	}
}
