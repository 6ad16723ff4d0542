package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vocabweave/vocabweave/internal/blob"
	"github.com/vocabweave/vocabweave/internal/vocab/domain"
)

type fakeSynth struct {
	calls []string
	write string // bytes to write into the temp file Synthesize returns
	err   error
}

// fakeMP3Bytes is a stand-in for a real synthesized clip: long enough to
// clear MinAudioBytes so tests unrelated to the size gate don't trip it.
var fakeMP3Bytes = strings.Repeat("fake-mp3-bytes-", 100)

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (string, error) {
	s.calls = append(s.calls, text)
	if s.err != nil {
		return "", s.err
	}
	f, err := os.CreateTemp("", "audio-*.mp3")
	if err != nil {
		return "", err
	}
	defer f.Close()
	content := s.write
	if content == "" {
		content = fakeMP3Bytes
	}
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return f.Name(), nil
}

type fakeBlob struct {
	existing map[string]bool
	puts     map[string]string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{existing: map[string]bool{}, puts: map[string]string{}}
}

func (b *fakeBlob) Exists(ctx context.Context, key string) (bool, error) {
	return b.existing[key], nil
}

func (b *fakeBlob) Put(ctx context.Context, key string, data io.Reader, opts blob.PutOptions) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	b.puts[key] = string(raw)
	return "s3://bucket/" + key, nil
}

func (b *fakeBlob) URL(key string) string {
	return "s3://bucket/" + key
}

func testState() domain.State {
	st := domain.NewState(domain.Request{SourceWord: "house", SourceLanguage: "en", TargetLanguage: "es"})
	st.TargetWord = "casa"
	st.TargetSyllables = []string{"ca", "sa"}
	return st
}

func TestGenerateProducesPronunciationAndSyllables(t *testing.T) {
	synth := &fakeSynth{}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	out, err := p.Generate(context.Background(), testState())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Audio != "s3://bucket/vocabs/es/casa/audio/pronunciation.mp3" {
		t.Fatalf("unexpected audio url: %q", out.Audio)
	}
	if out.Syllables != "s3://bucket/vocabs/es/casa/audio/syllables.mp3" {
		t.Fatalf("unexpected syllables url: %q", out.Syllables)
	}
	if len(synth.calls) != 2 {
		t.Fatalf("expected 2 synthesis calls (word + syllables), got %d: %v", len(synth.calls), synth.calls)
	}
}

func TestGenerateSkipsSyllablesForSingleSyllableWord(t *testing.T) {
	synth := &fakeSynth{}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	st := testState()
	st.TargetSyllables = []string{"sol"}

	out, err := p.Generate(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Syllables != "" {
		t.Fatalf("expected no syllables audio for a single-syllable word, got %q", out.Syllables)
	}
	if len(synth.calls) != 1 {
		t.Fatalf("expected exactly 1 synthesis call, got %d", len(synth.calls))
	}
}

func TestGenerateReusesExistingBlobWithoutResynthesizing(t *testing.T) {
	synth := &fakeSynth{}
	bl := newFakeBlob()
	bl.existing["vocabs/es/casa/audio/pronunciation.mp3"] = true
	bl.existing["vocabs/es/casa/audio/syllables.mp3"] = true
	p := newWithCollaborators(synth, bl)

	out, err := p.Generate(context.Background(), testState())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synth.calls) != 0 {
		t.Fatalf("expected no synthesis calls when both blobs already exist, got %d", len(synth.calls))
	}
	if out.Audio == "" || out.Syllables == "" {
		t.Fatal("expected URLs for both reused blobs")
	}
}

func TestGenerateCleansUpTempFileAfterUpload(t *testing.T) {
	synth := &fakeSynth{}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	st := testState()
	st.TargetSyllables = nil

	if _, err := p.Generate(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synth.calls) != 1 {
		t.Fatalf("expected 1 synthesis call, got %d", len(synth.calls))
	}
	data, ok := bl.puts["vocabs/es/casa/audio/pronunciation.mp3"]
	if !ok || data != fakeMP3Bytes {
		t.Fatalf("expected uploaded bytes to match synthesized content, got %q", data)
	}
}

func TestGeneratePropagatesSynthesisError(t *testing.T) {
	synth := &fakeSynth{err: errors.New("tts provider down")}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	if _, err := p.Generate(context.Background(), testState()); err == nil {
		t.Fatal("expected an error when synthesis fails")
	}
}

func TestSafeSegmentNormalizesWhitespaceAndCase(t *testing.T) {
	if got := safeSegment("  Big Word  "); got != "big_word" {
		t.Fatalf("expected big_word, got %q", got)
	}
}

func TestResolveWithoutBlobReturnsLocalPath(t *testing.T) {
	synth := &fakeSynth{}
	p := newWithCollaborators(synth, nil)

	path, err := p.resolve(context.Background(), "hola", filepath.Join("vocabs", "es", "hola", "audio", "pronunciation.mp3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Fatal("expected a local temp path when no blob store is configured")
	}
	os.Remove(path)
}

func TestResolveRejectsAudioBelowMinSize(t *testing.T) {
	synth := &fakeSynth{write: strings.Repeat("x", MinAudioBytes-1)}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	_, err := p.resolve(context.Background(), "hola", "vocabs/es/hola/audio/pronunciation.mp3")
	if err == nil {
		t.Fatal("expected an error for audio just under the minimum size")
	}
}

func TestResolveAcceptsAudioAtMinSize(t *testing.T) {
	synth := &fakeSynth{write: strings.Repeat("x", MinAudioBytes)}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	url, err := p.resolve(context.Background(), "hola", "vocabs/es/hola/audio/pronunciation.mp3")
	if err != nil {
		t.Fatalf("unexpected error for audio at the minimum size: %v", err)
	}
	if url == "" {
		t.Fatal("expected a blob URL")
	}
	if len(bl.puts["vocabs/es/hola/audio/pronunciation.mp3"]) != MinAudioBytes {
		t.Fatalf("expected the full %d bytes to be uploaded", MinAudioBytes)
	}
}

func TestResolveRejectsAudioAboveMaxSize(t *testing.T) {
	synth := &fakeSynth{write: strings.Repeat("x", MaxAudioBytes+1)}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	_, err := p.resolve(context.Background(), "hola", "vocabs/es/hola/audio/pronunciation.mp3")
	if err == nil {
		t.Fatal("expected an error for audio over the maximum size")
	}
}

func TestResolveStreamsFromOpenFileRatherThanBuffering(t *testing.T) {
	synth := &fakeSynth{}
	bl := newFakeBlob()
	p := newWithCollaborators(synth, bl)

	_, err := p.resolve(context.Background(), "hola", "vocabs/es/hola/audio/pronunciation.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := bl.puts["vocabs/es/hola/audio/pronunciation.mp3"]; got != fakeMP3Bytes {
		t.Fatalf("expected the streamed upload to match the synthesized content, got %q", got)
	}
	if len(synth.calls) != 1 {
		t.Fatalf("expected exactly one synthesis call, got %d", len(synth.calls))
	}
}
