// Package audio implements the C8 audio subsystem: text-to-speech
// generation for a word's full pronunciation and, when it has more than one
// syllable, a separate slower syllable-by-syllable recording. Grounded on
// pronunciation_tool.py's get_pronunciation: idempotent per-file existence
// checks before generating, a bounded retry budget per file, and a hard
// size cap on the synthesized audio.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vocabweave/vocabweave/internal/blob"
	"github.com/vocabweave/vocabweave/internal/media"
	"github.com/vocabweave/vocabweave/internal/retry"
	"github.com/vocabweave/vocabweave/internal/tts"
	"github.com/vocabweave/vocabweave/internal/vocab/domain"
)

// MinAudioBytes and MaxAudioBytes bound a synthesized audio file: below
// MinAudioBytes the synthesis is almost certainly truncated or corrupt;
// above MaxAudioBytes it exceeds what the pipeline ever expects a single
// pronunciation/syllable clip to cost. These are tighter than
// internal/media's generic 16MiB MaxAudioBytes (sized for arbitrary
// attachments with no lower bound at all).
const (
	MinAudioBytes = 1024
	MaxAudioBytes = 5 * 1024 * 1024
)

// blobStore is the narrow surface Provider needs from blob storage, so
// tests can substitute a fake instead of talking to real object storage
// (same pattern store.ddbClient uses for DynamoDB).
type blobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data io.Reader, opts blob.PutOptions) (string, error)
	URL(key string) string
}

// synthesizer performs text-to-speech. The production implementation wraps
// tts.TextToSpeech with a retry budget; tests substitute a fake.
type synthesizer interface {
	Synthesize(ctx context.Context, text string) (audioPath string, err error)
}

// Config configures the audio subsystem's retry budget and underlying TTS
// provider chain.
type Config struct {
	TTS   *tts.Config
	Retry retry.Config // default: retry.Exponential(3, 500ms, 5s), mirrors MAX_AUDIO_RETRIES=3
}

// Provider implements graph.AudioProvider.
type Provider struct {
	synth synthesizer
	blob  blobStore
}

// New creates an audio Provider backed by the real TTS provider chain and
// blob storage. bl may be nil in contexts that never reach reuse or upload
// (e.g. dev runs without a configured bucket).
func New(bl *blob.Store, cfg Config) *Provider {
	r := cfg.Retry
	if r.MaxAttempts == 0 {
		r = retry.Exponential(3, 500_000_000, 5_000_000_000) // 500ms..5s
	}
	var bs blobStore
	if bl != nil {
		bs = bl
	}
	return &Provider{
		synth: &ttsSynthesizer{cfg: cfg.TTS, retry: r},
		blob:  bs,
	}
}

func newWithCollaborators(synth synthesizer, bs blobStore) *Provider {
	return &Provider{synth: synth, blob: bs}
}

// Generate produces pronunciation audio (always) and syllable audio (only
// when the word has more than one syllable), reusing any blob that already
// exists under the target key before regenerating it.
func (p *Provider) Generate(ctx context.Context, st domain.State) (domain.Pronunciations, error) {
	safeWord := safeSegment(st.TargetWord)
	prefix := fmt.Sprintf("vocabs/%s/%s/audio", st.TargetLanguage, safeWord)

	audioURL, err := p.resolve(ctx, st.TargetWord, prefix+"/pronunciation.mp3")
	if err != nil {
		return domain.Pronunciations{}, fmt.Errorf("audio: pronunciation: %w", err)
	}

	out := domain.Pronunciations{Audio: audioURL}

	if len(st.TargetSyllables) > 1 {
		syllableText := strings.Join(st.TargetSyllables, " - ")
		syllablesURL, err := p.resolve(ctx, syllableText, prefix+"/syllables.mp3")
		if err != nil {
			return domain.Pronunciations{}, fmt.Errorf("audio: syllables: %w", err)
		}
		out.Syllables = syllablesURL
	}

	return out, nil
}

// resolve returns the existing blob URL for key if present, otherwise
// synthesizes text and uploads it under key.
func (p *Provider) resolve(ctx context.Context, text, key string) (string, error) {
	if p.blob != nil {
		exists, err := p.blob.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check existing audio: %w", err)
		}
		if exists {
			return p.blob.URL(key), nil
		}
	}

	audioPath, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	defer os.Remove(audioPath)

	info, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("stat synthesized audio: %w", err)
	}
	if info.Size() < MinAudioBytes || info.Size() > MaxAudioBytes {
		return "", fmt.Errorf("synthesized audio size %d bytes is outside the accepted [%d, %d] byte range", info.Size(), MinAudioBytes, MaxAudioBytes)
	}

	if p.blob == nil {
		return audioPath, nil
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open synthesized audio: %w", err)
	}
	defer file.Close()

	mime := media.MIMEFromExtension(".mp3")
	return p.blob.Put(ctx, key, file, blob.PutOptions{ContentType: mime})
}

func safeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// ttsSynthesizer is the production synthesizer: it wraps tts.TextToSpeech
// with a retry budget and always cleans up the local temp file the
// underlying provider writes, since the pipeline never persists audio to
// disk beyond the upload step.
type ttsSynthesizer struct {
	cfg   *tts.Config
	retry retry.Config
}

func (s *ttsSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	result, retryResult := retry.DoWithValue(ctx, s.retry, func() (*tts.Result, error) {
		return tts.TextToSpeech(ctx, s.cfg, text, "")
	})
	if retryResult.Err != nil {
		return "", retryResult.Err
	}
	return result.AudioPath, nil
}
