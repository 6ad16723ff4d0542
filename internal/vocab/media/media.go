// Package media implements the C7 media subsystem: resolve an English
// search query for a word, reuse a previously stored photo when one already
// matches, otherwise fetch candidates from Pexels, have the LLM pick the
// most memorable one, and stream it into blob storage. Grounded on
// media_tool.py's get_media flow.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vocabweave/vocabweave/internal/blob"
	"github.com/vocabweave/vocabweave/internal/net/ssrf"
	"github.com/vocabweave/vocabweave/internal/vocab/domain"
	"github.com/vocabweave/vocabweave/internal/vocab/gateway"
	"github.com/vocabweave/vocabweave/internal/vocab/store"
	"github.com/vocabweave/vocabweave/internal/vocab/tools"
)

const (
	pexelsSearchURL = "https://api.pexels.com/v1/search"
	photosPerPage   = 10
	httpTimeout     = 30 * time.Second
)

// Config configures the Pexels client and model routing for this subsystem.
type Config struct {
	PexelsAPIKey string
	Model        string
}

// blobPutter is the narrow surface Provider needs from a blob store, so
// tests can substitute a fake instead of talking to real object storage
// (same pattern store.ddbClient uses for DynamoDB).
type blobPutter interface {
	Put(ctx context.Context, key string, data io.Reader, opts blob.PutOptions) (string, error)
}

// mediaStore is the narrow surface Provider needs from the persistence
// layer, so tests can substitute a fake instead of talking to DynamoDB.
type mediaStore interface {
	FindMediaBySearchTerms(ctx context.Context, terms []string) (media map[string]any, matchedWord string, err error)
}

// fetcher performs the outbound HTTP work the media subsystem needs. The
// production implementation validates every host against ssrf before
// dialing; tests substitute a fake that never touches the network.
type fetcher interface {
	searchPhotos(ctx context.Context, terms []string) ([]photo, error)
	download(ctx context.Context, srcURL string) (io.ReadCloser, error)
}

// Provider implements graph.MediaProvider.
type Provider struct {
	gw    *gateway.Gateway
	store mediaStore
	blob  blobPutter
	fetch fetcher
	model string
}

// New creates a media Provider backed by the real Pexels API and blob
// storage. st and blobStore may be nil in contexts that never reach reuse
// or upload (e.g. dev runs without a configured bucket).
func New(gw *gateway.Gateway, st *store.Store, blobStore *blob.Store, cfg Config) *Provider {
	var ms mediaStore
	if st != nil {
		ms = st
	}
	var bp blobPutter
	if blobStore != nil {
		bp = blobStore
	}
	return &Provider{
		gw:    gw,
		store: ms,
		blob:  bp,
		fetch: &httpFetcher{client: &http.Client{Timeout: httpTimeout}, apiKey: cfg.PexelsAPIKey, searchURL: pexelsSearchURL},
		model: cfg.Model,
	}
}

func newWithFetcher(gw *gateway.Gateway, st mediaStore, bp blobPutter, f fetcher, model string) *Provider {
	return &Provider{gw: gw, store: st, blob: bp, fetch: f, model: model}
}

type searchResult struct {
	EnglishWord string   `json:"english_word"`
	SearchTerms []string `json:"search_query"`
}

type photo struct {
	ID           int               `json:"id"`
	URL          string            `json:"url"`
	Photographer string            `json:"photographer"`
	Alt          string            `json:"alt"`
	Src          map[string]string `json:"src"`
}

type pexelsResponse struct {
	Photos []photo `json:"photos"`
}

// Run resolves the media for the word currently carried by st: the
// canonical English word, the search query used, and either a reused or
// freshly uploaded Media value.
func (p *Provider) Run(ctx context.Context, st domain.State) (domain.Media, bool, error) {
	search, err := p.searchTerms(ctx, st)
	if err != nil {
		return domain.Media{}, false, err
	}

	if p.store != nil {
		existing, matchedWord, err := p.store.FindMediaBySearchTerms(ctx, search.SearchTerms)
		if err != nil {
			return domain.Media{}, false, err
		}
		if existing != nil {
			reused, err := p.adaptExisting(ctx, st, existing)
			if err != nil {
				return domain.Media{}, false, err
			}
			reused.MatchedWord = matchedWord
			return reused, true, nil
		}
	}

	photos, err := p.fetch.searchPhotos(ctx, search.SearchTerms)
	if err != nil {
		return domain.Media{}, false, err
	}
	if len(photos) == 0 {
		return domain.Media{
			Alt:         "No photos found matching the query.",
			Explanation: "No suitable images were found for this word.",
			MemoryTip:   "Try visualizing the word concept in your mind.",
			Src:         map[string]string{},
		}, false, nil
	}

	chosen, err := p.selectBest(ctx, st, photos)
	if err != nil {
		return domain.Media{}, false, err
	}

	stored, err := p.upload(ctx, search.EnglishWord, chosen)
	if err != nil {
		return domain.Media{}, false, err
	}
	return stored, false, nil
}

func (p *Provider) searchTerms(ctx context.Context, st domain.State) (searchResult, error) {
	system := "You translate a word to English and propose 2 to 3 descriptive English search terms " +
		"to find the most relevant stock photo for it on Pexels."
	user := fmt.Sprintf("target_word: %q\ntarget_language: %s\nsource_word: %q\nsource_language: %s",
		st.TargetWord, st.TargetLanguage, st.SourceWord, st.SourceLanguage)

	var raw json.RawMessage
	if _, err := p.gw.Call(ctx, gateway.Request{Schema: tools.Media, System: system, User: user, Model: p.model}, &raw); err != nil {
		return searchResult{}, fmt.Errorf("media: search terms: %w", err)
	}
	var out searchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return searchResult{}, fmt.Errorf("media: decode search terms: %w", err)
	}
	if out.EnglishWord == "" {
		out.EnglishWord = st.TargetWord
	}
	if len(out.SearchTerms) == 0 {
		out.SearchTerms = []string{out.EnglishWord}
	}
	return out, nil
}

// adaptExisting translates a reused DDB media row's captions into the
// current source language while keeping url/src untouched, per
// media_tool.py's _adapt_existing_media.
func (p *Provider) adaptExisting(ctx context.Context, st domain.State, existing map[string]any) (domain.Media, error) {
	payload, err := json.Marshal(existing)
	if err != nil {
		return domain.Media{}, fmt.Errorf("media: marshal existing media: %w", err)
	}
	system := "You adapt an existing stock photo's captions for a new vocabulary word, translating alt, " +
		"explanation, and memory_tip into the requested source language. Never change url or src."
	user := fmt.Sprintf("source_word: %q\nsource_language: %s\ntarget_word: %q\ntarget_language: %s\nexisting media: %s",
		st.SourceWord, st.SourceLanguage, st.TargetWord, st.TargetLanguage, payload)

	out, err := callAndDecode(ctx, p.gw, tools.Media, p.model, system, user)
	if err != nil {
		return domain.Media{}, fmt.Errorf("media: adapt existing: %w", err)
	}
	media := decodeMedia(out)
	if len(media.Src) == 0 {
		media.Src = stringMap(existing["src"])
	}
	return media, nil
}

func stringMap(v any) map[string]string {
	raw, _ := v.(map[string]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// selectBest asks the LLM to choose the clearest, most memorable candidate
// and write its captions in the source language, per
// media_tool.py's _select_best_photo.
func (p *Provider) selectBest(ctx context.Context, st domain.State, photos []photo) (domain.Media, error) {
	payload, err := json.Marshal(photos)
	if err != nil {
		return domain.Media{}, fmt.Errorf("media: marshal candidates: %w", err)
	}
	system := "You choose the clearest, most relevant, most memorable stock photo for a vocabulary word " +
		"from a list of candidates, then write alt, explanation, and memory_tip in the source language, " +
		"connecting the image to the word. Culturally appropriate. Keep the chosen photo's src unchanged."
	user := fmt.Sprintf("source_word: %q\nsource_language: %s\ntarget_word: %q\ntarget_language: %s\ncandidates: %s",
		st.SourceWord, st.SourceLanguage, st.TargetWord, st.TargetLanguage, payload)

	out, err := callAndDecode(ctx, p.gw, tools.Media, p.model, system, user)
	if err != nil {
		return domain.Media{}, fmt.Errorf("media: select best photo: %w", err)
	}
	media := decodeMedia(out)
	if len(media.Src) == 0 && len(photos) > 0 {
		media.Src = photos[0].Src
	}
	return media, nil
}

// callAndDecode runs one gateway call against schema name and decodes the
// response into a plain map.
func callAndDecode(ctx context.Context, gw *gateway.Gateway, name tools.Name, model, system, user string) (map[string]any, error) {
	var raw json.RawMessage
	if _, err := gw.Call(ctx, gateway.Request{Schema: name, System: system, User: user, Model: model}, &raw); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("media: decode %s response: %w", name, err)
	}
	return out, nil
}

// decodeMedia builds a domain.Media from a decoded LLM response map,
// matching the tool output's snake_case keys.
func decodeMedia(out map[string]any) domain.Media {
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
	m.Src = stringMap(out["src"])
	return m
}

// upload streams each chosen photo size directly from its source URL into
// blob storage under vocabs/en/{english_word}/images/{size}.jpg, never
// touching local disk, and rewrites Src to the stored URLs.
func (p *Provider) upload(ctx context.Context, englishWord string, m domain.Media) (domain.Media, error) {
	if p.blob == nil || len(m.Src) == 0 {
		return m, nil
	}
	safeWord := safeSegment(englishWord)
	stored := make(map[string]string, len(m.Src))
	for size, srcURL := range m.Src {
		if srcURL == "" {
			continue
		}
		body, err := p.fetch.download(ctx, srcURL)
		if err != nil {
			return domain.Media{}, err
		}
		key := fmt.Sprintf("vocabs/en/%s/images/%s.jpg", safeWord, size)
		blobURL, err := p.blob.Put(ctx, key, body, blob.PutOptions{ContentType: "image/jpeg"})
		body.Close()
		if err != nil {
			return domain.Media{}, err
		}
		stored[size] = blobURL
	}
	m.Src = stored
	return m, nil
}

func safeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// httpFetcher is the production fetcher: every outbound host is checked
// against ssrf.ValidatePublicHostname before the request is made, since
// Pexels candidate URLs are untrusted third-party content.
type httpFetcher struct {
	client    *http.Client
	apiKey    string
	searchURL string
}

func (f *httpFetcher) searchPhotos(ctx context.Context, terms []string) ([]photo, error) {
	u, err := url.Parse(f.searchURL)
	if err != nil {
		return nil, fmt.Errorf("media: parse pexels url: %w", err)
	}
	if err := ssrf.ValidatePublicHostname(u.Hostname()); err != nil {
		return nil, fmt.Errorf("media: pexels host blocked: %w", err)
	}

	q := url.Values{}
	q.Set("query", strings.Join(terms, " "))
	q.Set("orientation", "landscape")
	q.Set("per_page", strconv.Itoa(photosPerPage))
	q.Set("size", "large")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("media: build pexels request: %w", err)
	}
	req.Header.Set("Authorization", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: pexels request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("media: pexels returned %d: %s", resp.StatusCode, body)
	}

	var parsed pexelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("media: decode pexels response: %w", err)
	}
	for i, ph := range parsed.Photos {
		trimmed := map[string]string{}
		for _, size := range []string{"large2x", "large", "medium"} {
			if v, ok := ph.Src[size]; ok {
				trimmed[size] = v
			}
		}
		parsed.Photos[i].Src = trimmed
	}
	return parsed.Photos, nil
}

func (f *httpFetcher) download(ctx context.Context, srcURL string) (io.ReadCloser, error) {
	u, err := url.Parse(srcURL)
	if err != nil {
		return nil, fmt.Errorf("media: parse image url %q: %w", srcURL, err)
	}
	if err := ssrf.ValidatePublicHostname(u.Hostname()); err != nil {
		return nil, fmt.Errorf("media: image host blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, fmt.Errorf("media: build image request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: fetch image %q: %w", srcURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("media: image fetch returned %d for %q", resp.StatusCode, srcURL)
	}
	return resp.Body, nil
}
