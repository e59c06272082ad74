package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiDefaultTimeout = 15 * time.Second

// GeminiOptions controls how the Gemini-backed narrator is configured.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Narrator
	// OnFallback is invoked with the reason whenever the model call fails
	// and the fallback narrator is used instead.
	OnFallback func(reason string, err error)
}

// GeminiNarrator drafts narration and image prompts via the Gemini
// generateContent endpoint, falling back to a secondary narrator when the
// model is unreachable or returns garbage.
type GeminiNarrator struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   Narrator
	onFallback func(reason string, err error)
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature    float64 `json:"temperature,omitempty"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiNarrator(opts GeminiOptions) (*GeminiNarrator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticNarrator()
	}
	return &GeminiNarrator{
		apiKey:     opts.APIKey,
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   fallback,
		onFallback: opts.OnFallback,
	}, nil
}

func (g *GeminiNarrator) Narration(ctx context.Context, req NarrationRequest) (string, error) {
	text, reason, err := g.generate(ctx, buildNarrationPrompt(req))
	if err != nil {
		return g.fallbackNarration(ctx, req, reason, err)
	}
	// A draft below the minimum gets one regeneration. The longer of the two
	// drafts wins; a second short answer is accepted rather than looped on.
	if req.MinWords > 0 && WordCount(text) < req.MinWords {
		retry, _, retryErr := g.generate(ctx, buildNarrationPrompt(req))
		if retryErr == nil && WordCount(retry) > WordCount(text) {
			text = retry
		}
	}
	return ClampWords(text, req.MaxWords), nil
}

func (g *GeminiNarrator) ImagePrompt(ctx context.Context, req PromptRequest) (string, error) {
	text, reason, err := g.generate(ctx, buildImagePromptPrompt(req))
	if err != nil {
		return g.fallbackImagePrompt(ctx, req, reason, err)
	}
	return ClampWords(text, req.MaxWords), nil
}

func (g *GeminiNarrator) fallbackNarration(ctx context.Context, req NarrationRequest, reason string, cause error) (string, error) {
	if g.onFallback != nil {
		g.onFallback(reason, cause)
	}
	return g.fallback.Narration(ctx, req)
}

func (g *GeminiNarrator) fallbackImagePrompt(ctx context.Context, req PromptRequest, reason string, cause error) (string, error) {
	if g.onFallback != nil {
		g.onFallback(reason, cause)
	}
	return g.fallback.ImagePrompt(ctx, req)
}

// generate performs a single text completion. It returns the trimmed model
// output, or a short machine-readable reason alongside the error.
func (g *GeminiNarrator) generate(ctx context.Context, prompt string) (string, string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{Temperature: 0.7, CandidateCount: 1},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", "encode_request", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return "", "build_request", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", "http_request", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", "http_status", fmt.Errorf("gemini status %d", resp.StatusCode)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "decode_response", err
	}
	text := firstCandidateText(out)
	if text == "" {
		return "", "empty_candidate", errors.New("gemini returned no text")
	}
	return text, "", nil
}

func (g *GeminiNarrator) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func firstCandidateText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

func buildNarrationPrompt(req NarrationRequest) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write the narration for scene %d of %d in a short vertical video about %q.", req.Index+1, req.Total, req.Topic)
	fmt.Fprintf(sb, " Use between %d and %d words.", req.MinWords, req.MaxWords)
	if req.Locale != "" {
		fmt.Fprintf(sb, " Write in locale %q.", req.Locale)
	}
	sb.WriteString(" Respond with the narration text only, no headings and no quotes.")
	return sb.String()
}

func buildImagePromptPrompt(req PromptRequest) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write an image generation prompt depicting this narration: %q.", req.Narration)
	fmt.Fprintf(sb, " Use between %d and %d words.", req.MinWords, req.MaxWords)
	if req.Style != "" {
		fmt.Fprintf(sb, " Match this visual style: %s.", req.Style)
	}
	sb.WriteString(" Respond with the prompt text only.")
	return sb.String()
}

var _ Narrator = (*GeminiNarrator)(nil)
