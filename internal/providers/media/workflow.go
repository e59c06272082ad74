package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/storage"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

const defaultGenerateTimeout = 300 * time.Second

// WorkflowOptions configures the workflow-backed media generator.
type WorkflowOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// WorkflowGenerator talks to a workflow-execution diffusion backend over
// HTTP. The backend accepts a workflow selector plus prompt and dimensions
// and returns either a download URL or inline base64 media.
type WorkflowGenerator struct {
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	MediaType string `json:"media_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Workflow  string `json:"workflow,omitempty"`
}

type generateResponse struct {
	MediaURL  string `json:"media_url,omitempty"`
	MediaData string `json:"media_data,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewWorkflowGenerator(opts WorkflowOptions) (*WorkflowGenerator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("media: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultGenerateTimeout}
	}
	return &WorkflowGenerator{baseURL: baseURL, client: client, logger: opts.Logger}, nil
}

func (g *WorkflowGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: empty media prompt", domain.ErrProviderFailure)
	}
	if req.OutputPath == "" {
		return "", fmt.Errorf("%w: output path is required", domain.ErrProviderFailure)
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = storyboard.MediaTypeImage
	}

	payload := generateRequest{
		Prompt:    req.Prompt,
		MediaType: string(mediaType),
		Width:     req.Width,
		Height:    req.Height,
		Workflow:  req.Workflow,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("media: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", &buf)
	if err != nil {
		return "", fmt.Errorf("media: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: media request: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: media status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode media response: %v", domain.ErrProviderFailure, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrProviderFailure, out.Error)
	}

	switch {
	case out.MediaData != "":
		data, err := base64.StdEncoding.DecodeString(out.MediaData)
		if err != nil {
			return "", fmt.Errorf("%w: decode inline media: %v", domain.ErrProviderFailure, err)
		}
		if err := storage.CopyAtomic(req.OutputPath, bytes.NewReader(data)); err != nil {
			return "", err
		}
	case out.MediaURL != "":
		if err := g.download(ctx, out.MediaURL, req.OutputPath); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: media response carries neither media_url nor media_data", domain.ErrProviderFailure)
	}
	return req.OutputPath, nil
}

func (g *WorkflowGenerator) download(ctx context.Context, srcURL, dest string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("media: build download request: %w", err)
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: download media: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download media status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	return storage.CopyAtomic(dest, resp.Body)
}

var _ Generator = (*WorkflowGenerator)(nil)
