package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/storage"
)

const defaultSynthesizeTimeout = 120 * time.Second

// WorkflowOptions configures the workflow-backed synthesizer.
type WorkflowOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	FFprobeBin string
	Logger     *infra.Logger
}

// WorkflowSynthesizer talks to a workflow-execution voice backend over HTTP.
// The backend accepts a workflow selector plus synthesis parameters and
// returns either a download URL or inline base64 audio. Audio duration is
// probed locally with ffprobe once the file is on disk.
type WorkflowSynthesizer struct {
	baseURL    string
	client     *http.Client
	ffprobeBin string
	logger     *infra.Logger
}

type synthesizeRequest struct {
	Text          string  `json:"text"`
	VoiceID       string  `json:"voice_id,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
	RefAudio      string  `json:"ref_audio,omitempty"`
	Workflow      string  `json:"workflow,omitempty"`
	InferenceMode string  `json:"inference_mode,omitempty"`
}

type synthesizeResponse struct {
	AudioURL  string  `json:"audio_url,omitempty"`
	AudioData string  `json:"audio_data,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func NewWorkflowSynthesizer(opts WorkflowOptions) (*WorkflowSynthesizer, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("tts: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSynthesizeTimeout}
	}
	ffprobe := opts.FFprobeBin
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &WorkflowSynthesizer{
		baseURL:    baseURL,
		client:     client,
		ffprobeBin: ffprobe,
		logger:     opts.Logger,
	}, nil
}

func (s *WorkflowSynthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: empty narration text", domain.ErrProviderFailure)
	}
	if req.OutputPath == "" {
		return nil, fmt.Errorf("%w: output path is required", domain.ErrProviderFailure)
	}

	payload := synthesizeRequest{
		Text:          req.Text,
		VoiceID:       req.VoiceID,
		Speed:         req.Speed,
		RefAudio:      req.RefAudio,
		Workflow:      req.Workflow,
		InferenceMode: req.InferenceMode,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/synthesize", &buf)
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: tts request: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: tts status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode tts response: %v", domain.ErrProviderFailure, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderFailure, out.Error)
	}

	switch {
	case out.AudioData != "":
		data, err := base64.StdEncoding.DecodeString(out.AudioData)
		if err != nil {
			return nil, fmt.Errorf("%w: decode inline audio: %v", domain.ErrProviderFailure, err)
		}
		if err := storage.CopyAtomic(req.OutputPath, bytes.NewReader(data)); err != nil {
			return nil, err
		}
	case out.AudioURL != "":
		if err := s.download(ctx, out.AudioURL, req.OutputPath); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: tts response carries neither audio_url nor audio_data", domain.ErrProviderFailure)
	}

	duration := out.Duration
	if duration <= 0 {
		duration, err = s.probeDuration(ctx, req.OutputPath)
		if err != nil {
			// A frame without timing cannot be composed; estimate rather
			// than fail when ffprobe is unavailable.
			duration = estimateDuration(req.Text, req.Speed)
			if s.logger != nil {
				s.logger.Warn().Err(err).Str("audio", req.OutputPath).
					Float64("estimate", duration).Msg("tts: ffprobe failed, estimating duration")
			}
		}
	}
	return &Result{AudioPath: req.OutputPath, Duration: duration}, nil
}

func (s *WorkflowSynthesizer) download(ctx context.Context, srcURL, dest string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("tts: build download request: %w", err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: download audio: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download audio status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	return storage.CopyAtomic(dest, resp.Body)
}

// probeDuration asks ffprobe for the audio length in seconds.
func (s *WorkflowSynthesizer) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, s.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("tts: ffprobe: %w", err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("tts: parse ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// estimateDuration approximates speech length at ~2.5 words per second,
// adjusted for playback speed.
func estimateDuration(text string, speed float64) float64 {
	words := len(strings.Fields(text))
	if speed <= 0 {
		speed = 1.0
	}
	return float64(words) / (2.5 * speed)
}

var _ Synthesizer = (*WorkflowSynthesizer)(nil)
