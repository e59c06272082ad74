package storyboard

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/svjack/Pixelle-Video/internal/domain"
)

// MediaType selects which visual artifact a frame produces.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Config holds the generation parameters fixed at task creation. It is
// persisted inside storyboard.json and never mutated after validation.
type Config struct {
	TaskID              string         `json:"task_id"`
	NStoryboard         int            `json:"n_storyboard"`
	MinNarrationWords   int            `json:"min_narration_words"`
	MaxNarrationWords   int            `json:"max_narration_words"`
	MinImagePromptWords int            `json:"min_image_prompt_words"`
	MaxImagePromptWords int            `json:"max_image_prompt_words"`
	VideoFPS            int            `json:"video_fps"`
	TTSInferenceMode    string         `json:"tts_inference_mode"`
	VoiceID             string         `json:"voice_id,omitempty"`
	TTSWorkflow         string         `json:"tts_workflow,omitempty"`
	TTSSpeed            float64        `json:"tts_speed,omitempty"`
	RefAudio            string         `json:"ref_audio,omitempty"`
	ImageWidth          int            `json:"image_width"`
	ImageHeight         int            `json:"image_height"`
	ImageWorkflow       string         `json:"image_workflow,omitempty"`
	FrameTemplate       string         `json:"frame_template"`
	TemplateParams      map[string]any `json:"template_params,omitempty"`
}

// DefaultConfig returns the generation defaults used when the caller leaves a
// field unset.
func DefaultConfig() Config {
	return Config{
		NStoryboard:         5,
		MinNarrationWords:   5,
		MaxNarrationWords:   20,
		MinImagePromptWords: 30,
		MaxImagePromptWords: 60,
		VideoFPS:            30,
		TTSInferenceMode:    "local",
		TTSSpeed:            1.0,
		ImageWidth:          1024,
		ImageHeight:         1024,
		FrameTemplate:       "1080x1920/default.html",
	}
}

// Validate rejects invalid bound pairs and malformed sizes at construction
// time so that pipeline stages never see a bad config.
func (c Config) Validate() error {
	if c.NStoryboard <= 0 {
		return fmt.Errorf("%w: n_storyboard must be positive, got %d", domain.ErrInvalidConfig, c.NStoryboard)
	}
	if c.MinNarrationWords > c.MaxNarrationWords {
		return fmt.Errorf("%w: narration word bounds %d..%d", domain.ErrInvalidConfig, c.MinNarrationWords, c.MaxNarrationWords)
	}
	if c.MinImagePromptWords > c.MaxImagePromptWords {
		return fmt.Errorf("%w: image prompt word bounds %d..%d", domain.ErrInvalidConfig, c.MinImagePromptWords, c.MaxImagePromptWords)
	}
	if c.MinNarrationWords < 0 || c.MinImagePromptWords < 0 {
		return fmt.Errorf("%w: word bounds must not be negative", domain.ErrInvalidConfig)
	}
	if c.VideoFPS <= 0 {
		return fmt.Errorf("%w: video_fps must be positive, got %d", domain.ErrInvalidConfig, c.VideoFPS)
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return fmt.Errorf("%w: image dimensions %dx%d", domain.ErrInvalidConfig, c.ImageWidth, c.ImageHeight)
	}
	if c.TTSSpeed < 0 {
		return fmt.Errorf("%w: tts_speed must not be negative", domain.ErrInvalidConfig)
	}
	if _, _, err := ParseTemplateSize(c.FrameTemplate); err != nil {
		return err
	}
	return nil
}

// ParseTemplateSize extracts the output dimensions from a template path such
// as "1080x1920/default.html" or "templates/1920x1080/modern.html". The
// parent directory name carries the size.
func ParseTemplateSize(templatePath string) (width, height int, err error) {
	dir := path.Base(path.Dir(strings.ReplaceAll(templatePath, "\\", "/")))
	w, h, ok := splitSize(dir)
	if !ok {
		return 0, 0, fmt.Errorf("%w: template path %q does not carry a WIDTHxHEIGHT directory", domain.ErrInvalidConfig, templatePath)
	}
	if w < 100 || h < 100 || w > 10000 || h > 10000 {
		return 0, 0, fmt.Errorf("%w: template size %dx%d out of range", domain.ErrInvalidConfig, w, h)
	}
	return w, h, nil
}

func splitSize(s string) (int, int, bool) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return w, h, true
}

// Frame is one scene of the storyboard. Fields fill strictly left to right as
// the pipeline advances; a later field is never set while an earlier required
// one is empty.
type Frame struct {
	Index             int        `json:"index"`
	Narration         string     `json:"narration"`
	ImagePrompt       string     `json:"image_prompt"`
	AudioPath         string     `json:"audio_path,omitempty"`
	MediaType         MediaType  `json:"media_type,omitempty"`
	ImagePath         string     `json:"image_path,omitempty"`
	VideoPath         string     `json:"video_path,omitempty"`
	ComposedImagePath string     `json:"composed_image_path,omitempty"`
	VideoSegmentPath  string     `json:"video_segment_path,omitempty"`
	Duration          float64    `json:"duration"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
}

// MediaPath returns the raw visual artifact for the frame's media type.
func (f *Frame) MediaPath() string {
	if f.MediaType == MediaTypeVideo {
		return f.VideoPath
	}
	return f.ImagePath
}

// ComposedPath returns the template-composed artifact for the frame's media type.
func (f *Frame) ComposedPath() string {
	if f.MediaType == MediaTypeVideo {
		return f.VideoSegmentPath
	}
	return f.ComposedImagePath
}

// ContentMetadata is optional descriptive data about the source content. It
// is attached for display only and has no effect on generation.
type ContentMetadata struct {
	Title           string `json:"title"`
	Author          string `json:"author,omitempty"`
	Subtitle        string `json:"subtitle,omitempty"`
	Genre           string `json:"genre,omitempty"`
	Summary         string `json:"summary,omitempty"`
	PublicationYear int    `json:"publication_year,omitempty"`
	CoverURL        string `json:"cover_url,omitempty"`
}

// Storyboard is the full generation plan and accumulated artifacts for one task.
type Storyboard struct {
	Title           string           `json:"title"`
	Config          Config           `json:"config"`
	Frames          []Frame          `json:"frames"`
	ContentMetadata *ContentMetadata `json:"content_metadata,omitempty"`
	FinalVideoPath  string           `json:"final_video_path,omitempty"`
	TotalDuration   float64          `json:"total_duration"`
	CreatedAt       *time.Time       `json:"created_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// New builds a storyboard with n empty frames in playback order. Frame
// indices are zero based and contiguous.
func New(title string, cfg Config) (*Storyboard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Second)
	frames := make([]Frame, cfg.NStoryboard)
	for i := range frames {
		created := now
		frames[i] = Frame{Index: i, CreatedAt: &created}
	}
	return &Storyboard{
		Title:     title,
		Config:    cfg,
		Frames:    frames,
		CreatedAt: &now,
	}, nil
}

// Validate checks the frame ordering invariant: indices are contiguous from
// zero with no gaps.
func (s *Storyboard) Validate() error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	for i := range s.Frames {
		if s.Frames[i].Index != i {
			return fmt.Errorf("%w: frame %d carries index %d", domain.ErrInvalidConfig, i, s.Frames[i].Index)
		}
	}
	return nil
}
