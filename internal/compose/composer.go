// Package compose applies a frame template over raw generated media,
// overlaying the title and narration text. Composition is a deterministic
// function of artifacts already on disk, which makes it the natural retry
// point for transient rendering failures.
package compose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

// Request carries everything needed to compose one frame.
type Request struct {
	Template   string
	Title      string
	Text       string
	MediaPath  string
	MediaType  storyboard.MediaType
	Duration   float64
	FPS        int
	Params     map[string]any
	OutputPath string
}

// Composer is the contract for frame template application.
type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
}

// FFmpegComposer renders templates with ffmpeg filters: scale/pad the media
// to the template's canvas and draw the title and narration over it.
type FFmpegComposer struct {
	manifest  *Manifest
	ffmpegBin string
	logger    infra.Logger
}

func NewFFmpegComposer(manifest *Manifest, ffmpegBin string, logger infra.Logger) *FFmpegComposer {
	if manifest == nil {
		manifest = DefaultManifest()
	}
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &FFmpegComposer{manifest: manifest, ffmpegBin: ffmpegBin, logger: logger}
}

func (c *FFmpegComposer) Compose(ctx context.Context, req Request) (string, error) {
	if req.MediaPath == "" {
		return "", fmt.Errorf("%w: media path is required", domain.ErrStageFailed)
	}
	if _, err := os.Stat(req.MediaPath); err != nil {
		return "", fmt.Errorf("%w: media artifact missing: %v", domain.ErrStageFailed, err)
	}
	if req.OutputPath == "" {
		return "", fmt.Errorf("%w: output path is required", domain.ErrStageFailed)
	}

	width, height, err := storyboard.ParseTemplateSize(req.Template)
	if err != nil {
		return "", err
	}
	spec := c.manifest.Spec(req.Template)
	spec = spec.withOverrides(req.Params)

	filter := c.buildFilter(width, height, spec, req)
	args := []string{"-y", "-i", req.MediaPath}
	if req.MediaType != storyboard.MediaTypeVideo {
		// Single still frame in, single composed still out.
		args = append(args, "-frames:v", "1")
	}
	args = append(args, "-vf", filter)
	if req.MediaType == storyboard.MediaTypeVideo {
		fps := req.FPS
		if fps <= 0 {
			fps = 30
		}
		args = append(args,
			"-r", fmt.Sprintf("%d", fps),
			"-c:v", "libx264",
			"-preset", "fast",
			"-pix_fmt", "yuv420p",
			"-an",
		)
	}
	args = append(args, req.OutputPath)

	cmd := exec.CommandContext(ctx, c.ffmpegBin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		c.logger.Error().Err(err).Str("media", req.MediaPath).Msg("compose: ffmpeg failed")
		return "", fmt.Errorf("%w: ffmpeg compose: %v: %s", domain.ErrStageFailed, err, tail(string(out)))
	}
	return req.OutputPath, nil
}

func (c *FFmpegComposer) buildFilter(width, height int, spec TemplateSpec, req Request) string {
	parts := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height),
		"setsar=1",
	}
	if title := displayTitle(req.Title); title != "" {
		parts = append(parts, drawText(title, spec.TitleSize, spec.TextColor, spec.BoxColor, spec.MarginPx))
	}
	if text := strings.TrimSpace(req.Text); text != "" {
		parts = append(parts, drawTextBottom(text, spec.FontSize, spec.TextColor, spec.BoxColor, spec.MarginPx))
	}
	return strings.Join(parts, ",")
}

func drawText(text string, size int, color, box string, margin int) string {
	return fmt.Sprintf("drawtext=text='%s':fontsize=%d:fontcolor=%s:box=1:boxcolor=%s:boxborderw=12:x=(w-text_w)/2:y=%d",
		escapeDrawText(text), size, color, box, margin)
}

func drawTextBottom(text string, size int, color, box string, margin int) string {
	return fmt.Sprintf("drawtext=text='%s':fontsize=%d:fontcolor=%s:box=1:boxcolor=%s:boxborderw=12:x=(w-text_w)/2:y=h-text_h-%d",
		escapeDrawText(text), size, color, box, margin)
}

// escapeDrawText escapes characters that break ffmpeg's drawtext argument.
func escapeDrawText(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(text)
}

// displayTitle normalizes a free-form title for on-frame display.
func displayTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	return cases.Title(language.Und, cases.NoLower).String(title)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 400 {
		return s
	}
	return "..." + s[len(s)-400:]
}

var _ Composer = (*FFmpegComposer)(nil)
