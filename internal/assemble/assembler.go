// Package assemble stitches composed frame artifacts into the final video.
// Every frame contributes one mp4 segment; segments are concatenated in index
// order and an optional background music track is mixed under the narration.
package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

// Request names the inputs of one assembly.
type Request struct {
	Storyboard *storyboard.Storyboard
	WorkDir    string
	OutputPath string
	BGMPath    string
}

// Result reports the finished video and its playback length.
type Result struct {
	FinalVideoPath string
	TotalDuration  float64
}

// Assembler is the contract for final video assembly.
type Assembler interface {
	Assemble(ctx context.Context, req Request) (*Result, error)
}

// FFmpegAssembler shells out to ffmpeg. Image frames become still segments of
// the narration's length; video frames are muxed with their narration track.
type FFmpegAssembler struct {
	ffmpegBin string
	logger    infra.Logger
}

func NewFFmpegAssembler(ffmpegBin string, logger infra.Logger) *FFmpegAssembler {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &FFmpegAssembler{ffmpegBin: ffmpegBin, logger: logger}
}

func (a *FFmpegAssembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	sb := req.Storyboard
	if sb == nil || len(sb.Frames) == 0 {
		return nil, fmt.Errorf("%w: nothing to assemble", domain.ErrStageFailed)
	}
	if req.OutputPath == "" {
		return nil, fmt.Errorf("%w: output path is required", domain.ErrStageFailed)
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(req.OutputPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("assemble: ensure work dir: %w", err)
	}

	var total float64
	segments := make([]string, 0, len(sb.Frames))
	for i := range sb.Frames {
		frame := &sb.Frames[i]
		seg, err := a.encodeSegment(ctx, workDir, frame, sb.Config.VideoFPS)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
		}
		segments = append(segments, seg)
		total += frame.Duration
	}

	concatOut := req.OutputPath
	if req.BGMPath != "" {
		concatOut = filepath.Join(workDir, "concat.mp4")
	}
	if err := a.concat(ctx, workDir, segments, concatOut); err != nil {
		return nil, err
	}
	if req.BGMPath != "" {
		if err := a.mixBGM(ctx, concatOut, req.BGMPath, req.OutputPath); err != nil {
			return nil, err
		}
		_ = os.Remove(concatOut)
	}
	return &Result{FinalVideoPath: req.OutputPath, TotalDuration: total}, nil
}

// encodeSegment turns one frame's composed artifact plus its narration audio
// into a self-contained mp4 segment.
func (a *FFmpegAssembler) encodeSegment(ctx context.Context, workDir string, frame *storyboard.Frame, fps int) (string, error) {
	composed := frame.ComposedPath()
	if composed == "" {
		return "", fmt.Errorf("%w: frame not composed", domain.ErrStageFailed)
	}
	if frame.AudioPath == "" {
		return "", fmt.Errorf("%w: frame carries no audio", domain.ErrStageFailed)
	}
	if frame.Duration <= 0 {
		return "", fmt.Errorf("%w: frame carries no duration", domain.ErrStageFailed)
	}
	if fps <= 0 {
		fps = 30
	}
	out := filepath.Join(workDir, fmt.Sprintf("%02d_segment_final.mp4", frame.Index+1))

	var args []string
	if frame.MediaType == storyboard.MediaTypeVideo {
		args = []string{
			"-y",
			"-i", composed,
			"-i", frame.AudioPath,
			"-map", "0:v:0", "-map", "1:a:0",
			"-c:v", "copy",
			"-c:a", "aac",
			"-shortest",
			out,
		}
	} else {
		args = []string{
			"-y",
			"-loop", "1",
			"-i", composed,
			"-i", frame.AudioPath,
			"-t", fmt.Sprintf("%.3f", frame.Duration),
			"-r", fmt.Sprintf("%d", fps),
			"-c:v", "libx264",
			"-preset", "fast",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-shortest",
			out,
		}
	}
	if err := a.run(ctx, args); err != nil {
		return "", err
	}
	return out, nil
}

// concat joins the segments with ffmpeg's concat demuxer, which avoids a full
// re-encode since every segment shares one encoding profile.
func (a *FFmpegAssembler) concat(ctx context.Context, workDir string, segments []string, out string) error {
	listPath := filepath.Join(workDir, "concat.txt")
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(seg, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("assemble: write concat list: %w", err)
	}
	defer func() {
		_ = os.Remove(listPath)
	}()
	return a.run(ctx, []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		out,
	})
}

// mixBGM loops background music under the narration at reduced volume.
func (a *FFmpegAssembler) mixBGM(ctx context.Context, video, bgm, out string) error {
	return a.run(ctx, []string{
		"-y",
		"-i", video,
		"-stream_loop", "-1",
		"-i", bgm,
		"-filter_complex", "[1:a]volume=0.2[bg];[0:a][bg]amix=inputs=2:duration=first:dropout_transition=2[a]",
		"-map", "0:v:0", "-map", "[a]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		out,
	})
}

func (a *FFmpegAssembler) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, a.ffmpegBin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		a.logger.Error().Err(err).Strs("args", args).Msg("assemble: ffmpeg failed")
		return fmt.Errorf("%w: ffmpeg: %v: %s", domain.ErrStageFailed, err, tail(string(out)))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 400 {
		return s
	}
	return "..." + s[len(s)-400:]
}

var _ Assembler = (*FFmpegAssembler)(nil)
