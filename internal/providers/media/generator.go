// Package media invokes an external image/video generation backend for
// storyboard frames.
package media

import (
	"context"

	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

// GenerateRequest describes one frame's visual to produce. OutputPath is the
// destination the generated file must end up at.
type GenerateRequest struct {
	Prompt     string
	MediaType  storyboard.MediaType
	Width      int
	Height     int
	Workflow   string
	OutputPath string
}

// Generator is the contract implemented by all media providers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
