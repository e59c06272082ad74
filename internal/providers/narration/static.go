package narration

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StaticNarrator produces deterministic narration without calling an external
// model. It backs development, tests and the fallback path when the language
// model is unavailable.
type StaticNarrator struct{}

func NewStaticNarrator() *StaticNarrator {
	return &StaticNarrator{}
}

func (s *StaticNarrator) Narration(ctx context.Context, req NarrationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = strings.TrimSpace(req.Title)
	}
	if topic == "" {
		topic = "this story"
	}
	c := cases.Title(language.Und)
	text := fmt.Sprintf("Scene %d of %d explores %s and what it means for %s.",
		req.Index+1, req.Total, topic, c.String(topic))
	return ClampWords(text, req.MaxWords), nil
}

func (s *StaticNarrator) ImagePrompt(ctx context.Context, req PromptRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = "cinematic, soft light, high detail"
	}
	text := fmt.Sprintf("An illustration of: %s. Style: %s.", strings.TrimSpace(req.Narration), style)
	return ClampWords(text, req.MaxWords), nil
}

var _ Narrator = (*StaticNarrator)(nil)
