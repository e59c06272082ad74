// Package narration drafts spoken narration and visual prompts for storyboard
// frames through a language-model backend.
package narration

import (
	"context"
	"strings"
)

// NarrationRequest describes one frame's narration to be drafted.
type NarrationRequest struct {
	Topic    string
	Title    string
	Index    int
	Total    int
	MinWords int
	MaxWords int
	Locale   string
}

// PromptRequest asks for a visual prompt derived from finished narration.
type PromptRequest struct {
	Narration string
	Style     string
	MinWords  int
	MaxWords  int
}

// Narrator is the contract implemented by all narration providers.
type Narrator interface {
	Narration(ctx context.Context, req NarrationRequest) (string, error)
	ImagePrompt(ctx context.Context, req PromptRequest) (string, error)
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ClampWords truncates text at a word boundary so it carries at most max
// words. Non-positive max leaves the text untouched.
func ClampWords(text string, max int) string {
	if max <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= max {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:max], " ")
}
