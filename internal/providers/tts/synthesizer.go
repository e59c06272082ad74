// Package tts invokes an external voice-synthesis backend and materializes
// the produced audio next to the task's other frame artifacts.
package tts

import "context"

// Request carries one narration to synthesize. OutputPath is the destination
// the audio file must end up at.
type Request struct {
	Text          string
	VoiceID       string
	Speed         float64
	RefAudio      string
	Workflow      string
	InferenceMode string
	OutputPath    string
}

// Result reports where the audio landed and how long it plays.
type Result struct {
	AudioPath string
	Duration  float64
}

// Synthesizer is the contract implemented by all voice-synthesis providers.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
