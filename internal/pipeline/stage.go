// Package pipeline advances storyboard frames through their generation
// stages. A frame's position in the pipeline is never stored; it is derived
// from which artifact fields are already filled, so a restarted run resumes
// exactly where the persisted storyboard left off.
package pipeline

import "github.com/svjack/Pixelle-Video/internal/storyboard"

// Stage identifies one step of the per-frame state machine.
type Stage string

const (
	StageNarration Stage = "narration"
	StagePrompt    Stage = "prompt"
	StageAudio     Stage = "audio"
	StageMedia     Stage = "media"
	StageCompose   Stage = "compose"
	StageDone      Stage = "done"

	// StageAssemble is reported during final video assembly. It is a task
	// level step, so StageOf never returns it.
	StageAssemble Stage = "assemble"
)

// StageOf derives the next pending stage from the frame's filled fields.
// Fields fill strictly in stage order, so the first empty one names the
// stage to run.
func StageOf(f *storyboard.Frame) Stage {
	switch {
	case f.Narration == "":
		return StageNarration
	case f.ImagePrompt == "":
		return StagePrompt
	case f.AudioPath == "":
		return StageAudio
	case f.MediaPath() == "":
		return StageMedia
	case f.ComposedPath() == "":
		return StageCompose
	}
	return StageDone
}
