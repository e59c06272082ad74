package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from one status to another.
// Terminal states accept no outgoing transitions.
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to.IsTerminal()
	}
	return false
}

// TaskResult summarizes a completed generation run.
type TaskResult struct {
	FinalVideoPath string  `json:"final_video_path"`
	TotalDuration  float64 `json:"total_duration"`
	FrameCount     int     `json:"frame_count"`
}

// TaskMetadata is the durable record describing one generation task. The
// input payload is carried through opaquely; the store never interprets it.
type TaskMetadata struct {
	TaskID      string          `json:"task_id"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      TaskStatus      `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Result      *TaskResult     `json:"result,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Error       string          `json:"error,omitempty"`
}
