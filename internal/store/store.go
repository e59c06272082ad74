// Package store implements durable, crash-safe persistence of task metadata
// and storyboards on the local filesystem. Each task owns one directory:
//
//	<root>/<task_id>/
//	  metadata.json
//	  storyboard.json
//	  final.mp4
//	  frames/
//	    01_audio.mp3
//	    01_image.png | 01_video.mp4
//	    ...
//
// Every document write is atomic with respect to readers. The store holds
// serialized snapshots only; each load returns a fresh copy.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/storage"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

const (
	metadataFile   = "metadata.json"
	storyboardFile = "storyboard.json"
	framesDirName  = "frames"
	finalVideoFile = "final.mp4"
)

// TaskStore persists tasks below a configured root directory. It does not
// serialize concurrent writers to the same task; upholding at-most-one writer
// per task is the orchestrator's responsibility.
type TaskStore struct {
	root   string
	logger zerolog.Logger
}

// NewTaskStore creates the root directory if needed and returns a store.
func NewTaskStore(root string, logger zerolog.Logger) (*TaskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("store: root directory is required")
	}
	if err := storage.EnsureDir(root); err != nil {
		return nil, err
	}
	return &TaskStore{root: root, logger: logger}, nil
}

// Root returns the store's root directory.
func (s *TaskStore) Root() string { return s.root }

// TaskDir returns the directory owned by a task.
func (s *TaskStore) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// FramesDir returns the directory holding a task's frame artifacts.
func (s *TaskStore) FramesDir(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), framesDirName)
}

// FinalVideoPath returns the canonical location of a task's assembled video.
func (s *TaskStore) FinalVideoPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), finalVideoFile)
}

func (s *TaskStore) metadataPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), metadataFile)
}

func (s *TaskStore) storyboardPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), storyboardFile)
}

// SaveTaskMetadata writes the metadata document atomically, creating the task
// directory if absent. The record's task_id is normalized to the storage key
// and timestamps are normalized to whole-second UTC so their textual form is
// fixed width.
func (s *TaskStore) SaveTaskMetadata(ctx context.Context, taskID string, meta *domain.TaskMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("store: metadata is required")
	}
	meta.TaskID = taskID
	meta.CreatedAt = canonicalTime(meta.CreatedAt)
	if meta.CompletedAt != nil {
		t := canonicalTime(*meta.CompletedAt)
		meta.CompletedAt = &t
	}
	return s.writeJSON(s.metadataPath(taskID), meta)
}

// LoadTaskMetadata returns a fresh copy of the task's metadata record.
// A missing document yields domain.ErrTaskNotFound; an existing but
// unreadable document yields domain.ErrCorruptRecord.
func (s *TaskStore) LoadTaskMetadata(ctx context.Context, taskID string) (*domain.TaskMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.metadataPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: metadata for %s: %w", taskID, domain.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("store: read metadata for %s: %w: %v", taskID, domain.ErrCorruptRecord, err)
	}
	var meta domain.TaskMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("store: decode metadata for %s: %w: %v", taskID, domain.ErrCorruptRecord, err)
	}
	// Never trust a mismatched id from disk.
	meta.TaskID = taskID
	return &meta, nil
}

// UpdateTaskStatus loads the metadata record, applies the status transition
// and re-saves it. Updating a missing task is a warning, not an error, since
// status updates may race with deletion. Transitions out of a terminal state
// are ignored; completed_at is set exactly once.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidConfig, status)
	}
	meta, err := s.LoadTaskMetadata(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			s.logger.Warn().Str("task_id", taskID).Str("status", string(status)).Msg("store: cannot update status, task not found")
			return nil
		}
		return err
	}
	if meta.Status == status {
		// Idempotent repeat of the same status. Keep completed_at stable.
		if errMsg != "" {
			meta.Error = errMsg
		}
		return s.SaveTaskMetadata(ctx, taskID, meta)
	}
	if !domain.CanTransition(meta.Status, status) {
		s.logger.Warn().
			Str("task_id", taskID).
			Str("from", string(meta.Status)).
			Str("to", string(status)).
			Msg("store: ignoring invalid status transition")
		return nil
	}
	meta.Status = status
	if status.IsTerminal() && meta.CompletedAt == nil {
		now := canonicalTime(time.Now())
		meta.CompletedAt = &now
	}
	if errMsg != "" {
		meta.Error = errMsg
	}
	return s.SaveTaskMetadata(ctx, taskID, meta)
}

// SaveStoryboard writes the storyboard document atomically.
func (s *TaskStore) SaveStoryboard(ctx context.Context, taskID string, sb *storyboard.Storyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sb == nil {
		return fmt.Errorf("store: storyboard is required")
	}
	return s.writeJSON(s.storyboardPath(taskID), sb)
}

// LoadStoryboard returns a fresh copy of the task's storyboard. Absence and
// corruption are distinguished the same way as for metadata.
func (s *TaskStore) LoadStoryboard(ctx context.Context, taskID string) (*storyboard.Storyboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.storyboardPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: storyboard for %s: %w", taskID, domain.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("store: read storyboard for %s: %w: %v", taskID, domain.ErrCorruptRecord, err)
	}
	var sb storyboard.Storyboard
	if err := json.Unmarshal(data, &sb); err != nil {
		return nil, fmt.Errorf("store: decode storyboard for %s: %w: %v", taskID, domain.ErrCorruptRecord, err)
	}
	return &sb, nil
}

// ListTasks scans all task directories and returns their metadata records,
// optionally filtered by status, sorted by created_at descending, then
// paginated. A corrupt record is skipped with a warning and never aborts the
// listing.
func (s *TaskStore) ListTasks(ctx context.Context, status domain.TaskStatus, limit, offset int) ([]*domain.TaskMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read root: %w", err)
	}
	tasks := make([]*domain.TaskMetadata, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.LoadTaskMetadata(ctx, e.Name())
		if err != nil {
			if !errors.Is(err, domain.ErrTaskNotFound) {
				s.logger.Warn().Str("task_id", e.Name()).Err(err).Msg("store: skipping unreadable task")
			}
			continue
		}
		if status != "" && meta.Status != status {
			continue
		}
		tasks = append(tasks, meta)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].TaskID > tasks[j].TaskID
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(tasks) {
		return nil, nil
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// TaskExists reports whether the task's directory exists, without parsing.
func (s *TaskStore) TaskExists(taskID string) bool {
	info, err := os.Stat(s.TaskDir(taskID))
	return err == nil && info.IsDir()
}

// DeleteTask removes the task's entire directory tree. Removal failures are
// propagated; deleting an absent task succeeds silently.
func (s *TaskStore) DeleteTask(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.TaskDir(taskID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: stat task dir: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("store: delete task %s: %w", taskID, err)
	}
	s.logger.Info().Str("task_id", taskID).Msg("store: deleted task")
	return nil
}

func (s *TaskStore) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := storage.CopyAtomic(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return nil
}

// canonicalTime normalizes timestamps to whole-second UTC so that their
// RFC 3339 form is fixed width and lexicographically ordered.
func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
