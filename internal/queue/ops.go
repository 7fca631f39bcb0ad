package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"shortsai-batch/internal/model"
)

// The functions in this file are pure: each takes the current queue and
// returns the next one without touching the input.

const untitledProject = "Untitled project"

func NewJobID(projectID string, createdAt time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", projectID, createdAt.UnixMilli(), suffix)
}

func projectTitle(p model.Project) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(p.Topic); t != "" {
		return t
	}
	return untitledProject
}

// Enqueue appends one pending job per project, all sharing a snapshot of cfg.
func Enqueue(q model.Queue, projects []model.Project, cfg model.RenderConfig, now time.Time) (model.Queue, int) {
	next := q.Clone()
	cfg = cfg.Normalize()
	for _, p := range projects {
		jobCfg := cfg
		if cfg.BgMusicVolume != nil {
			v := *cfg.BgMusicVolume
			jobCfg.BgMusicVolume = &v
		}
		next.Jobs = append(next.Jobs, model.Job{
			ID:           NewJobID(p.ID, now),
			ProjectID:    p.ID,
			ProjectTitle: projectTitle(p),
			ThumbnailURL: p.ThumbnailURL,
			Config:       jobCfg,
			Status:       model.StatusPending,
			CreatedAt:    now,
		})
	}
	return next, len(projects)
}

func Remove(q model.Queue, jobID string) model.Queue {
	idx := q.IndexOf(jobID)
	if idx < 0 {
		return q
	}
	if q.Jobs[idx].Status == model.StatusRendering {
		return q
	}

	next := q.Clone()
	next.Jobs = append(next.Jobs[:idx], next.Jobs[idx+1:]...)
	switch {
	case idx == q.CurrentJobIndex:
		next.CurrentJobIndex = -1
	case idx < q.CurrentJobIndex:
		next.CurrentJobIndex--
	}
	return next
}

func ClearCompleted(q model.Queue) model.Queue {
	next := q.Clone()
	kept := make([]model.Job, 0, len(next.Jobs))
	for _, j := range next.Jobs {
		if j.IsDone() {
			continue
		}
		kept = append(kept, j)
	}
	next.Jobs = kept
	next.CurrentJobIndex = -1
	return next
}

func ClearAll() model.Queue {
	return model.EmptyQueue()
}

func Start(q model.Queue) model.Queue {
	if len(q.Jobs) == 0 {
		return q
	}
	next := q.Clone()
	if cur, ok := next.CurrentJob(); !ok || cur.IsDone() {
		idx := firstPendingFrom(next, 0)
		if idx < 0 {
			return q
		}
		next.CurrentJobIndex = idx
	}
	next.IsActive = true
	next.IsPaused = false
	return next
}

func Stop(q model.Queue) model.Queue {
	next := q.Clone()
	next.IsActive = false
	next.IsPaused = false
	return next
}

func Pause(q model.Queue) model.Queue {
	next := q.Clone()
	next.IsPaused = true
	return next
}

func Resume(q model.Queue) model.Queue {
	next := q.Clone()
	next.IsPaused = false
	next.IsActive = true
	return next
}

func MarkRendering(q model.Queue, jobID string) model.Queue {
	return updateJob(q, jobID, func(j *model.Job) {
		if model.TransitionJobStatus(j, model.StatusRendering) == nil {
			j.Progress = 0
			j.Error = ""
		}
	})
}

func UpdateProgress(q model.Queue, jobID string, percent int) model.Queue {
	return updateJob(q, jobID, func(j *model.Job) {
		j.Progress = min(max(percent, 0), 100)
	})
}

func SetPhase(q model.Queue, jobID, phase, message string) model.Queue {
	return updateJob(q, jobID, func(j *model.Job) {
		j.Phase = phase
		j.Message = message
	})
}

func AttachLocalPath(q model.Queue, jobID, path string) model.Queue {
	return updateJob(q, jobID, func(j *model.Job) {
		j.LocalPath = path
	})
}

// Complete marks the job completed and advances the current pointer. The
// returned bool reports whether no further job remains to run.
func Complete(q model.Queue, jobID, downloadURL string, now time.Time) (model.Queue, bool) {
	return finish(q, jobID, now, func(j *model.Job) {
		j.Status = model.StatusCompleted
		j.Progress = 100
		j.DownloadURL = downloadURL
		j.Error = ""
	})
}

func Fail(q model.Queue, jobID, errorMessage string, now time.Time) (model.Queue, bool) {
	return finish(q, jobID, now, func(j *model.Job) {
		j.Status = model.StatusFailed
		j.Error = errorMessage
	})
}

func finish(q model.Queue, jobID string, now time.Time, apply func(*model.Job)) (model.Queue, bool) {
	idx := q.IndexOf(jobID)
	if idx < 0 || q.Jobs[idx].IsDone() {
		return q, false
	}

	next := q.Clone()
	job := &next.Jobs[idx]
	apply(job)
	completedAt := now
	job.CompletedAt = &completedAt

	nextIdx := firstPendingFrom(next, idx+1)
	if nextIdx >= 0 {
		next.CurrentJobIndex = nextIdx
		next.IsActive = q.IsActive && !q.IsPaused
		return next, false
	}
	next.CurrentJobIndex = -1
	next.IsActive = false
	return next, true
}

func firstPendingFrom(q model.Queue, start int) int {
	for i := start; i < len(q.Jobs); i++ {
		if q.Jobs[i].Status == model.StatusPending {
			return i
		}
	}
	return -1
}

func updateJob(q model.Queue, jobID string, apply func(*model.Job)) model.Queue {
	idx := q.IndexOf(jobID)
	if idx < 0 {
		return q
	}
	next := q.Clone()
	apply(&next.Jobs[idx])
	return next
}

// ResetStaleRendering returns rendering jobs to pending. No render call
// survives a process restart, so a rehydrated rendering job is orphaned.
func ResetStaleRendering(q model.Queue) (model.Queue, int) {
	next := q.Clone()
	reset := 0
	for i := range next.Jobs {
		if next.Jobs[i].Status != model.StatusRendering {
			continue
		}
		_ = model.TransitionJobStatus(&next.Jobs[i], model.StatusPending)
		next.Jobs[i].Progress = 0
		next.Jobs[i].Phase = ""
		next.Jobs[i].Message = "previous session interrupted while this job was rendering"
		reset++
	}
	return next, reset
}

// Sanitize repairs a rehydrated queue so the index invariant holds.
func Sanitize(q model.Queue) model.Queue {
	next := q.Clone()
	if next.Jobs == nil {
		next.Jobs = []model.Job{}
	}
	if next.CurrentJobIndex < -1 || next.CurrentJobIndex >= len(next.Jobs) {
		next.CurrentJobIndex = -1
	}
	return next
}
