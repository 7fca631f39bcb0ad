package queue

import (
	"strings"
	"testing"
	"time"

	"shortsai-batch/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func projects(ids ...string) []model.Project {
	out := make([]model.Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Project{ID: id, Title: "Project " + id})
	}
	return out
}

func queueOf(statuses ...string) model.Queue {
	q := model.EmptyQueue()
	for i, st := range statuses {
		q.Jobs = append(q.Jobs, model.Job{ID: string(rune('a' + i)), ProjectID: "p", Status: st})
	}
	return q
}

func TestEnqueue_AddsPendingJobsWithUniqueIDs(t *testing.T) {
	q, n := Enqueue(model.EmptyQueue(), projects("p1", "p1", "p2"), model.RenderConfig{}, testNow)
	if n != 3 || len(q.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got n=%d len=%d", n, len(q.Jobs))
	}
	seen := map[string]bool{}
	for _, j := range q.Jobs {
		if j.Status != model.StatusPending || j.Progress != 0 {
			t.Fatalf("expected pending job at 0%%, got %+v", j)
		}
		if seen[j.ID] {
			t.Fatalf("duplicate job id %s", j.ID)
		}
		seen[j.ID] = true
		if !strings.HasPrefix(j.ID, j.ProjectID+"-") {
			t.Fatalf("expected id to start with project id, got %s", j.ID)
		}
		if j.Config.FPS != model.FPS30 || j.Config.Resolution != model.Resolution1080p {
			t.Fatalf("expected normalized config, got %+v", j.Config)
		}
	}
	if q.CurrentJobIndex != -1 || q.IsActive {
		t.Fatalf("expected enqueue to leave index and flags alone, got %+v", q)
	}
}

func TestEnqueue_TitleFallback(t *testing.T) {
	in := []model.Project{
		{ID: "a", Title: "Title"},
		{ID: "b", Topic: "Topic"},
		{ID: "c"},
	}
	q, _ := Enqueue(model.EmptyQueue(), in, model.RenderConfig{}, testNow)
	want := []string{"Title", "Topic", "Untitled project"}
	for i, w := range want {
		if q.Jobs[i].ProjectTitle != w {
			t.Fatalf("job %d: expected title %q, got %q", i, w, q.Jobs[i].ProjectTitle)
		}
	}
}

func TestEnqueue_JobsDoNotShareVolumePointer(t *testing.T) {
	vol := 80
	cfg := model.RenderConfig{BgMusicFile: "music.mp3", BgMusicVolume: &vol}
	q, _ := Enqueue(model.EmptyQueue(), projects("a", "b"), cfg, testNow)
	*q.Jobs[0].Config.BgMusicVolume = 10
	if q.Jobs[1].Config.Volume() != 80 {
		t.Fatalf("expected job configs to be independent, got %d", q.Jobs[1].Config.Volume())
	}
	if vol != 80 {
		t.Fatalf("expected caller config untouched, got %d", vol)
	}
}

func TestRemove_CurrentRenderingJobIsNoop(t *testing.T) {
	q := queueOf(model.StatusRendering, model.StatusPending)
	q.CurrentJobIndex = 0
	next := Remove(q, "a")
	if len(next.Jobs) != 2 || next.CurrentJobIndex != 0 {
		t.Fatalf("expected rendering job to stay, got %+v", next)
	}
}

func TestRemove_AdjustsCurrentIndex(t *testing.T) {
	q := queueOf(model.StatusCompleted, model.StatusPending, model.StatusPending)
	q.CurrentJobIndex = 1

	next := Remove(q, "a")
	if len(next.Jobs) != 2 || next.CurrentJobIndex != 0 {
		t.Fatalf("expected index shift to 0, got %+v", next)
	}

	next = Remove(q, "b")
	if next.CurrentJobIndex != -1 {
		t.Fatalf("expected removed current job to reset index, got %d", next.CurrentJobIndex)
	}

	next = Remove(q, "c")
	if next.CurrentJobIndex != 1 {
		t.Fatalf("expected later removal to keep index, got %d", next.CurrentJobIndex)
	}
	if len(q.Jobs) != 3 {
		t.Fatalf("expected input queue untouched, got %d jobs", len(q.Jobs))
	}
}

func TestRemove_UnknownIDIsNoop(t *testing.T) {
	q := queueOf(model.StatusPending)
	next := Remove(q, "missing")
	if len(next.Jobs) != 1 {
		t.Fatalf("expected no change, got %+v", next)
	}
}

func TestClearCompleted_KeepsOpenJobsAndResetsIndex(t *testing.T) {
	q := queueOf(model.StatusCompleted, model.StatusFailed, model.StatusPending, model.StatusRendering)
	q.CurrentJobIndex = 3
	next := ClearCompleted(q)
	if len(next.Jobs) != 2 {
		t.Fatalf("expected 2 jobs left, got %d", len(next.Jobs))
	}
	for _, j := range next.Jobs {
		if j.IsDone() {
			t.Fatalf("expected no finished jobs, got %+v", j)
		}
	}
	if next.CurrentJobIndex != -1 {
		t.Fatalf("expected index -1, got %d", next.CurrentJobIndex)
	}
}

func TestStart_EmptyQueueStaysInactive(t *testing.T) {
	next := Start(model.EmptyQueue())
	if next.IsActive {
		t.Fatalf("expected empty queue to stay inactive")
	}
}

func TestStart_PicksFirstPendingJob(t *testing.T) {
	q := queueOf(model.StatusCompleted, model.StatusPending)
	next := Start(q)
	if !next.IsActive || next.IsPaused || next.CurrentJobIndex != 1 {
		t.Fatalf("expected active at index 1, got %+v", next)
	}

	q = queueOf(model.StatusPending, model.StatusPending)
	q.CurrentJobIndex = 1
	next = Start(q)
	if next.CurrentJobIndex != 1 {
		t.Fatalf("expected start to keep a valid pending position, got %d", next.CurrentJobIndex)
	}
}

func TestPauseResumeStop(t *testing.T) {
	q := Start(queueOf(model.StatusPending))
	q = Pause(q)
	if !q.IsActive || !q.IsPaused {
		t.Fatalf("expected active and paused, got %+v", q)
	}
	q = Resume(q)
	if !q.IsActive || q.IsPaused {
		t.Fatalf("expected active and not paused, got %+v", q)
	}
	q = Stop(Pause(q))
	if q.IsActive || q.IsPaused || q.CurrentJobIndex != 0 {
		t.Fatalf("expected stopped with index kept, got %+v", q)
	}
}

func TestUpdateProgress_Clamps(t *testing.T) {
	q := queueOf(model.StatusRendering)
	if got := UpdateProgress(q, "a", 140).Jobs[0].Progress; got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := UpdateProgress(q, "a", -3).Jobs[0].Progress; got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestComplete_AdvancesToNextJob(t *testing.T) {
	q := Start(queueOf(model.StatusPending, model.StatusPending))
	q = MarkRendering(q, "a")
	next, finished := Complete(q, "a", "https://x/video.mp4", testNow)
	if finished {
		t.Fatalf("expected queue not finished")
	}
	job := next.Jobs[0]
	if job.Status != model.StatusCompleted || job.Progress != 100 || job.DownloadURL != "https://x/video.mp4" {
		t.Fatalf("unexpected completed job: %+v", job)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(testNow) {
		t.Fatalf("expected completedAt set, got %v", job.CompletedAt)
	}
	if next.CurrentJobIndex != 1 || !next.IsActive {
		t.Fatalf("expected active at index 1, got %+v", next)
	}
}

func TestComplete_LastJobFinishesQueue(t *testing.T) {
	q := Start(queueOf(model.StatusPending))
	q = MarkRendering(q, "a")
	next, finished := Complete(q, "a", "u", testNow)
	if !finished {
		t.Fatalf("expected queue finished")
	}
	if next.CurrentJobIndex != -1 || next.IsActive {
		t.Fatalf("expected index -1 and inactive, got %+v", next)
	}
}

func TestComplete_WhilePausedOrStoppedDoesNotActivate(t *testing.T) {
	q := Pause(Start(queueOf(model.StatusPending, model.StatusPending)))
	q = MarkRendering(q, "a")
	next, _ := Complete(q, "a", "u", testNow)
	if next.IsActive || !next.IsPaused || next.CurrentJobIndex != 1 {
		t.Fatalf("expected paused queue parked on next job, got %+v", next)
	}

	q = Stop(MarkRendering(Start(queueOf(model.StatusPending, model.StatusPending)), "a"))
	next, _ = Complete(q, "a", "u", testNow)
	if next.IsActive {
		t.Fatalf("expected stopped queue to stay stopped, got %+v", next)
	}
}

func TestFail_RecordsErrorAndAdvances(t *testing.T) {
	q := MarkRendering(Start(queueOf(model.StatusPending, model.StatusPending)), "a")
	next, finished := Fail(q, "a", "boom", testNow)
	if finished || next.CurrentJobIndex != 1 {
		t.Fatalf("expected advance to 1, got %+v finished=%v", next, finished)
	}
	if next.Jobs[0].Status != model.StatusFailed || next.Jobs[0].Error != "boom" {
		t.Fatalf("unexpected failed job: %+v", next.Jobs[0])
	}
}

func TestTerminalJobIgnoresSecondFinish(t *testing.T) {
	q := MarkRendering(Start(queueOf(model.StatusPending)), "a")
	q, _ = Complete(q, "a", "u", testNow)
	next, finished := Fail(q, "a", "late", testNow)
	if finished || next.Jobs[0].Status != model.StatusCompleted {
		t.Fatalf("expected completed job to be final, got %+v", next.Jobs[0])
	}
}

func TestResetStaleRendering(t *testing.T) {
	q := queueOf(model.StatusRendering, model.StatusCompleted)
	q.Jobs[0].Progress = 40
	next, reset := ResetStaleRendering(q)
	if reset != 1 {
		t.Fatalf("expected 1 reset, got %d", reset)
	}
	if next.Jobs[0].Status != model.StatusPending || next.Jobs[0].Progress != 0 {
		t.Fatalf("expected pending at 0%%, got %+v", next.Jobs[0])
	}
}
