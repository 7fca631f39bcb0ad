package queue

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shortsai-batch/internal/model"
	"shortsai-batch/internal/runstore"
)

func openTestStore(t *testing.T, dir string) (*Store, *bytes.Buffer) {
	t.Helper()
	kv, err := runstore.OpenKV(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	var logs bytes.Buffer
	s, err := Open(kv, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, &logs
}

func TestStore_EmptyOnFirstOpen(t *testing.T) {
	s, _ := openTestStore(t, t.TempDir())
	q := s.Snapshot()
	if len(q.Jobs) != 0 || q.CurrentJobIndex != -1 || q.IsActive || q.IsPaused {
		t.Fatalf("expected empty queue, got %+v", q)
	}
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, _ := openTestStore(t, dir)
	s.AddJobs(projects("p1", "p2"), model.RenderConfig{FPS: 60, BgMusicFile: "/music/a.mp3"})
	s.Start()
	s.Pause()
	before := s.Snapshot()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, _ := openTestStore(t, dir)
	after := reopened.Snapshot()
	if len(after.Jobs) != 2 || after.CurrentJobIndex != before.CurrentJobIndex {
		t.Fatalf("expected restored queue, got %+v", after)
	}
	if !after.IsActive || !after.IsPaused {
		t.Fatalf("expected flags restored, got %+v", after)
	}
	for i := range before.Jobs {
		if after.Jobs[i].ID != before.Jobs[i].ID || after.Jobs[i].Status != before.Jobs[i].Status {
			t.Fatalf("job %d mismatch: %+v vs %+v", i, after.Jobs[i], before.Jobs[i])
		}
	}
	if after.Jobs[0].Config.BgMusicFile != "/music/a.mp3" || after.Jobs[0].Config.Volume() != 50 {
		t.Fatalf("expected config to survive reload, got %+v", after.Jobs[0].Config)
	}
}

func TestStore_CorruptSnapshotFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	kv, err := runstore.OpenKV(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	if err := kv.Set(StorageKey, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, logs := openTestStore(t, dir)
	q := s.Snapshot()
	if len(q.Jobs) != 0 || q.CurrentJobIndex != -1 {
		t.Fatalf("expected empty queue, got %+v", q)
	}
	if !strings.Contains(logs.String(), "corrupt snapshot") {
		t.Fatalf("expected corruption to be logged, got %q", logs.String())
	}
}

func TestStore_RehydrateResetsRenderingJobs(t *testing.T) {
	dir := t.TempDir()
	s, _ := openTestStore(t, dir)
	s.AddJobs(projects("p1"), model.RenderConfig{})
	s.Start()
	id := s.Snapshot().Jobs[0].ID
	s.MarkRendering(id)
	s.UpdateProgress(id, 55)
	_ = s.Close()

	reopened, _ := openTestStore(t, dir)
	job := reopened.Snapshot().Jobs[0]
	if job.Status != model.StatusPending || job.Progress != 0 {
		t.Fatalf("expected interrupted job reset to pending, got %+v", job)
	}
}

func TestStore_SecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	openTestStore(t, dir)
	kv, err := runstore.OpenKV(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	if _, err := Open(kv, nil); err == nil || !strings.Contains(err.Error(), "locked") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s, _ := openTestStore(t, t.TempDir())
	s.AddJobs(projects("p1"), model.RenderConfig{})
	snap := s.Snapshot()
	snap.Jobs[0].Status = model.StatusFailed
	if s.Snapshot().Jobs[0].Status != model.StatusPending {
		t.Fatalf("expected store state unaffected by snapshot mutation")
	}
}

func TestStore_ObserversFireOnCompletion(t *testing.T) {
	s, _ := openTestStore(t, t.TempDir())
	var completed []model.Job
	s.OnJobComplete(func(j model.Job) { completed = append(completed, j) })
	done := make(chan model.Stats, 1)
	s.OnQueueComplete(func(st model.Stats) { done <- st })

	s.AddJobs(projects("p1", "p2"), model.RenderConfig{})
	s.Start()
	q := s.Snapshot()
	s.MarkRendering(q.Jobs[0].ID)
	s.Complete(q.Jobs[0].ID, "https://x/1.mp4")
	if len(completed) != 1 || completed[0].DownloadURL != "https://x/1.mp4" {
		t.Fatalf("expected synchronous job completion callback, got %+v", completed)
	}

	s.MarkRendering(q.Jobs[1].ID)
	s.Fail(q.Jobs[1].ID, "boom")
	if len(completed) != 2 || completed[1].Status != model.StatusFailed {
		t.Fatalf("expected failure callback, got %+v", completed)
	}

	select {
	case st := <-done:
		if st.Completed != 1 || st.Failed != 1 || st.Percent != 100 {
			t.Fatalf("unexpected final stats %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected queue completion callback")
	}

	s.Complete("unknown", "u")
	if len(completed) != 2 {
		t.Fatalf("expected no callback for unknown job")
	}
}

func TestStore_SubscribeCoalescesSignals(t *testing.T) {
	s, _ := openTestStore(t, t.TempDir())
	ch, unsubscribe := s.Subscribe()
	s.AddJobs(projects("p1"), model.RenderConfig{})
	s.Start()
	s.Pause()

	select {
	case <-ch:
	default:
		t.Fatalf("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatalf("expected signals to coalesce")
	default:
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestStore_PersistFailureKeepsInMemoryUpdate(t *testing.T) {
	dir := t.TempDir()
	s, logs := openTestStore(t, dir)

	// A non-empty directory at the snapshot path makes every write fail.
	blocked := filepath.Join(dir, StorageKey+".json")
	if err := os.MkdirAll(filepath.Join(blocked, "occupied"), 0o755); err != nil {
		t.Fatalf("block snapshot path: %v", err)
	}

	added := s.AddJobs(projects("p1", "p2"), model.RenderConfig{})
	if added != 2 {
		t.Fatalf("expected 2 jobs added, got %d", added)
	}
	s.Start()

	q := s.Snapshot()
	if len(q.Jobs) != 2 || !q.IsActive || q.CurrentJobIndex != 0 {
		t.Fatalf("expected in-memory update despite failed write, got %+v", q)
	}
	if !strings.Contains(logs.String(), "queue: persist snapshot") {
		t.Fatalf("expected persist failure to be logged, got %q", logs.String())
	}
}

func TestStore_ClearAllDropsSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, _ := openTestStore(t, dir)
	s.AddJobs(projects("p1"), model.RenderConfig{})

	kv, err := runstore.OpenKV(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	if _, ok, err := kv.Get(StorageKey); err != nil || !ok {
		t.Fatalf("expected snapshot after add, ok=%v err=%v", ok, err)
	}

	s.ClearAll()
	if _, ok, err := kv.Get(StorageKey); err != nil || ok {
		t.Fatalf("expected snapshot removed after clear all, ok=%v err=%v", ok, err)
	}
	_ = s.Close()

	reopened, _ := openTestStore(t, dir)
	q := reopened.Snapshot()
	if len(q.Jobs) != 0 || q.CurrentJobIndex != -1 {
		t.Fatalf("expected empty queue after reopen, got %+v", q)
	}
}

func TestStore_OpenRecoversFromCrashedOwner(t *testing.T) {
	dir := t.TempDir()
	kv, err := runstore.OpenKV(dir)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	crashed, err := Open(kv, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	crashed.AddJobs(projects("p1"), model.RenderConfig{})
	crashed.Start()
	id := crashed.Snapshot().Jobs[0].ID
	crashed.MarkRendering(id)

	// Leave the lock in place, owned by a process that no longer runs.
	ownerPath := filepath.Join(dir, ".state.lock", "owner.json")
	owner := map[string]any{}
	if err := runstore.ReadJSON(ownerPath, &owner); err != nil {
		t.Fatalf("read lock owner: %v", err)
	}
	owner["pid"] = 999999
	owner["created_at"] = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	if err := runstore.WriteJSON(ownerPath, owner); err != nil {
		t.Fatalf("rewrite lock owner: %v", err)
	}

	reopened, logs := openTestStore(t, dir)
	job := reopened.Snapshot().Jobs[0]
	if job.Status != model.StatusPending || job.Progress != 0 {
		t.Fatalf("expected interrupted job reset to pending, got %+v", job)
	}
	if !strings.Contains(logs.String(), "reset 1 interrupted") {
		t.Fatalf("expected reset to be logged, got %q", logs.String())
	}
}
