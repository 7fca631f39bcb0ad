package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"shortsai-batch/internal/model"
	"shortsai-batch/internal/runstore"
)

const StorageKey = "shortsai_batch_render_queue"

// Store owns the durable queue. All mutations run under one mutex and are
// written through to the KV store; persistence failures never block them.
type Store struct {
	mu     sync.Mutex
	q      model.Queue
	kv     *runstore.KV
	lock   runstore.StateLock
	logger *log.Logger
	now    func() time.Time

	jobCompleteFns   []func(model.Job)
	queueCompleteFns []func(model.Stats)
	subs             map[int]chan struct{}
	nextSubID        int
}

// Open locks the KV directory and rehydrates the last persisted queue.
func Open(kv *runstore.KV, logger *log.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("queue store requires a key-value store")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	lock, err := runstore.AcquireStateLock(kv.Dir())
	if err != nil {
		return nil, err
	}

	s := &Store{
		kv:     kv,
		lock:   lock,
		logger: logger,
		now:    time.Now,
		subs:   map[int]chan struct{}{},
	}
	s.q = s.load()
	return s, nil
}

func (s *Store) load() model.Queue {
	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		s.logger.Printf("queue: read snapshot: %v (starting with empty queue)", err)
		return model.EmptyQueue()
	}
	if !ok {
		return model.EmptyQueue()
	}

	var q model.Queue
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		s.logger.Printf("queue: corrupt snapshot ignored: %v", err)
		return model.EmptyQueue()
	}
	for _, j := range q.Jobs {
		if !model.IsKnownStatus(j.Status) {
			s.logger.Printf("queue: snapshot has job %s with unknown status %q; starting with empty queue", j.ID, j.Status)
			return model.EmptyQueue()
		}
	}

	q = Sanitize(q)
	q, reset := ResetStaleRendering(q)
	if reset > 0 {
		s.logger.Printf("queue: reset %d interrupted rendering job(s) to pending", reset)
		s.persist(q)
	}
	return q
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return s.lock.Release()
}

func (s *Store) persist(q model.Queue) {
	if isEmptyQueue(q) {
		if err := s.kv.Delete(StorageKey); err != nil {
			s.logger.Printf("queue: persist snapshot: %v", err)
		}
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		s.logger.Printf("queue: encode snapshot: %v", err)
		return
	}
	if err := s.kv.Set(StorageKey, string(data)); err != nil {
		s.logger.Printf("queue: persist snapshot: %v", err)
	}
}

// isEmptyQueue reports whether q carries nothing a reload would not rebuild.
func isEmptyQueue(q model.Queue) bool {
	return len(q.Jobs) == 0 && q.CurrentJobIndex == -1 && !q.IsActive && !q.IsPaused
}

// mutate applies fn under the lock, persists the result and wakes subscribers.
func (s *Store) mutate(fn func(model.Queue) model.Queue) model.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q = fn(s.q)
	s.persist(s.q)
	s.notifyLocked()
	return s.q.Clone()
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives a signal after every mutation.
// Signals coalesce: a slow reader sees at most one pending wake-up.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Store) OnJobComplete(fn func(model.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobCompleteFns = append(s.jobCompleteFns, fn)
}

func (s *Store) OnQueueComplete(fn func(model.Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueCompleteFns = append(s.queueCompleteFns, fn)
}

func (s *Store) Snapshot() model.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Clone()
}

func (s *Store) CurrentJob() (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CurrentJob()
}

func (s *Store) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Stats()
}

// AddJobs enqueues one pending job per project and returns how many were added.
func (s *Store) AddJobs(projects []model.Project, cfg model.RenderConfig) int {
	added := 0
	s.mutate(func(q model.Queue) model.Queue {
		next, n := Enqueue(q, projects, cfg, s.now())
		added = n
		return next
	})
	return added
}

func (s *Store) Remove(jobID string) {
	s.mutate(func(q model.Queue) model.Queue { return Remove(q, jobID) })
}

func (s *Store) ClearCompleted() {
	s.mutate(ClearCompleted)
}

func (s *Store) ClearAll() {
	s.mutate(func(model.Queue) model.Queue { return ClearAll() })
}

func (s *Store) Start() {
	s.mutate(Start)
}

func (s *Store) Stop() {
	s.mutate(Stop)
}

func (s *Store) Pause() {
	s.mutate(Pause)
}

func (s *Store) Resume() {
	s.mutate(Resume)
}

func (s *Store) MarkRendering(jobID string) {
	s.mutate(func(q model.Queue) model.Queue { return MarkRendering(q, jobID) })
}

func (s *Store) UpdateProgress(jobID string, percent int) {
	s.mutate(func(q model.Queue) model.Queue { return UpdateProgress(q, jobID, percent) })
}

func (s *Store) SetPhase(jobID, phase, message string) {
	s.mutate(func(q model.Queue) model.Queue { return SetPhase(q, jobID, phase, message) })
}

func (s *Store) AttachLocalPath(jobID, path string) {
	s.mutate(func(q model.Queue) model.Queue { return AttachLocalPath(q, jobID, path) })
}

func (s *Store) Complete(jobID, downloadURL string) {
	s.finish(jobID, func(q model.Queue) (model.Queue, bool) {
		return Complete(q, jobID, downloadURL, s.now())
	})
}

func (s *Store) Fail(jobID, errorMessage string) {
	s.finish(jobID, func(q model.Queue) (model.Queue, bool) {
		return Fail(q, jobID, errorMessage, s.now())
	})
}

func (s *Store) finish(jobID string, fn func(model.Queue) (model.Queue, bool)) {
	s.mu.Lock()
	idx := s.q.IndexOf(jobID)
	changed := idx >= 0 && !s.q.Jobs[idx].IsDone()
	next, finished := fn(s.q)
	s.q = next
	s.persist(s.q)
	s.notifyLocked()

	var job model.Job
	if changed {
		job = s.q.Jobs[idx]
	}
	stats := s.q.Stats()
	jobFns := append([]func(model.Job){}, s.jobCompleteFns...)
	queueFns := append([]func(model.Stats){}, s.queueCompleteFns...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range jobFns {
		fn(job)
	}
	if finished {
		for _, fn := range queueFns {
			go fn(stats)
		}
	}
}
