package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"shortsai-batch/internal/model"
	"shortsai-batch/internal/render"
)

var ErrNoScenes = errors.New("no scenes to render")

var errStoreClosed = errors.New("queue store closed")

// Store is the subset of the queue store the executor drives.
type Store interface {
	Snapshot() model.Queue
	Subscribe() (<-chan struct{}, func())
	MarkRendering(jobID string)
	UpdateProgress(jobID string, percent int)
	SetPhase(jobID, phase, message string)
	AttachLocalPath(jobID, path string)
	Complete(jobID, downloadURL string)
	Fail(jobID, errorMessage string)
}

type ProjectSource interface {
	GetProject(ctx context.Context, projectID string) (model.Project, error)
}

type Renderer interface {
	Render(ctx context.Context, req render.Request, progress func(render.Progress)) (render.Result, error)
}

// Executor runs queued jobs one at a time. A single goroutine owns the
// state and applies every effect; project fetches and renders run on
// their own goroutines and report back through the event channel.
type Executor struct {
	store    Store
	projects ProjectSource
	renderer Renderer
	logger   *log.Logger
	events   chan Event

	mu      sync.Mutex
	state   State
	cache   map[string]model.Project
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(store Store, projects ProjectSource, renderer Renderer, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Executor{
		store:    store,
		projects: projects,
		renderer: renderer,
		logger:   logger,
		events:   make(chan Event, 64),
		state:    Idle(),
		cache:    map[string]model.Project{},
		cancels:  map[string]context.CancelFunc{},
	}
}

// Remember seeds the resident project cache, typically with the projects
// that were just enqueued.
func (e *Executor) Remember(projects ...model.Project) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range projects {
		if p.ID != "" {
			e.cache[p.ID] = p
		}
	}
}

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run processes the queue until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	return e.loop(ctx, false)
}

// RunUntilDrained returns once nothing is in flight and the queue would not
// start another job: it finished, was stopped, or is paused.
func (e *Executor) RunUntilDrained(ctx context.Context) error {
	return e.loop(ctx, true)
}

func (e *Executor) loop(ctx context.Context, untilDrained bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		e.wg.Wait()
	}()

	changes, unsubscribe := e.store.Subscribe()
	defer unsubscribe()

	e.handle(runCtx, QueueChanged{})
	for {
		if untilDrained && e.drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return errStoreClosed
			}
			e.handle(runCtx, QueueChanged{})
		case ev := <-e.events:
			e.handle(runCtx, ev)
		}
	}
}

func (e *Executor) drained() bool {
	if e.State().Phase != PhaseIdle {
		return false
	}
	_, effects := Step(Idle(), e.store.Snapshot(), QueueChanged{})
	return len(effects) == 0
}

func (e *Executor) handle(ctx context.Context, ev Event) {
	q := e.store.Snapshot()
	e.mu.Lock()
	next, effects := Step(e.state, q, ev)
	e.state = next
	e.mu.Unlock()

	for _, eff := range effects {
		e.apply(ctx, eff)
	}
}

func (e *Executor) apply(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case MarkRendering:
		e.store.MarkRendering(eff.JobID)
	case ResolveProject:
		e.spawn(ctx, eff.JobID, func(jobCtx context.Context) Event {
			project, err := e.resolve(jobCtx, eff.ProjectID)
			if err != nil {
				return ProjectFailed{JobID: eff.JobID, Err: err}
			}
			return ProjectResolved{JobID: eff.JobID, Project: project}
		})
	case StartRender:
		e.spawn(ctx, eff.JobID, func(jobCtx context.Context) Event {
			req := render.Request{JobID: eff.JobID, Project: eff.Project, Config: eff.Config}
			result, err := e.renderer.Render(jobCtx, req, func(p render.Progress) {
				e.post(jobCtx, RenderProgress{JobID: eff.JobID, Progress: p})
			})
			if err != nil {
				return RenderFailed{JobID: eff.JobID, Err: err}
			}
			return RenderCompleted{JobID: eff.JobID, Result: result}
		})
	case UpdateProgress:
		if eff.Progress.Phase != "" || eff.Progress.Message != "" {
			e.store.SetPhase(eff.JobID, eff.Progress.Phase, eff.Progress.Message)
		}
		e.store.UpdateProgress(eff.JobID, eff.Progress.Percent)
	case CompleteJob:
		e.release(eff.JobID)
		if eff.Result.LocalPath != "" {
			e.store.AttachLocalPath(eff.JobID, eff.Result.LocalPath)
		}
		e.store.Complete(eff.JobID, eff.Result.VideoURL)
	case FailJob:
		e.release(eff.JobID)
		e.logger.Printf("job %s failed: %s", eff.JobID, eff.Message)
		e.store.Fail(eff.JobID, eff.Message)
	case CancelRender:
		e.logger.Printf("job %s left the queue; abandoning its render", eff.JobID)
		e.release(eff.JobID)
	}
}

// spawn runs fn on its own goroutine under a per-job context and posts the
// event it returns.
func (e *Executor) spawn(ctx context.Context, jobID string, fn func(context.Context) Event) {
	jobCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if prev, ok := e.cancels[jobID]; ok {
		prev()
	}
	e.cancels[jobID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ev := fn(jobCtx)
		if jobCtx.Err() != nil {
			return
		}
		e.post(ctx, ev)
	}()
}

func (e *Executor) release(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[jobID]; ok {
		cancel()
		delete(e.cancels, jobID)
	}
}

func (e *Executor) post(ctx context.Context, ev Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// resolve prefers the resident cache and re-fetches when the cached copy
// is missing or has no scenes.
func (e *Executor) resolve(ctx context.Context, projectID string) (model.Project, error) {
	e.mu.Lock()
	project, ok := e.cache[projectID]
	e.mu.Unlock()

	if !ok || len(project.Scenes) == 0 {
		if e.projects == nil {
			return model.Project{}, fmt.Errorf("project %s is not loaded and no project source is configured", projectID)
		}
		fetched, err := e.projects.GetProject(ctx, projectID)
		if err != nil {
			return model.Project{}, err
		}
		project = fetched
		e.Remember(project)
	}
	if len(project.Scenes) == 0 {
		return model.Project{}, fmt.Errorf("project %s has %w", projectID, ErrNoScenes)
	}
	return project, nil
}
