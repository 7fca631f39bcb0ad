package executor

import (
	"shortsai-batch/internal/model"
	"shortsai-batch/internal/render"
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseBridging Phase = "bridging"
)

// State is the executor's own view: which job, if any, it is driving.
type State struct {
	Phase Phase
	JobID string
}

func Idle() State {
	return State{Phase: PhaseIdle}
}

func (s State) Driving(jobID string) bool {
	return s.Phase != PhaseIdle && s.JobID == jobID
}

type Event interface{ event() }

type QueueChanged struct{}

type ProjectResolved struct {
	JobID   string
	Project model.Project
}

type ProjectFailed struct {
	JobID string
	Err   error
}

type RenderProgress struct {
	JobID    string
	Progress render.Progress
}

type RenderCompleted struct {
	JobID  string
	Result render.Result
}

type RenderFailed struct {
	JobID string
	Err   error
}

func (QueueChanged) event()    {}
func (ProjectResolved) event() {}
func (ProjectFailed) event()   {}
func (RenderProgress) event()  {}
func (RenderCompleted) event() {}
func (RenderFailed) event()    {}

type Effect interface{ effect() }

type MarkRendering struct{ JobID string }

type ResolveProject struct {
	JobID     string
	ProjectID string
}

type StartRender struct {
	JobID   string
	Project model.Project
	Config  model.RenderConfig
}

type UpdateProgress struct {
	JobID    string
	Progress render.Progress
}

type CompleteJob struct {
	JobID  string
	Result render.Result
}

type FailJob struct {
	JobID   string
	Message string
}

// CancelRender abandons the in-flight work for a job that left the queue.
type CancelRender struct{ JobID string }

func (MarkRendering) effect()  {}
func (ResolveProject) effect() {}
func (StartRender) effect()    {}
func (UpdateProgress) effect() {}
func (CompleteJob) effect()    {}
func (FailJob) effect()        {}
func (CancelRender) effect()   {}

// Step is the executor's transition function. It never touches the store;
// the returned effects describe what the runner must do.
func Step(s State, q model.Queue, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case QueueChanged:
		if s.Phase != PhaseIdle {
			if q.IndexOf(s.JobID) >= 0 {
				return s, nil
			}
			next, effects := maybeStart(q)
			return next, append([]Effect{CancelRender{JobID: s.JobID}}, effects...)
		}
		return maybeStart(q)

	case ProjectResolved:
		if s.Phase != PhaseStarting || s.JobID != ev.JobID {
			return s, nil
		}
		idx := q.IndexOf(ev.JobID)
		if idx < 0 {
			return Idle(), nil
		}
		return State{Phase: PhaseBridging, JobID: ev.JobID}, []Effect{StartRender{
			JobID:   ev.JobID,
			Project: ev.Project,
			Config:  q.Jobs[idx].Config,
		}}

	case ProjectFailed:
		if s.Phase != PhaseStarting || s.JobID != ev.JobID {
			return s, nil
		}
		return Idle(), []Effect{FailJob{JobID: ev.JobID, Message: errorMessage(ev.Err)}}

	case RenderProgress:
		return s, []Effect{UpdateProgress{JobID: ev.JobID, Progress: ev.Progress}}

	case RenderCompleted:
		effects := []Effect{CompleteJob{JobID: ev.JobID, Result: ev.Result}}
		if s.Driving(ev.JobID) {
			return Idle(), effects
		}
		return s, effects

	case RenderFailed:
		effects := []Effect{FailJob{JobID: ev.JobID, Message: errorMessage(ev.Err)}}
		if s.Driving(ev.JobID) {
			return Idle(), effects
		}
		return s, effects
	}
	return s, nil
}

func maybeStart(q model.Queue) (State, []Effect) {
	if !q.IsActive || q.IsPaused {
		return Idle(), nil
	}
	job, ok := q.CurrentJob()
	if !ok || job.Status != model.StatusPending {
		return Idle(), nil
	}
	return State{Phase: PhaseStarting, JobID: job.ID}, []Effect{
		MarkRendering{JobID: job.ID},
		ResolveProject{JobID: job.ID, ProjectID: job.ProjectID},
	}
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
