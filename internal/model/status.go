package model

import "fmt"

const (
	StatusPending   = "pending"
	StatusRendering = "rendering"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusPending:   true,
		StatusRendering: true,
		StatusFailed:    true,
	},
	StatusRendering: {
		StatusRendering: true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusPending:   true, // stale job reset after restart
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *Job, toStatus string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s project_id=%s)", from, toStatus, job.ID, job.ProjectID)
	}
	job.Status = toStatus
	return nil
}
