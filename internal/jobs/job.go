// Package jobs implements the concurrent job status store through which
// background orchestration work reports progress to external pollers.
package jobs

import "time"

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a transition from s to next is allowed.
// Transitions are monotonic along queued -> running -> {completed|failed};
// terminal states never change, and self-transitions are permitted so
// repeated progress updates can restate the current state.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// job is the internal mutable record. Never handed out: reads go through
// Snapshot copies.
type job struct {
	id              string
	status          Status
	progressPercent int
	message         string
	logs            []string
	result          map[string]any
	createdAt       time.Time
	updatedAt       time.Time
}

// Snapshot is an immutable copy of a job record, safe to read and serialize
// without holding store locks.
type Snapshot struct {
	JobID           string         `json:"job_id"`
	Status          Status         `json:"status"`
	ProgressPercent int            `json:"progress_percent"`
	Message         string         `json:"message"`
	Logs            []string       `json:"logs"`
	Result          map[string]any `json:"result,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (j *job) snapshot() Snapshot {
	logs := make([]string, len(j.logs))
	copy(logs, j.logs)

	var result map[string]any
	if j.result != nil {
		result = make(map[string]any, len(j.result))
		for k, v := range j.result {
			result[k] = v
		}
	}

	return Snapshot{
		JobID:           j.id,
		Status:          j.status,
		ProgressPercent: j.progressPercent,
		Message:         j.message,
		Logs:            logs,
		Result:          result,
		CreatedAt:       j.createdAt,
		UpdatedAt:       j.updatedAt,
	}
}
