package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"rlmd/internal/logging"
	"rlmd/internal/metrics"
)

// Store is a thread-safe in-memory job status store. It is the single
// resource shared across concurrent orchestration trees: any number of
// goroutines may update different jobs without cross-talk, and concurrent
// updates to the same id are serialized so no log append is lost.
//
// The store is injected into the orchestration entry points; there is no
// package-level instance.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*job)}
}

// Create registers a new job and returns its id. The job starts queued at
// 0% with a seeded log line.
func (s *Store) Create() string {
	id := uuid.New().String()
	now := time.Now().UTC()

	s.mu.Lock()
	s.jobs[id] = &job{
		id:              id,
		status:          StatusQueued,
		progressPercent: 0,
		message:         "job created",
		logs:            []string{timestamped(now, "job initialized")},
		createdAt:       now,
		updatedAt:       now,
	}
	s.mu.Unlock()

	metrics.JobsCreated.Inc()
	logging.Jobs("job %s created", id)
	return id
}

// UpdateOption mutates a pending update.
type UpdateOption func(*update)

type update struct {
	percent   *int
	status    *Status
	result    map[string]any
}

// SetPercent advances the progress percentage. Values are clamped to [0,100].
func SetPercent(p int) UpdateOption {
	return func(u *update) { u.percent = &p }
}

// SetState advances the job status. Illegal transitions (out of a terminal
// state, or backwards) are ignored with a logged error.
func SetState(st Status) UpdateOption {
	return func(u *update) { u.status = &st }
}

// SetResult attaches the structured result payload. A result can only be
// attached to a completed job, and at most once; other attempts are ignored
// with a logged error.
func SetResult(result map[string]any) UpdateOption {
	return func(u *update) { u.result = result }
}

// Update appends a timestamped log line and applies the given options as one
// atomic read-modify-write. Unknown ids are a logged no-op; the caller gets
// no signal beyond absence on a later Get.
func (s *Store) Update(id, message string, opts ...UpdateOption) {
	var u update
	for _, opt := range opts {
		opt(&u)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		logging.JobsError("job %s not found", id)
		return
	}

	now := time.Now().UTC()
	j.updatedAt = now
	j.message = message
	j.logs = append(j.logs, timestamped(now, message))

	if u.percent != nil {
		p := *u.percent
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		j.progressPercent = p
	}

	if u.status != nil {
		next := *u.status
		if j.status.CanTransition(next) {
			if j.status != next {
				metrics.JobTransitions.WithLabelValues(string(next)).Inc()
			}
			j.status = next
		} else {
			logging.JobsError("job %s: illegal transition %s -> %s ignored", id, j.status, next)
		}
	}

	// Status is applied above, so a completion and its result may arrive
	// in the same update.
	if u.result != nil {
		switch {
		case j.result != nil:
			logging.JobsError("job %s: result already set, ignoring", id)
		case j.status != StatusCompleted:
			logging.JobsError("job %s: result ignored, job is %s not completed", id, j.status)
		default:
			j.result = u.result
		}
	}

	logging.Jobs("job %s updated: %s (%d%%, %s)", id, message, j.progressPercent, j.status)
}

// Get returns a snapshot of the job, or false if the id is unknown.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Len returns the number of jobs in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func timestamped(t time.Time, message string) string {
	return "[" + t.Format(time.RFC3339) + "] " + message
}
