package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"research-assistant/internal/models"
)

var (
	// ErrJobNotFound is returned for identifiers the registry never issued.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when a terminal job is written to again.
	ErrJobFinished = errors.New("job already finished")
)

// Registry is the in-memory table of research jobs. Readers get copies, so a
// snapshot never changes after it is returned. Jobs are never evicted.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*models.Job
	newID func() string
	now   func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		jobs:  make(map[string]*models.Job),
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

// Create records a new running job for topic and returns its snapshot.
func (r *Registry) Create(topic string) models.Job {
	now := r.now().UTC()
	job := &models.Job{
		ID:        r.newID(),
		Topic:     topic,
		Status:    models.StatusRunning,
		Logs:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return snapshot(job)
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	return snapshot(job), nil
}

// AppendLogs adds captured lines to a running job.
func (r *Registry) AppendLogs(id string, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.runningLocked(id)
	if err != nil {
		return err
	}
	job.Logs = append(job.Logs, lines...)
	job.UpdatedAt = r.now().UTC()
	return nil
}

// Complete stores the report and moves the job to completed.
func (r *Registry) Complete(id, report string) (models.Job, error) {
	return r.finish(id, models.StatusCompleted, report)
}

// Fail stores the failure description and moves the job to failed.
func (r *Registry) Fail(id, reason string) (models.Job, error) {
	return r.finish(id, models.StatusFailed, reason)
}

// status and result change under one lock so no reader sees one without the other.
func (r *Registry) finish(id, status, result string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.runningLocked(id)
	if err != nil {
		return models.Job{}, err
	}
	job.Result = &result
	job.Status = status
	job.UpdatedAt = r.now().UTC()
	return snapshot(job), nil
}

func (r *Registry) runningLocked(id string) (*models.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Terminal() {
		return nil, ErrJobFinished
	}
	return job, nil
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{
		models.StatusRunning:   0,
		models.StatusCompleted: 0,
		models.StatusFailed:    0,
	}
	for _, job := range r.jobs {
		out[job.Status]++
	}
	return out
}

// Len returns how many jobs the registry holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func snapshot(job *models.Job) models.Job {
	out := *job
	out.Logs = append(make([]string, 0, len(job.Logs)), job.Logs...)
	if job.Result != nil {
		result := *job.Result
		out.Result = &result
	}
	return out
}
