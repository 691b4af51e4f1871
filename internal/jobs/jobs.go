// Package jobs tracks historical analysis runs started through the control
// API so their progress can be polled.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/fueltheft/internal/log"
	"fleet-monitor/fueltheft/internal/pipeline"
)

var ErrNotFound = errors.New("job not found")

type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Retention is how long finished jobs stay queryable.
const Retention = 24 * time.Hour

// Job is a snapshot of one analysis run.
type Job struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Percent    int       `json:"percent"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Message    string    `json:"message"`
	Alerts     int       `json:"alerts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// RunFunc performs the analysis, reporting progress as it goes, and returns
// the number of alerts emitted.
type RunFunc func(ctx context.Context, from, to time.Time, onProgress pipeline.ProgressFunc) (int, error)

// Registry runs jobs in the background and keeps their latest snapshot.
type Registry struct {
	run RunFunc
	now func() time.Time
	log log.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

func NewRegistry(run RunFunc, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		run:  run,
		now:  time.Now,
		log:  logger.WithName("jobs"),
		jobs: make(map[string]*Job),
	}
}

// Start launches an analysis of [from, to] and returns its initial snapshot.
// The run outlives ctx; Wait blocks until every started run has finished.
func (r *Registry) Start(ctx context.Context, from, to time.Time) Job {
	job := &Job{
		ID:        uuid.NewString(),
		State:     StateRunning,
		From:      from,
		To:        to,
		Message:   "analysis started",
		StartedAt: r.now(),
	}

	r.mu.Lock()
	r.pruneLocked()
	r.jobs[job.ID] = job
	snapshot := *job
	r.mu.Unlock()

	r.log.Info("analysis job started", "job", job.ID, "from", from, "to", to)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		alerts, err := r.run(context.WithoutCancel(ctx), from, to, func(p pipeline.Progress) {
			r.update(job.ID, func(j *Job) {
				j.Percent = p.Percent
				j.Processed = p.Processed
				j.Total = p.Total
				j.Message = p.Message
			})
		})
		r.finish(job.ID, alerts, err)
	}()
	return snapshot
}

func (r *Registry) finish(id string, alerts int, err error) {
	r.update(id, func(j *Job) {
		j.Alerts = alerts
		j.FinishedAt = r.now()
		if err != nil {
			j.State = StateFailed
			j.Error = err.Error()
			j.Message = "analysis failed"
			return
		}
		j.State = StateCompleted
		j.Percent = 100
		j.Message = "analysis completed"
	})
	if err != nil {
		r.log.Error(err, "analysis job failed", "job", id)
		return
	}
	r.log.Info("analysis job completed", "job", id, "alerts", alerts)
}

func (r *Registry) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}

// Get returns the latest snapshot of job id.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

// List returns every known job, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	return out
}

// Wait blocks until all running jobs have finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-Retention)
	for id, j := range r.jobs {
		if j.State != StateRunning && j.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}
