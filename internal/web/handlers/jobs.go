package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/photo-curator/internal/logging"
	"github.com/kozaktomas/photo-curator/internal/pipeline"
	"github.com/kozaktomas/photo-curator/internal/scheduler"
)

// JobStatus represents the status of a run started over the API.
type JobStatus string

// JobStatus constants define the lifecycle states of a run.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// isJobTerminal returns true if the job status is a terminal state
func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// Job is a pipeline run tracked in memory while the server is up.
type Job struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	From        string             `json:"from"`
	To          string             `json:"to"`
	DryRun      bool               `json:"dry_run"`
	Status      JobStatus          `json:"status"`
	Error       string             `json:"error,omitempty"`
	Stats       *pipeline.RunStats `json:"stats,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	driver *pipeline.Driver
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// JobView is a point-in-time copy of a job including its task table.
type JobView struct {
	ID          string               `json:"id"`
	Kind        string               `json:"kind"`
	From        string               `json:"from"`
	To          string               `json:"to"`
	DryRun      bool                 `json:"dry_run"`
	Status      JobStatus            `json:"status"`
	Error       string               `json:"error,omitempty"`
	Stats       *pipeline.RunStats   `json:"stats,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Tasks       []scheduler.TaskInfo `json:"tasks,omitempty"`
	TaskCounts  map[string]int       `json:"task_counts,omitempty"`
}

// GetStatus returns the current job status.
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// View snapshots the job. Tasks are included when withTasks is set.
func (j *Job) View(withTasks bool) JobView {
	j.mu.RLock()
	view := JobView{
		ID:          j.ID,
		Kind:        j.Kind,
		From:        j.From,
		To:          j.To,
		DryRun:      j.DryRun,
		Status:      j.Status,
		Error:       j.Error,
		Stats:       j.Stats,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	j.mu.RUnlock()

	tasks := j.driver.Snapshot()
	view.TaskCounts = make(map[string]int)
	for _, task := range tasks {
		view.TaskCounts[string(task.Status)]++
	}
	if withTasks {
		view.Tasks = tasks
	}
	return view
}

// Cancel cancels the run context; the job turns cancelled once the driver returns.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Done is closed when the run has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) finish(stats *pipeline.RunStats, err error, cancelled bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.CompletedAt = &now
	j.Stats = stats
	switch {
	case cancelled:
		j.Status = JobStatusCancelled
	case err != nil:
		j.Status = JobStatusFailed
	default:
		j.Status = JobStatusCompleted
	}
	if err != nil {
		j.Error = err.Error()
	}
}

// JobManager runs pipeline jobs, one at a time.
type JobManager struct {
	base context.Context
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobManager creates a job manager. Jobs run under base, not under the
// request that started them.
func NewJobManager(base context.Context) *JobManager {
	return &JobManager{
		base: base,
		jobs: make(map[string]*Job),
	}
}

// Active returns the running job, if any.
func (m *JobManager) Active() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		if !isJobTerminal(job.GetStatus()) {
			return job
		}
	}
	return nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs known to this process.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Start registers job and runs the driver in the background. When another
// job is still running nothing is started and that job is returned.
func (m *JobManager) Start(job *Job, driver *pipeline.Driver, from, to time.Time) *Job {
	m.mu.Lock()
	for _, other := range m.jobs {
		if !isJobTerminal(other.GetStatus()) {
			m.mu.Unlock()
			return other
		}
	}

	ctx, cancel := context.WithCancel(m.base)
	job.driver = driver
	job.cancel = cancel
	job.done = make(chan struct{})
	job.Status = JobStatusRunning
	job.StartedAt = time.Now()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go func() {
		defer close(job.done)
		defer cancel()

		var stats *pipeline.RunStats
		var err error
		if job.Kind == pipeline.KindRecluster {
			stats, err = driver.Recluster(ctx, from, to)
		} else {
			stats, err = driver.Run(ctx, from, to)
		}
		job.finish(stats, err, ctx.Err() != nil && m.base.Err() == nil)
		if err != nil {
			logging.From(ctx).Error("run failed", "run_id", job.ID, "error", err)
		}
	}()
	return nil
}
