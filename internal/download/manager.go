package download

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// RunFunc performs the actual download work of a job. It must return
// ctx.Err() when cancelled.
type RunFunc func(ctx context.Context, job *Job) error

// Manager tracks download jobs and prunes finished ones on a schedule.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*Job

	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	wg        sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewManager builds a Manager. retention controls how long finished jobs
// stay listed; schedule is a cron expression for the pruning pass (empty
// disables scheduled pruning).
func NewManager(retention time.Duration, schedule string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		jobs:       make(map[string]*Job),
		retention:  retention,
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
	}

	if schedule != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(schedule, func() {
			if n := m.Prune(time.Now()); n > 0 {
				m.logger.Debug("pruned finished jobs", slog.Int("count", n))
			}
		}); err != nil {
			cancel()
			return nil, err
		}
		m.cron.Start()
	}
	return m, nil
}

// Submit registers a job and starts it in the background.
func (m *Manager) Submit(serviceTag, titleID, profile string, run RunFunc) *Job {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()

	jobCtx, jobCancel := context.WithCancel(m.baseCtx)
	job := &Job{
		id:         id,
		serviceTag: serviceTag,
		titleID:    titleID,
		profile:    profile,
		status:     StatusQueued,
		createdAt:  time.Now(),
		cancel:     jobCancel,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer jobCancel()

		job.setStatus(StatusRunning)
		err := run(jobCtx, job)
		switch {
		case jobCtx.Err() != nil:
			job.setStatus(StatusCancelled)
		case err != nil:
			job.setError(err.Error())
			job.setStatus(StatusFailed)
			m.logger.Warn("download job failed",
				slog.String("job_id", id),
				slog.String("service", serviceTag),
				slog.String("error", err.Error()))
		default:
			job.setStatus(StatusCompleted)
		}
	}()

	return job
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// List snapshots all tracked jobs, newest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	infos := make([]Info, len(jobs))
	for i, job := range jobs {
		infos[i] = job.Snapshot()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID > infos[j].ID })
	return infos
}

// Cancel requests cooperative cancellation of a running or queued job.
// It reports false for unknown or already-finished jobs.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok || job.statusLocked().Terminal() {
		return false
	}
	job.cancel()
	return true
}

// Prune drops finished jobs older than the retention window, returning the
// number removed.
func (m *Manager) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, job := range m.jobs {
		if !job.statusLocked().Terminal() {
			continue
		}
		if finished := job.finishedAtLocked(); !finished.IsZero() && now.Sub(finished) >= m.retention {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// Close cancels all running jobs, stops the pruning schedule and waits for
// job goroutines to exit.
func (m *Manager) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.baseCancel()
	m.wg.Wait()
}
