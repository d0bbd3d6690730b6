// Package download runs and tracks download jobs. Jobs live in memory,
// identified by ULIDs, and finished jobs are pruned on a schedule.
package download

import (
	"context"
	"sync"
	"time"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one tracked download.
type Job struct {
	mu sync.Mutex

	id         string
	serviceTag string
	titleID    string
	profile    string

	status   Status
	progress float64
	errMsg   string
	outputs  []string

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
}

// Info is an immutable snapshot of a job, shaped for the API.
type Info struct {
	ID          string   `json:"job_id"`
	Service     string   `json:"service"`
	TitleID     string   `json:"title_id"`
	Profile     string   `json:"profile,omitempty"`
	Status      Status   `json:"status"`
	Progress    float64  `json:"progress"`
	Error       string   `json:"error,omitempty"`
	OutputFiles []string `json:"output_files,omitempty"`
	CreatedTime int64    `json:"created_time"`
	StartedTime int64    `json:"started_time,omitempty"`
	EndedTime   int64    `json:"ended_time,omitempty"`
}

// ID returns the job's ULID.
func (j *Job) ID() string { return j.id }

// Snapshot captures the job state.
func (j *Job) Snapshot() Info {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := Info{
		ID:          j.id,
		Service:     j.serviceTag,
		TitleID:     j.titleID,
		Profile:     j.profile,
		Status:      j.status,
		Progress:    j.progress,
		Error:       j.errMsg,
		OutputFiles: append([]string(nil), j.outputs...),
		CreatedTime: j.createdAt.Unix(),
	}
	if !j.startedAt.IsZero() {
		info.StartedTime = j.startedAt.Unix()
	}
	if !j.finishedAt.IsZero() {
		info.EndedTime = j.finishedAt.Unix()
	}
	return info
}

// SetProgress records overall progress in [0,1].
func (j *Job) SetProgress(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

// AddOutput records a produced output file.
func (j *Job) AddOutput(path string) {
	j.mu.Lock()
	j.outputs = append(j.outputs, path)
	j.mu.Unlock()
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch s {
	case StatusRunning:
		j.startedAt = time.Now()
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.finishedAt = time.Now()
		if s == StatusCompleted {
			j.progress = 1
		}
	}
	j.status = s
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	j.errMsg = msg
	j.mu.Unlock()
}

func (j *Job) statusLocked() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) finishedAtLocked() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}
