package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultAborted   Result = "aborted"
)

// Job is one in-flight execution of a gcode program. At most one Job is
// active per streamer.
type Job struct {
	ID    uuid.UUID
	lines []string

	cursor atomic.Int64
	paused atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}

	mu     sync.RWMutex
	result Result
	index  int
	reason string
}

// JobStatus is a consistent view of a job for API consumers.
type JobStatus struct {
	ID       uuid.UUID `json:"id"`
	Cursor   int       `json:"cursor"`
	Total    int       `json:"total"`
	Paused   bool      `json:"paused"`
	Finished bool      `json:"finished"`
	Result   Result    `json:"result,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

func newJob(lines []string) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:     uuid.New(),
		lines:  lines,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (j *Job) Total() int { return len(j.lines) }

// Done is closed when the job reaches a terminal result.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Outcome returns the terminal result, the index it stopped at and the
// failure reason, valid once Done is closed.
func (j *Job) Outcome() (Result, int, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.index, j.reason
}

func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobStatus{
		ID:       j.ID,
		Cursor:   int(j.cursor.Load()),
		Total:    len(j.lines),
		Paused:   j.paused.Load(),
		Finished: j.Finished(),
		Result:   j.result,
		Reason:   j.reason,
	}
}

func (j *Job) setOutcome(result Result, index int, reason string) {
	j.mu.Lock()
	j.result = result
	j.index = index
	j.reason = reason
	j.mu.Unlock()
}
