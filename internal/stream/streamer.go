package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/events"
	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("a stream job is already running")
	ErrNotReady       = errors.New("machine is not ready")
	ErrEmptyProgram   = errors.New("program has no executable lines")
	ErrNoJob          = errors.New("no active job")
)

// pausePoll is how often a paused run loop rechecks its flags. The loop
// holds no locks while suspended.
const pausePoll = 100 * time.Millisecond

// Session is the slice of the controller session the streamer needs.
type Session interface {
	State() grbl.MachineState
	SendLine(ctx context.Context, line string) (grbl.Ack, error)
	FeedHold() error
	CycleStart() error
	EmergencyStop()
}

// Streamer executes a gcode program against a session one line at a
// time. Lines go out strictly in input order with exactly one in flight:
// the controller's modal state makes reordering or pipelining unsafe.
type Streamer struct {
	logger  *zap.Logger
	session Session
	events  *events.Streamer

	mu  sync.Mutex
	job *Job
}

func NewStreamer(logger *zap.Logger, session Session, ev *events.Streamer) *Streamer {
	return &Streamer{
		logger:  logger,
		session: session,
		events:  ev,
	}
}

// PrepareLines strips blank lines and ;-comment lines. The reported
// total reflects only what will actually be sent.
func PrepareLines(lines []string) []string {
	prepared := make([]string, 0, len(lines))
	for _, line := range lines {
		text := strings.TrimSpace(line)
		if text == "" || strings.HasPrefix(text, ";") {
			continue
		}
		prepared = append(prepared, text)
	}
	return prepared
}

// Start begins streaming a program. Rejected while another job is active
// or the machine is not idle; nothing is written in either case.
func (s *Streamer) Start(lines []string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil && !s.job.Finished() {
		return nil, ErrAlreadyRunning
	}

	if state := s.session.State(); state != grbl.StateIdle {
		return nil, fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}

	prepared := PrepareLines(lines)
	if len(prepared) == 0 {
		return nil, ErrEmptyProgram
	}

	job := newJob(prepared)
	s.job = job

	s.logger.Info("Stream job started",
		zap.String("job_id", job.ID.String()),
		zap.Int("total", job.Total()))

	go s.run(job)

	return job, nil
}

// Active returns the current job, which may already be finished, or nil.
func (s *Streamer) Active() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Pause suspends the pacing loop and feed-holds the controller so
// physical motion stops along with the logical stream.
func (s *Streamer) Pause() error {
	job, err := s.runningJob()
	if err != nil {
		return err
	}
	job.paused.Store(true)
	return s.session.FeedHold()
}

// Resume clears the pause flag and cycle-starts the controller.
func (s *Streamer) Resume() error {
	job, err := s.runningJob()
	if err != nil {
		return err
	}
	job.paused.Store(false)
	return s.session.CycleStart()
}

// Stop aborts the job and halts physical motion immediately, even
// mid-command. Idempotent: the stop sequence is issued once.
func (s *Streamer) Stop() error {
	job, err := s.runningJob()
	if err != nil {
		return err
	}
	job.stopOnce.Do(func() {
		job.cancel()
		s.session.EmergencyStop()
	})
	return nil
}

// Cancel aborts the pacing loop without touching the controller. Used by
// the safety monitor, which issues the physical stop itself.
func (s *Streamer) Cancel() {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil || job.Finished() {
		return
	}
	job.stopOnce.Do(func() {
		job.cancel()
	})
}

func (s *Streamer) runningJob() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.Finished() {
		return nil, ErrNoJob
	}
	return s.job, nil
}

func (s *Streamer) run(job *Job) {
	total := job.Total()

	for i, line := range job.lines {
		for job.paused.Load() {
			select {
			case <-job.ctx.Done():
				s.finish(job, ResultAborted, i, "")
				return
			case <-time.After(pausePoll):
			}
		}

		if job.ctx.Err() != nil {
			s.finish(job, ResultAborted, i, "")
			return
		}

		ack, err := s.session.SendLine(job.ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, grbl.ErrPreempted) {
				s.finish(job, ResultAborted, i, "")
				return
			}
			reason := err.Error()
			if errors.Is(err, grbl.ErrAckTimeout) {
				reason = "AckTimeout"
			}
			s.logger.Error("Stream line failed",
				zap.String("job_id", job.ID.String()),
				zap.Int("index", i),
				zap.String("line", line),
				zap.Error(err))
			s.finish(job, ResultFailed, i, reason)
			return
		}

		if !ack.OK {
			// Gcode is modal; skipping a rejected line and continuing
			// could leave the machine in an inconsistent state. The
			// whole job stops here.
			s.logger.Error("Line rejected by controller",
				zap.String("job_id", job.ID.String()),
				zap.Int("index", i),
				zap.String("line", line),
				zap.String("code", ack.Code))
			s.finish(job, ResultFailed, i, ack.Code)
			return
		}

		job.cursor.Store(int64(i + 1))
		s.events.Broadcast(events.New(events.TypeProgress, job.ID, events.ProgressData{
			Index: i + 1,
			Total: total,
			Line:  line,
		}))
	}

	s.finish(job, ResultCompleted, total, "")
}

func (s *Streamer) finish(job *Job, result Result, index int, reason string) {
	job.setOutcome(result, index, reason)
	job.cancel()
	close(job.done)

	s.logger.Info("Stream job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("result", string(result)),
		zap.Int("index", index),
		zap.String("reason", reason))

	s.events.Broadcast(events.New(events.TypeJobFinished, job.ID, events.JobFinishedData{
		Result: string(result),
		Index:  index,
		Reason: reason,
	}))
}
