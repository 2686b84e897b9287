package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/events"
	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession scripts the controller side of a stream. respond is
// called per sent line; a nil respond acks everything.
type fakeSession struct {
	mu      sync.Mutex
	state   grbl.MachineState
	sent    []string
	holds   int
	starts  int
	estops  int
	respond func(ctx context.Context, index int, line string) (grbl.Ack, error)
}

func newFakeSession() *fakeSession {
	return &fakeSession{state: grbl.StateIdle}
}

func (f *fakeSession) State() grbl.MachineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) SendLine(ctx context.Context, line string) (grbl.Ack, error) {
	if err := ctx.Err(); err != nil {
		return grbl.Ack{}, err
	}

	f.mu.Lock()
	index := len(f.sent)
	f.sent = append(f.sent, line)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return grbl.Ack{OK: true}, nil
	}
	return respond(ctx, index, line)
}

func (f *fakeSession) FeedHold() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
	return nil
}

func (f *fakeSession) CycleStart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeSession) EmergencyStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estops++
}

func (f *fakeSession) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSession) estopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estops
}

func newTestStreamer(session *fakeSession) (*Streamer, *events.Streamer) {
	ev := events.NewStreamer()
	return NewStreamer(zap.NewNop(), session, ev), ev
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestPrepareLines(t *testing.T) {
	lines := []string{
		"G21",
		"",
		"  ; full line comment",
		"  G90  ",
		"\t",
		"G0 X0 Y0",
	}
	assert.Equal(t, []string{"G21", "G90", "G0 X0 Y0"}, PrepareLines(lines))
}

func TestStreamer_HappyPath(t *testing.T) {
	session := newFakeSession()
	s, ev := newTestStreamer(session)

	sub := ev.Subscribe(uuid.Nil)
	defer ev.Unsubscribe(uuid.Nil, sub)

	job, err := s.Start([]string{"G21", "; setup done", "G0 X1", "G0 Y1"})
	require.NoError(t, err)
	waitDone(t, job)

	result, index, reason := job.Outcome()
	assert.Equal(t, ResultCompleted, result)
	assert.Equal(t, 3, index)
	assert.Empty(t, reason)

	// Strict input order, comments stripped.
	assert.Equal(t, []string{"G21", "G0 X1", "G0 Y1"}, session.sentLines())

	var progress []events.ProgressData
	var finished *events.JobFinishedData
	timeout := time.After(time.Second)
	for finished == nil {
		select {
		case e := <-sub:
			switch e.Type {
			case events.TypeProgress:
				assert.Equal(t, job.ID, e.JobID)
				progress = append(progress, e.Data.(events.ProgressData))
			case events.TypeJobFinished:
				d := e.Data.(events.JobFinishedData)
				finished = &d
			}
		case <-timeout:
			t.Fatal("missing job_finished event")
		}
	}

	require.Len(t, progress, 3)
	assert.Equal(t, events.ProgressData{Index: 1, Total: 3, Line: "G21"}, progress[0])
	assert.Equal(t, events.ProgressData{Index: 3, Total: 3, Line: "G0 Y1"}, progress[2])
	assert.Equal(t, string(ResultCompleted), finished.Result)
}

func TestStreamer_RejectsWhenNotIdle(t *testing.T) {
	session := newFakeSession()
	session.state = grbl.StateAlarm
	s, _ := newTestStreamer(session)

	_, err := s.Start([]string{"G0 X1"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, session.sentLines())
}

func TestStreamer_RejectsEmptyProgram(t *testing.T) {
	session := newFakeSession()
	s, _ := newTestStreamer(session)

	_, err := s.Start([]string{"", "; nothing but comments", "  "})
	assert.ErrorIs(t, err, ErrEmptyProgram)
}

func TestStreamer_SingleJobAtATime(t *testing.T) {
	session := newFakeSession()
	release := make(chan struct{})
	session.respond = func(ctx context.Context, index int, line string) (grbl.Ack, error) {
		<-release
		return grbl.Ack{OK: true}, nil
	}
	s, _ := newTestStreamer(session)

	job, err := s.Start([]string{"G0 X1"})
	require.NoError(t, err)

	_, err = s.Start([]string{"G0 Y1"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	waitDone(t, job)

	// A finished job no longer blocks new work.
	job2, err := s.Start([]string{"G0 Y1"})
	require.NoError(t, err)
	waitDone(t, job2)
}

func TestStreamer_RejectedLineFailsWholeJob(t *testing.T) {
	session := newFakeSession()
	session.respond = func(ctx context.Context, index int, line string) (grbl.Ack, error) {
		if index == 1 {
			return grbl.Ack{OK: false, Code: "error:20"}, nil
		}
		return grbl.Ack{OK: true}, nil
	}
	s, _ := newTestStreamer(session)

	job, err := s.Start([]string{"G21", "G0 Q9", "G0 X1"})
	require.NoError(t, err)
	waitDone(t, job)

	result, index, reason := job.Outcome()
	assert.Equal(t, ResultFailed, result)
	assert.Equal(t, 1, index)
	assert.Equal(t, "error:20", reason)

	// Nothing after the rejected line went out.
	assert.Equal(t, []string{"G21", "G0 Q9"}, session.sentLines())
}

func TestStreamer_AckTimeoutFailsJob(t *testing.T) {
	session := newFakeSession()
	session.respond = func(ctx context.Context, index int, line string) (grbl.Ack, error) {
		if index == 0 {
			return grbl.Ack{}, fmt.Errorf("%w: %q after 10s", grbl.ErrAckTimeout, line)
		}
		return grbl.Ack{OK: true}, nil
	}
	s, _ := newTestStreamer(session)

	job, err := s.Start([]string{"G0 X1", "G0 Y1"})
	require.NoError(t, err)
	waitDone(t, job)

	result, index, reason := job.Outcome()
	assert.Equal(t, ResultFailed, result)
	assert.Equal(t, 0, index)
	assert.Equal(t, "AckTimeout", reason)
}

func TestStreamer_PauseFreezesStream(t *testing.T) {
	session := newFakeSession()
	s, _ := newTestStreamer(session)

	lineDone := make(chan struct{}, 8)
	release := make(chan struct{})
	session.respond = func(ctx context.Context, index int, line string) (grbl.Ack, error) {
		lineDone <- struct{}{}
		if index == 0 {
			<-release
		}
		return grbl.Ack{OK: true}, nil
	}

	job, err := s.Start([]string{"G0 X1", "G0 X2", "G0 X3"})
	require.NoError(t, err)

	// First line is in flight; pause, then let its ack arrive.
	<-lineDone
	require.NoError(t, s.Pause())
	close(release)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{"G0 X1"}, session.sentLines(), "no line may go out while paused")
	assert.Equal(t, 1, session.holds)
	assert.True(t, job.Status().Paused)

	require.NoError(t, s.Resume())
	waitDone(t, job)

	result, _, _ := job.Outcome()
	assert.Equal(t, ResultCompleted, result)
	assert.Equal(t, 1, session.starts)
	assert.Equal(t, []string{"G0 X1", "G0 X2", "G0 X3"}, session.sentLines())
}

func TestStreamer_StopAbortsMidCommand(t *testing.T) {
	session := newFakeSession()
	inFlight := make(chan struct{}, 1)
	session.respond = func(ctx context.Context, index int, line string) (grbl.Ack, error) {
		if index == 3 {
			inFlight <- struct{}{}
			// Never acked; the sender unparks on cancellation alone.
			<-ctx.Done()
			return grbl.Ack{}, ctx.Err()
		}
		return grbl.Ack{OK: true}, nil
	}
	s, _ := newTestStreamer(session)

	lines := make([]string, 10)
	for i := range lines {
		lines[i] = fmt.Sprintf("G1 X%d F100", i)
	}
	job, err := s.Start(lines)
	require.NoError(t, err)

	// Three lines acked, the fourth parked mid-command.
	<-inFlight
	require.NoError(t, s.Stop())
	waitDone(t, job)

	result, index, _ := job.Outcome()
	assert.Equal(t, ResultAborted, result)
	assert.Equal(t, 3, index)
	assert.Len(t, session.sentLines(), 4)
	assert.Equal(t, 1, session.estopCount())

	err = s.Stop()
	assert.ErrorIs(t, err, ErrNoJob)
	assert.Equal(t, 1, session.estopCount())
}

func TestStreamer_CancelLeavesControllerAlone(t *testing.T) {
	session := newFakeSession()
	release := make(chan struct{})
	session.respond = func(ctx context.Context, index int, line string) (grbl.Ack, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return grbl.Ack{}, ctx.Err()
		}
		return grbl.Ack{OK: true}, nil
	}
	s, _ := newTestStreamer(session)

	job, err := s.Start([]string{"G0 X1", "G0 X2"})
	require.NoError(t, err)

	s.Cancel()
	close(release)
	waitDone(t, job)

	result, _, _ := job.Outcome()
	assert.Equal(t, ResultAborted, result)
	assert.Equal(t, 0, session.estopCount(), "cancel must not touch the controller")
}

func TestStreamer_ControlsRequireActiveJob(t *testing.T) {
	session := newFakeSession()
	s, _ := newTestStreamer(session)

	assert.ErrorIs(t, s.Pause(), ErrNoJob)
	assert.ErrorIs(t, s.Resume(), ErrNoJob)
	assert.ErrorIs(t, s.Stop(), ErrNoJob)
	assert.Nil(t, s.Active())
}
