package jog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	mu    sync.Mutex
	state grbl.MachineState
	sent  []string
	holds int
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
	defer f.mu.Unlock()
	f.sent = append(f.sent, line)
	return grbl.Ack{OK: true}, nil
}

func (f *fakeSession) FeedHold() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
	return nil
}

func (f *fakeSession) jogLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, line := range f.sent {
		if strings.HasPrefix(line, "$J=") {
			out = append(out, line)
		}
	}
	return out
}

func testConfig(tick time.Duration) Config {
	return Config{
		StepCoarse:   10,
		StepNormal:   1,
		StepFine:     0.1,
		FeedRate:     10000,
		TickInterval: tick,
	}
}

func newTestController(session *fakeSession, tick time.Duration) *Controller {
	return NewController(zap.NewNop(), session, testConfig(tick), nil)
}

func TestController_TapIssuesOneStep(t *testing.T) {
	session := newFakeSession()
	// A tick the test will never reach: only the immediate first step
	// can go out.
	c := newTestController(session, time.Hour)

	require.NoError(t, c.Start(grbl.AxisX, 1))
	require.Eventually(t, func() bool {
		return len(session.jogLines()) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Stop())

	jogs := session.jogLines()
	require.Len(t, jogs, 1)
	assert.Equal(t, grbl.JogCommand(grbl.AxisX, 1, 10000), jogs[0])
	assert.False(t, c.Active())
}

func TestController_StopRestoresAbsoluteMode(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, time.Hour)

	require.NoError(t, c.Start(grbl.AxisY, -1))
	require.NoError(t, c.Stop())

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 1, session.holds)
	assert.Equal(t, "G90", session.sent[len(session.sent)-1])
}

func TestController_StopWithoutJogIsNoop(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, time.Hour)

	require.NoError(t, c.Stop())
	assert.Empty(t, session.sent)
	assert.Zero(t, session.holds)
}

func TestController_BoundedRepetition(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, 20*time.Millisecond)

	require.NoError(t, c.Start(grbl.AxisX, 1))
	time.Sleep(110 * time.Millisecond)
	require.NoError(t, c.Stop())

	countAtStop := len(session.jogLines())
	assert.GreaterOrEqual(t, countAtStop, 2)
	assert.LessOrEqual(t, countAtStop, 10)

	// The loop is dead: no step may follow the stop.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, countAtStop, len(session.jogLines()))
}

func TestController_DirectionSwitch(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, time.Hour)

	require.NoError(t, c.Start(grbl.AxisX, 1))
	require.Eventually(t, func() bool {
		return len(session.jogLines()) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Start(grbl.AxisX, -1))
	assert.True(t, c.Active())
	require.Eventually(t, func() bool {
		return len(session.jogLines()) == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())

	jogs := session.jogLines()
	require.Len(t, jogs, 2)
	assert.Equal(t, grbl.JogCommand(grbl.AxisX, 1, 10000), jogs[0])
	assert.Equal(t, grbl.JogCommand(grbl.AxisX, -1, 10000), jogs[1])
}

func TestController_ModeSelectsStep(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, time.Hour)

	require.NoError(t, c.SetMode(ModeFine))
	require.NoError(t, c.Start(grbl.AxisZ, 1))
	require.Eventually(t, func() bool {
		return len(session.jogLines()) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())

	jogs := session.jogLines()
	assert.Equal(t, grbl.JogCommand(grbl.AxisZ, 0.1, 10000), jogs[0])

	require.NoError(t, c.SetMode(ModeCoarse))
	require.NoError(t, c.Start(grbl.AxisZ, -1))
	require.Eventually(t, func() bool {
		return len(session.jogLines()) == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())

	jogs = session.jogLines()
	require.Len(t, jogs, 2)
	assert.Equal(t, grbl.JogCommand(grbl.AxisZ, -10, 10000), jogs[1])
}

func TestController_InvalidInputs(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, time.Hour)

	assert.ErrorIs(t, c.Start(grbl.AxisX, 0), ErrInvalidSign)
	assert.ErrorIs(t, c.Start(grbl.AxisX, 2), ErrInvalidSign)
	assert.ErrorIs(t, c.SetMode(Mode("turbo")), ErrInvalidMode)
	assert.Equal(t, ModeNormal, c.Mode())
}

func TestController_RejectedWhileBusy(t *testing.T) {
	session := newFakeSession()
	c := NewController(zap.NewNop(), session, testConfig(time.Hour), func() bool {
		return true
	})

	err := c.Start(grbl.AxisX, 1)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, session.sent)
}

func TestController_RejectedWhenNotIdle(t *testing.T) {
	session := newFakeSession()
	session.state = grbl.StateAlarm
	c := newTestController(session, time.Hour)

	err := c.Start(grbl.AxisX, 1)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, session.sent)
}

func TestController_ConcurrentStartsLeaveOneLoop(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sign := 1
		if i%2 == 0 {
			sign = -1
		}
		wg.Add(1)
		go func(sign int) {
			defer wg.Done()
			_ = c.Start(grbl.AxisX, sign)
		}(sign)
	}
	wg.Wait()

	require.NoError(t, c.Stop())
	assert.False(t, c.Active())

	// A second loop would survive Stop and keep issuing moves.
	count := len(session.jogLines())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, count, len(session.jogLines()), "orphaned jog loop kept running")
}

func TestController_CancelSkipsControllerWrites(t *testing.T) {
	session := newFakeSession()
	c := newTestController(session, time.Hour)

	require.NoError(t, c.Start(grbl.AxisX, 1))
	require.Eventually(t, func() bool {
		return len(session.jogLines()) == 1
	}, time.Second, time.Millisecond)

	c.Cancel()
	assert.False(t, c.Active())

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Zero(t, session.holds)
	assert.Equal(t, []string{grbl.JogCommand(grbl.AxisX, 1, 10000)}, session.sent)
}
