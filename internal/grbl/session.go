package grbl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/serialport"
	"go.uber.org/zap"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNoResponse       = errors.New("no response from controller")
	ErrAckTimeout       = errors.New("ack timeout")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrPreempted        = errors.New("preempted by emergency stop")
	ErrSessionLost      = errors.New("session lost")
)

// Ack is the terminal response to one sent line. OK is true for a literal
// "ok"; otherwise Code carries the raw rejection, e.g. "error:20".
type Ack struct {
	OK   bool
	Code string
}

type Timeouts struct {
	Connect        time.Duration
	Ack            time.Duration
	Homing         time.Duration
	StatusInterval time.Duration
}

type ackResult struct {
	ack Ack
	err error
}

// Session speaks the grbl/grblHAL line protocol over one serial port.
//
// All acked conversations are serialized through sendMu: command order
// equals send order equals ack order, which the firmware requires.
// The read path runs on its own goroutine and never blocks a write.
type Session struct {
	logger   *zap.Logger
	open     serialport.Opener
	baud     int
	timeouts Timeouts

	sendMu  sync.Mutex // one acked conversation at a time
	writeMu sync.Mutex // raw port writes are atomic

	mu         sync.RWMutex
	port       serialport.Port
	state      MachineState
	snap       StatusSnapshot
	pending    chan ackResult
	connectCh  chan struct{}
	pollStop   chan struct{}
	readerDone chan struct{}
	closing    bool

	onState  func(StatusSnapshot)
	onReport func(StatusSnapshot)
}

func NewSession(logger *zap.Logger, open serialport.Opener, baud int, timeouts Timeouts) *Session {
	return &Session{
		logger:   logger,
		open:     open,
		baud:     baud,
		timeouts: timeouts,
		state:    StateDisconnected,
		snap:     StatusSnapshot{State: StateDisconnected},
	}
}

// SetStateListener registers the callback fired on every machine state
// change. Must be called before Connect.
func (s *Session) SetStateListener(fn func(StatusSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// SetReportListener registers the callback fired on every parsed status
// report. Must be called before Connect.
func (s *Session) SetReportListener(fn func(StatusSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReport = fn
}

func (s *Session) State() MachineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Connect opens the port, probes the controller with a status query and
// waits for any response. No response within the connect timeout tears
// the port down again and returns ErrNoResponse.
func (s *Session) Connect(ctx context.Context, device string) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, s.state)
	}
	s.mu.Unlock()

	s.setState(StateConnecting, "")

	port, err := s.open(device, s.baud)
	if err != nil {
		s.setState(StateDisconnected, "")
		return fmt.Errorf("open %s: %w", device, err)
	}

	connectCh := make(chan struct{}, 1)
	readerDone := make(chan struct{})

	s.mu.Lock()
	s.port = port
	s.connectCh = connectCh
	s.readerDone = readerDone
	s.closing = false
	s.mu.Unlock()

	go s.readLoop(port, readerDone)

	if err := s.writeRealtime(charStatusQuery); err != nil {
		s.teardown()
		s.setState(StateDisconnected, "")
		return err
	}

	timer := time.NewTimer(s.timeouts.Connect)
	defer timer.Stop()

	select {
	case <-connectCh:
	case <-ctx.Done():
		s.teardown()
		s.setState(StateDisconnected, "")
		return ctx.Err()
	case <-timer.C:
		s.teardown()
		s.setState(StateDisconnected, "")
		return fmt.Errorf("%w within %s", ErrNoResponse, s.timeouts.Connect)
	}

	pollStop := make(chan struct{})
	s.mu.Lock()
	s.connectCh = nil
	s.pollStop = pollStop
	sub := s.snap.Sub
	s.mu.Unlock()

	// A controller that requires homing boots in alarm. That is still a
	// successful connect; the operator clears it with Unlock.
	if st, ok := stateFromSub(sub); ok && st == StateAlarm {
		s.setState(StateAlarm, sub)
	} else {
		s.setState(StateIdle, "")
	}

	go s.statusPoll(pollStop)

	s.logger.Info("Controller session established",
		zap.String("device", device),
		zap.Int("baud", s.baud))

	return nil
}

// Disconnect closes the session. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == StateDisconnected {
		return nil
	}

	s.teardown()
	s.setState(StateDisconnected, "")
	return nil
}

// SendLine writes one gcode line and waits for its terminal response.
// Interleaved status pushes do not satisfy the wait. The wait races the
// ack against ctx cancellation and the per-command timeout.
func (s *Session) SendLine(ctx context.Context, line string) (Ack, error) {
	return s.converse(ctx, line, s.timeouts.Ack)
}

// Home runs the homing cycle. Physically long, so it gets the extended
// timeout.
func (s *Session) Home(ctx context.Context) error {
	ack, err := s.converse(ctx, cmdHome, s.timeouts.Homing)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("homing rejected: %s", ack.Code)
	}
	s.setState(StateIdle, "")
	return nil
}

// Unlock clears an alarm with $X. This is the only way out of Alarm.
func (s *Session) Unlock(ctx context.Context) error {
	ack, err := s.converse(ctx, cmdUnlock, s.timeouts.Ack)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("unlock rejected: %s", ack.Code)
	}
	s.setState(StateIdle, "")
	return nil
}

// SetZero zeroes the work offset for exactly the given axes.
func (s *Session) SetZero(ctx context.Context, axes []Axis) error {
	if len(axes) == 0 {
		return fmt.Errorf("%w: empty axis set", ErrInvalidRequest)
	}
	ack, err := s.converse(ctx, SetZeroCommand(axes), s.timeouts.Ack)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("set zero rejected: %s", ack.Code)
	}
	return nil
}

// FeedHold sends the realtime feed-hold character. No ack.
func (s *Session) FeedHold() error {
	return s.writeRealtime(charFeedHold)
}

// CycleStart sends the realtime cycle-start character. No ack.
func (s *Session) CycleStart() error {
	return s.writeRealtime(charCycleStart)
}

// EmergencyStop halts motion: feed-hold followed by a soft reset. It
// never waits for an ack (the controller may be unable to produce one),
// preempts an in-flight SendLine, and always leaves the session in Alarm.
func (s *Session) EmergencyStop() {
	s.mu.Lock()
	port := s.port
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending != nil {
		pending <- ackResult{err: ErrPreempted}
	}

	if port != nil {
		s.writeMu.Lock()
		if _, err := port.Write([]byte{charFeedHold}); err != nil {
			s.logger.Warn("Emergency stop: feed-hold write failed", zap.Error(err))
		}
		if _, err := port.Write([]byte{charSoftReset}); err != nil {
			s.logger.Warn("Emergency stop: soft-reset write failed", zap.Error(err))
		}
		s.writeMu.Unlock()
	}

	s.setState(StateAlarm, "emergency stop")
}

func (s *Session) converse(ctx context.Context, line string, timeout time.Duration) (Ack, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ch := make(chan ackResult, 1)

	s.mu.Lock()
	if s.port == nil {
		s.mu.Unlock()
		return Ack{}, ErrNotConnected
	}
	s.pending = ch
	s.mu.Unlock()

	clear := func() {
		s.mu.Lock()
		if s.pending == ch {
			s.pending = nil
		}
		s.mu.Unlock()
	}

	if err := s.writeRaw([]byte(line + "\n")); err != nil {
		clear()
		s.fail(err)
		return Ack{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.ack, res.err
	case <-ctx.Done():
		clear()
		return Ack{}, ctx.Err()
	case <-timer.C:
		clear()
		return Ack{}, fmt.Errorf("%w: %q after %s", ErrAckTimeout, line, timeout)
	}
}

func (s *Session) readLoop(port serialport.Port, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(line)
	}

	s.readerExit(scanner.Err())
}

func (s *Session) handleLine(line string) {
	switch {
	case IsStatusReport(line):
		s.handleStatus(line)

	case line == "ok" || strings.HasPrefix(line, "error:"):
		s.deliverAck(line)

	case strings.HasPrefix(line, "ALARM"):
		s.logger.Warn("Controller alarm", zap.String("line", line))
		s.setState(StateAlarm, line)

	case strings.HasPrefix(line, "Grbl") || strings.HasPrefix(line, "GrblHAL"):
		// Boot banner. Counts as a live controller during connect.
		s.logger.Info("Controller banner", zap.String("line", line))
		s.signalConnect()

	default:
		// Informational push ([MSG:...], settings echo). Never satisfies
		// an ack wait.
		s.logger.Debug("Controller message", zap.String("line", line))
	}
}

func (s *Session) handleStatus(line string) {
	s.mu.Lock()
	snap := s.snap
	if err := ParseStatus(&snap, line); err != nil {
		s.mu.Unlock()
		s.logger.Warn("Malformed status report", zap.String("line", line), zap.Error(err))
		return
	}
	snap.UpdatedAt = time.Now()

	cur := s.state
	target, known := stateFromSub(snap.Sub)
	// Alarm is sticky: a report may put the session into Alarm but never
	// out of it. Only an acked $X or homing cycle clears it.
	steady := cur == StateIdle || cur == StateRunning || cur == StateHold
	changed := known && steady && target != cur
	if changed {
		s.state = target
		snap.State = target
	} else {
		snap.State = cur
	}
	s.snap = snap
	onReport := s.onReport
	onState := s.onState
	s.mu.Unlock()

	s.signalConnect()

	if onReport != nil {
		onReport(snap)
	}
	if changed {
		s.logger.Info("Machine state changed",
			zap.String("state", string(snap.State)),
			zap.String("sub", snap.Sub))
		if onState != nil {
			onState(snap)
		}
	}
}

func (s *Session) deliverAck(line string) {
	s.mu.Lock()
	ch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if ch == nil {
		// An ack nobody is waiting for, e.g. after a preempted send.
		s.logger.Debug("Stray ack", zap.String("line", line))
		return
	}

	if line == "ok" {
		ch <- ackResult{ack: Ack{OK: true}}
		return
	}
	ch <- ackResult{ack: Ack{OK: false, Code: line}}
}

func (s *Session) signalConnect() {
	s.mu.RLock()
	ch := s.connectCh
	s.mu.RUnlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) statusPoll(stop chan struct{}) {
	if s.timeouts.StatusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.timeouts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.writeRealtime(charStatusQuery); err != nil {
				return
			}
		}
	}
}

func (s *Session) writeRealtime(b byte) error {
	return s.writeRaw([]byte{b})
}

func (s *Session) writeRaw(data []byte) error {
	s.mu.RLock()
	port := s.port
	s.mu.RUnlock()
	if port == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := port.Write(data)
	return err
}

// fail handles a fatal transport error mid-conversation. The session is
// dead until an explicit reconnect; nothing is retried.
func (s *Session) fail(err error) {
	s.logger.Error("Session I/O failure", zap.Error(err))
	s.teardown()
	s.setState(StateError, err.Error())
}

// readerExit runs when the read loop ends. During an intentional close
// the teardown path owns the state; anything else is a lost session.
func (s *Session) readerExit(err error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	port := s.port
	s.port = nil
	pending := s.pending
	s.pending = nil
	pollStop := s.pollStop
	s.pollStop = nil
	s.closing = true
	s.mu.Unlock()

	if pending != nil {
		if err != nil {
			pending <- ackResult{err: fmt.Errorf("%w: %v", ErrSessionLost, err)}
		} else {
			pending <- ackResult{err: ErrSessionLost}
		}
	}
	if pollStop != nil {
		close(pollStop)
	}
	if port != nil {
		port.Close()
	}

	if err != nil {
		s.logger.Error("Serial read failed", zap.Error(err))
	} else {
		s.logger.Error("Serial stream ended unexpectedly")
	}
	s.setState(StateError, "read path lost")
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.closing && s.port == nil {
		s.mu.Unlock()
		return
	}
	s.closing = true
	port := s.port
	s.port = nil
	pending := s.pending
	s.pending = nil
	pollStop := s.pollStop
	s.pollStop = nil
	readerDone := s.readerDone
	s.readerDone = nil
	s.connectCh = nil
	s.mu.Unlock()

	if pending != nil {
		pending <- ackResult{err: ErrSessionLost}
	}
	if pollStop != nil {
		close(pollStop)
	}
	if port != nil {
		port.Close()
	}
	if readerDone != nil {
		<-readerDone
	}
}

func (s *Session) setState(to MachineState, detail string) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if err := ValidateTransition(from, to); err != nil {
		s.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	s.state = to
	s.snap.State = to
	s.snap.UpdatedAt = time.Now()
	snap := s.snap
	onState := s.onState
	s.mu.Unlock()

	s.logger.Info("Machine state changed",
		zap.String("state", string(to)),
		zap.String("previous", string(from)),
		zap.String("detail", detail))

	if onState != nil {
		onState(snap)
	}
}
