package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/events"
	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"github.com/Saturday-Vinyl/machine-link/internal/jog"
	"github.com/Saturday-Vinyl/machine-link/internal/safety"
	"github.com/Saturday-Vinyl/machine-link/internal/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Controller is the control surface over one machine link: it owns the
// session, the streamer, the jog controller and the safety monitor, and
// publishes everything that happens as events.
type Controller struct {
	logger   *zap.Logger
	session  *grbl.Session
	streamer *stream.Streamer
	jog      *jog.Controller
	safety   *safety.Monitor
	events   *events.Streamer
	profile  string

	mu   sync.RWMutex
	port string
}

func NewController(
	logger *zap.Logger,
	session *grbl.Session,
	streamer *stream.Streamer,
	jogCtrl *jog.Controller,
	monitor *safety.Monitor,
	ev *events.Streamer,
	profileName string,
) *Controller {
	c := &Controller{
		logger:   logger,
		session:  session,
		streamer: streamer,
		jog:      jogCtrl,
		safety:   monitor,
		events:   ev,
		profile:  profileName,
	}

	session.SetStateListener(func(snap grbl.StatusSnapshot) {
		ev.Broadcast(events.New(events.TypeStateChanged, uuid.Nil, snap))
	})
	session.SetReportListener(func(snap grbl.StatusSnapshot) {
		ev.Broadcast(events.New(events.TypeStatusReport, uuid.Nil, snap))
	})

	return c
}

func (c *Controller) Connect(ctx context.Context, port string) error {
	if port == "" {
		return fmt.Errorf("%w: empty port", grbl.ErrInvalidRequest)
	}
	if err := c.session.Connect(ctx, port); err != nil {
		return err
	}
	c.mu.Lock()
	c.port = port
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the link. Any active job or jog loop is
// cancelled first so nothing writes into a closing port.
func (c *Controller) Disconnect() error {
	c.streamer.Cancel()
	c.jog.Cancel()

	err := c.session.Disconnect()
	c.mu.Lock()
	c.port = ""
	c.mu.Unlock()
	return err
}

func (c *Controller) Home(ctx context.Context) error {
	return c.session.Home(ctx)
}

func (c *Controller) Unlock(ctx context.Context) error {
	return c.session.Unlock(ctx)
}

func (c *Controller) SetZero(ctx context.Context, axisNames []string) error {
	axes := make([]grbl.Axis, 0, len(axisNames))
	for _, name := range axisNames {
		axis, err := grbl.ParseAxis(name)
		if err != nil {
			return err
		}
		axes = append(axes, axis)
	}
	return c.session.SetZero(ctx, axes)
}

func (c *Controller) StartStream(lines []string) (*stream.Job, error) {
	if c.jog.Active() {
		return nil, fmt.Errorf("%w: jog in progress", stream.ErrNotReady)
	}
	return c.streamer.Start(lines)
}

func (c *Controller) PauseStream() error  { return c.streamer.Pause() }
func (c *Controller) ResumeStream() error { return c.streamer.Resume() }
func (c *Controller) StopStream() error   { return c.streamer.Stop() }

func (c *Controller) ActiveJob() *stream.Job { return c.streamer.Active() }

func (c *Controller) JogStart(axisName string, sign int) error {
	axis, err := grbl.ParseAxis(axisName)
	if err != nil {
		return err
	}
	return c.jog.Start(axis, sign)
}

func (c *Controller) JogStop() error { return c.jog.Stop() }

func (c *Controller) SetJogMode(mode string) error {
	return c.jog.SetMode(jog.Mode(mode))
}

// EmergencyStop routes through the safety monitor so every command
// source is silenced before the physical stop goes out.
func (c *Controller) EmergencyStop() {
	c.safety.TriggerStop()
}

func (c *Controller) GetStatus() MachineStatus {
	c.mu.RLock()
	port := c.port
	c.mu.RUnlock()

	status := MachineStatus{
		State:     c.session.State(),
		Port:      port,
		Profile:   c.profile,
		Telemetry: c.session.Snapshot(),
		JogActive: c.jog.Active(),
		JogMode:   c.jog.Mode(),
		Timestamp: time.Now(),
	}

	if job := c.streamer.Active(); job != nil {
		js := job.Status()
		status.Job = &js
	}

	return status
}

func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.logger.Info("Machine command received", zap.String("command", string(cmd)))

	switch cmd {
	case CommandHome:
		return c.Home(ctx)
	case CommandUnlock:
		return c.Unlock(ctx)
	case CommandEStop:
		c.EmergencyStop()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}
