package jog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"go.uber.org/zap"
)

var (
	ErrNotReady    = errors.New("machine is not ready for jogging")
	ErrInvalidMode = errors.New("unknown jog mode")
	ErrInvalidSign = errors.New("jog sign must be +1 or -1")
)

type Mode string

const (
	ModeCoarse Mode = "coarse"
	ModeNormal Mode = "normal"
	ModeFine   Mode = "fine"
)

type Config struct {
	StepCoarse   float64
	StepNormal   float64
	StepFine     float64
	FeedRate     float64
	TickInterval time.Duration
}

// Session is the slice of the controller session jogging needs.
type Session interface {
	State() grbl.MachineState
	SendLine(ctx context.Context, line string) (grbl.Ack, error)
	FeedHold() error
}

type run struct {
	axis   grbl.Axis
	sign   int
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller turns a held directional input into a bounded series of
// relative moves. One move per tick, each acked before the next goes
// out, so the controller's motion buffer can never run away from a
// released button.
type Controller struct {
	logger  *zap.Logger
	session Session
	cfg     Config

	// busy reports whether a stream job is active; jogging and
	// streaming are mutually exclusive.
	busy func() bool

	mu     sync.Mutex
	mode   Mode
	active *run
}

func NewController(logger *zap.Logger, session Session, cfg Config, busy func() bool) *Controller {
	if busy == nil {
		busy = func() bool { return false }
	}
	return &Controller{
		logger:  logger,
		session: session,
		cfg:     cfg,
		mode:    ModeNormal,
		busy:    busy,
	}
}

// SetMode selects the step magnitude. Pure configuration, no motion.
func (c *Controller) SetMode(mode Mode) error {
	switch mode {
	case ModeCoarse, ModeNormal, ModeFine:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) step() float64 {
	switch c.mode {
	case ModeCoarse:
		return c.cfg.StepCoarse
	case ModeFine:
		return c.cfg.StepFine
	default:
		return c.cfg.StepNormal
	}
}

// Start begins repeating relative moves along one axis until Stop. A
// jog already running in another direction is stopped first; at most
// one direction is ever active.
func (c *Controller) Start(axis grbl.Axis, sign int) error {
	if sign != 1 && sign != -1 {
		return ErrInvalidSign
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Stop-previous and install happen under one lock so two concurrent
	// starts can never leave two loops running. The run loop itself
	// never takes c.mu, so waiting it out here cannot deadlock.
	if prev := c.active; prev != nil {
		c.active = nil
		c.halt(prev)
	}

	if c.busy() {
		return fmt.Errorf("%w: stream job active", ErrNotReady)
	}
	if state := c.session.State(); state != grbl.StateIdle {
		return fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		axis:   axis,
		sign:   sign,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active = r

	mm := float64(sign) * c.step()
	go c.runLoop(r, mm)

	c.logger.Info("Jog started",
		zap.String("axis", string(axis)),
		zap.Int("sign", sign),
		zap.Float64("step_mm", mm),
		zap.String("mode", string(c.mode)))

	return nil
}

// Stop ends the repetition, halts any queued move with a feed-hold and
// restores absolute mode so later operations are never silently
// relative. Safe to call when no jog is active.
func (c *Controller) Stop() error {
	r := c.takeActive()
	if r == nil {
		return nil
	}
	c.halt(r)

	if err := c.session.FeedHold(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.session.SendLine(ctx, "G90"); err != nil {
		return fmt.Errorf("restore absolute mode: %w", err)
	}

	c.logger.Info("Jog stopped")
	return nil
}

// Cancel tears down the repeating loop without touching the controller.
// The safety monitor uses it before issuing the physical stop itself;
// it never blocks on an ack.
func (c *Controller) Cancel() {
	r := c.takeActive()
	if r == nil {
		return
	}
	r.cancel()
}

// Active reports whether a jog loop is currently running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Controller) takeActive() *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.active
	c.active = nil
	return r
}

func (c *Controller) halt(r *run) {
	r.cancel()
	<-r.done
}

// runLoop issues the first step immediately, so a tap shorter than one
// tick still moves exactly one step, then repeats on the tick until
// cancelled. Each step awaits its ack before another is issued.
func (c *Controller) runLoop(r *run, mm float64) {
	defer close(r.done)

	if !c.issueStep(r, mm) {
		return
	}

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !c.issueStep(r, mm) {
				return
			}
		}
	}
}

func (c *Controller) issueStep(r *run, mm float64) bool {
	ack, err := c.session.SendLine(r.ctx, grbl.JogCommand(r.axis, mm, c.cfg.FeedRate))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("Jog step failed", zap.Error(err))
		}
		return false
	}
	if !ack.OK {
		c.logger.Error("Jog step rejected", zap.String("code", ack.Code))
		return false
	}
	return true
}
