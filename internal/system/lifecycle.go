package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/Saturday-Vinyl/machine-link/internal/api/rest"
	"github.com/Saturday-Vinyl/machine-link/internal/api/websocket"
	"github.com/Saturday-Vinyl/machine-link/internal/auth"
	"github.com/Saturday-Vinyl/machine-link/internal/config"
	"github.com/Saturday-Vinyl/machine-link/internal/events"
	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"github.com/Saturday-Vinyl/machine-link/internal/interfaces"
	"github.com/Saturday-Vinyl/machine-link/internal/jog"
	"github.com/Saturday-Vinyl/machine-link/internal/machine"
	"github.com/Saturday-Vinyl/machine-link/internal/profile"
	"github.com/Saturday-Vinyl/machine-link/internal/safety"
	"github.com/Saturday-Vinyl/machine-link/internal/serialport"
	"github.com/Saturday-Vinyl/machine-link/internal/stream"
	"go.uber.org/zap"
)

// LifecycleManager wires the whole daemon together and owns startup and
// shutdown ordering.
type LifecycleManager struct {
	config            *config.Config
	logger            *zap.Logger
	profileDef        *profile.Definition
	eventStreamer     *events.Streamer
	machineController *machine.Controller

	restServer *rest.Server
	wsHub      *websocket.Hub

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := profile.NewLoader(cfg.Profiles.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	def, err := loader.Load(cfg.Profiles.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to load controller profile: %w", err)
	}

	timeouts := grbl.Timeouts{
		Connect:        cfg.Serial.ConnectTimeout,
		Ack:            cfg.Serial.AckTimeout,
		Homing:         cfg.Serial.HomingTimeout,
		StatusInterval: cfg.Serial.StatusInterval,
	}
	timeouts, err = def.ApplyTimeouts(timeouts)
	if err != nil {
		return nil, err
	}

	baud := cfg.Serial.BaudRate
	if def.BaudRate != 0 {
		baud = def.BaudRate
	}

	jogFeed := cfg.Jog.FeedRate
	if def.JogFeedRate != 0 {
		jogFeed = def.JogFeedRate
	}

	session := grbl.NewSession(logger, serialport.Open, baud, timeouts)
	eventStreamer := events.NewStreamer()
	streamer := stream.NewStreamer(logger, session, eventStreamer)

	jogCtrl := jog.NewController(logger, session, jog.Config{
		StepCoarse:   cfg.Jog.StepCoarse,
		StepNormal:   cfg.Jog.StepNormal,
		StepFine:     cfg.Jog.StepFine,
		FeedRate:     jogFeed,
		TickInterval: cfg.Jog.TickInterval,
	}, func() bool {
		job := streamer.Active()
		return job != nil && !job.Finished()
	})

	monitor := safety.NewMonitor(logger, session, streamer, jogCtrl)

	machineController := machine.NewController(
		logger, session, streamer, jogCtrl, monitor, eventStreamer, def.Name)

	authService := auth.NewService(
		logger,
		cfg.Auth.GetJWTSecret(),
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.OperatorUser,
		cfg.Auth.OperatorPasswordHash,
		cfg.Auth.PendantTokens,
	)

	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is the development fallback; set it before exposing the daemon")
	}

	wsHub := websocket.NewHub(logger, authService)

	lm := &LifecycleManager{
		config:            cfg,
		logger:            logger,
		profileDef:        def,
		eventStreamer:     eventStreamer,
		machineController: machineController,
		wsHub:             wsHub,
		currentState:      StateInitializing,
	}

	lm.restServer = rest.NewServer(cfg, lm, logger, wsHub, authService)

	return lm, nil
}

func (lm *LifecycleManager) Config() *config.Config { return lm.config }

func (lm *LifecycleManager) MachineController() *machine.Controller {
	return lm.machineController
}

// Start starts the event hub and the API server, then optionally
// connects to the configured default port.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting machine-link",
		zap.String("profile", lm.profileDef.Name),
		zap.String("firmware", lm.profileDef.Firmware))

	go lm.wsHub.Run()
	go lm.wsHub.ForwardEvents(lm.eventStreamer)

	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST server: %w", err)
	}

	lm.setState(StateRunning)

	if port := lm.config.Serial.DefaultPort; port != "" {
		ctx, cancel := context.WithTimeout(context.Background(), lm.config.Serial.ConnectTimeout)
		defer cancel()
		if err := lm.machineController.Connect(ctx, port); err != nil {
			// Not fatal: the operator can connect through the API later.
			lm.logger.Warn("Auto-connect failed",
				zap.String("port", port),
				zap.Error(err))
		}
	}

	return nil
}

func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	ms := lm.machineController.GetStatus()
	return interfaces.SystemStatus{
		State:        state.String(),
		MachineState: string(ms.State),
		Port:         ms.Port,
		Profile:      ms.Profile,
	}
}

// Shutdown stops command sources, closes the serial link and drains the
// HTTP server, in that order.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var err error
	lm.shutdownOnce.Do(func() {
		lm.setState(StateStopping)

		if derr := lm.machineController.Disconnect(); derr != nil {
			lm.logger.Error("Disconnect during shutdown failed", zap.Error(derr))
			err = derr
		}

		if serr := lm.restServer.Shutdown(ctx); serr != nil {
			lm.logger.Error("REST shutdown failed", zap.Error(serr))
			if err == nil {
				err = serr
			}
		}

		lm.setState(StateStopped)
	})
	return err
}

func (lm *LifecycleManager) setState(to SystemState) {
	lm.stateMu.Lock()
	from := lm.currentState
	if err := ValidateTransition(from, to); err != nil {
		lm.logger.Warn("Unexpected system transition", zap.Error(err))
	}
	lm.currentState = to
	lm.stateMu.Unlock()

	lm.logger.Info("System state changed",
		zap.String("state", to.String()),
		zap.String("previous", from.String()))
}
