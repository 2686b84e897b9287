package safety

import (
	"go.uber.org/zap"
)

// Stopper issues the physical stop sequence. Implemented by the grbl
// session.
type Stopper interface {
	EmergencyStop()
}

// Canceller tears down a command source without touching the
// controller. Implemented by the streamer and the jog controller.
type Canceller interface {
	Cancel()
}

// Monitor is the one path guaranteed to halt the machine no matter what
// else is in flight. It first cancels everything that could queue
// another command, then fires the stop sequence, so nothing is written
// after the stop signal.
type Monitor struct {
	logger  *zap.Logger
	stopper Stopper
	sources []Canceller
}

func NewMonitor(logger *zap.Logger, stopper Stopper, sources ...Canceller) *Monitor {
	return &Monitor{
		logger:  logger,
		stopper: stopper,
		sources: sources,
	}
}

// TriggerStop is callable from any goroutine. It never blocks on an
// ack: the reason for calling it may be that the controller is
// unresponsive. Idempotent.
func (m *Monitor) TriggerStop() {
	m.logger.Warn("Safety stop triggered")

	for _, src := range m.sources {
		src.Cancel()
	}

	m.stopper.EmergencyStop()
}
