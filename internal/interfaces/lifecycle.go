package interfaces

import (
	"context"

	"github.com/Saturday-Vinyl/machine-link/internal/config"
	"github.com/Saturday-Vinyl/machine-link/internal/machine"
)

// SystemStatus represents the current daemon state
type SystemStatus struct {
	State        string `json:"state"`
	MachineState string `json:"machine_state"`
	Port         string `json:"port,omitempty"`
	Profile      string `json:"profile"`
}

type LifecycleManager interface {
	Config() *config.Config
	MachineController() *machine.Controller
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
