package machine

import (
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
	"github.com/Saturday-Vinyl/machine-link/internal/jog"
	"github.com/Saturday-Vinyl/machine-link/internal/stream"
)

type Command string

const (
	CommandHome   Command = "home"
	CommandUnlock Command = "unlock"
	CommandEStop  Command = "estop"
)

type MachineStatus struct {
	State     grbl.MachineState   `json:"state"`
	Port      string              `json:"port,omitempty"`
	Profile   string              `json:"profile"`
	Telemetry grbl.StatusSnapshot `json:"telemetry"`
	Job       *stream.JobStatus   `json:"job,omitempty"`
	JogActive bool                `json:"jog_active"`
	JogMode   jog.Mode            `json:"jog_mode"`
	Timestamp time.Time           `json:"timestamp"`
}
