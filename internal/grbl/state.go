package grbl

import (
	"fmt"
	"time"
)

type MachineState string

const (
	StateDisconnected MachineState = "disconnected"
	StateConnecting   MachineState = "connecting"
	StateIdle         MachineState = "idle"
	StateRunning      MachineState = "running"
	StateHold         MachineState = "hold"
	StateAlarm        MachineState = "alarm"
	StateError        MachineState = "error"
)

// Position is a machine coordinate triple in millimeters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// StatusSnapshot is the last-known telemetry of the controller. It is
// written only by the session's read path; everyone else receives copies,
// so a reader can never observe a half-updated position.
type StatusSnapshot struct {
	State MachineState `json:"state"`

	// Sub is the raw sub-state token from the last <...> report,
	// e.g. "Idle", "Run", "Hold:0". Empty until the first report.
	Sub string `json:"sub,omitempty"`

	MPos Position `json:"mpos"`
	WPos Position `json:"wpos"`
	WCO  Position `json:"wco"`

	Feed    float64 `json:"feed"`
	Spindle float64 `json:"spindle"`

	UpdatedAt time.Time `json:"updated_at"`
}

var validTransitions = map[MachineState][]MachineState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateIdle, StateAlarm, StateDisconnected, StateError},
	StateIdle:         {StateRunning, StateHold, StateAlarm, StateError, StateDisconnected},
	StateRunning:      {StateIdle, StateHold, StateAlarm, StateError, StateDisconnected},
	StateHold:         {StateRunning, StateIdle, StateAlarm, StateError, StateDisconnected},
	StateAlarm:        {StateIdle, StateError, StateDisconnected},
	StateError:        {StateConnecting, StateDisconnected},
}

// ValidateTransition reports whether from -> to is an expected state
// change. Alarm is reachable from every state: an emergency stop is never
// refused on state-machine grounds.
func ValidateTransition(from, to MachineState) error {
	if to == StateAlarm {
		return nil
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
