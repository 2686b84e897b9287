package grbl

import (
	"fmt"
	"strings"
)

// IsStatusReport reports whether a received line is a <...> framed
// realtime status push.
func IsStatusReport(line string) bool {
	return strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">")
}

// ParseStatus merges one status report into the snapshot. Unrecognized
// fields are skipped, so grbl and grblHAL layouts both parse with the
// same code; only a malformed known field is an error.
func ParseStatus(snap *StatusSnapshot, data string) error {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")

	parts := strings.Split(data, "|")
	if parts[0] == "" {
		return fmt.Errorf("status report without state token: %q", data)
	}
	snap.Sub = parts[0]

	var useMPos bool
	for _, part := range parts[1:] {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}

		var err error
		switch name {
		case "MPos":
			useMPos = true
			_, err = fmt.Sscanf(value, "%f,%f,%f", &snap.MPos.X, &snap.MPos.Y, &snap.MPos.Z)
			snap.WPos.X = snap.MPos.X - snap.WCO.X
			snap.WPos.Y = snap.MPos.Y - snap.WCO.Y
			snap.WPos.Z = snap.MPos.Z - snap.WCO.Z
		case "WPos":
			_, err = fmt.Sscanf(value, "%f,%f,%f", &snap.WPos.X, &snap.WPos.Y, &snap.WPos.Z)
			snap.MPos.X = snap.WPos.X + snap.WCO.X
			snap.MPos.Y = snap.WPos.Y + snap.WCO.Y
			snap.MPos.Z = snap.WPos.Z + snap.WCO.Z
		case "WCO":
			_, err = fmt.Sscanf(value, "%f,%f,%f", &snap.WCO.X, &snap.WCO.Y, &snap.WCO.Z)
			if useMPos {
				snap.WPos.X = snap.MPos.X - snap.WCO.X
				snap.WPos.Y = snap.MPos.Y - snap.WCO.Y
				snap.WPos.Z = snap.MPos.Z - snap.WCO.Z
			} else {
				snap.MPos.X = snap.WPos.X + snap.WCO.X
				snap.MPos.Y = snap.WPos.Y + snap.WCO.Y
				snap.MPos.Z = snap.WPos.Z + snap.WCO.Z
			}
		case "F":
			_, err = fmt.Sscanf(value, "%f", &snap.Feed)
		case "FS":
			_, err = fmt.Sscanf(value, "%f,%f", &snap.Feed, &snap.Spindle)
		}
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", name, value, err)
		}
	}

	return nil
}

// stateFromSub maps a controller sub-state token onto the session state
// machine. Tokens may carry a mantissa ("Hold:1", "Door:3"); only the
// leading word matters.
func stateFromSub(sub string) (MachineState, bool) {
	word, _, _ := strings.Cut(sub, ":")
	switch word {
	case "Idle", "Check", "Sleep":
		return StateIdle, true
	case "Run", "Jog", "Home", "Homing":
		return StateRunning, true
	case "Hold", "Door":
		return StateHold, true
	case "Alarm":
		return StateAlarm, true
	}
	return "", false
}
