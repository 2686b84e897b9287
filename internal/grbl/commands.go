package grbl

import (
	"fmt"
	"strings"
)

// Realtime characters. These bypass the controller's line buffer and are
// acted on immediately; they are sent without a newline and produce no ack.
const (
	charStatusQuery byte = '?'
	charFeedHold    byte = '!'
	charCycleStart  byte = '~'
	charSoftReset   byte = 0x18
)

const (
	cmdHome         = "$H"
	cmdUnlock       = "$X"
	cmdAbsoluteMode = "G90"
)

type Axis rune

const (
	AxisX Axis = 'X'
	AxisY Axis = 'Y'
	AxisZ Axis = 'Z'
)

func ParseAxis(s string) (Axis, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return AxisX, nil
	case "Y":
		return AxisY, nil
	case "Z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("%w: unknown axis %q", ErrInvalidRequest, s)
}

// JogCommand builds a $J= relative jog line. The $J interface is
// non-modal: it never disturbs the G90/G91 state of the program, which is
// why jogging uses it instead of plain G0 moves.
func JogCommand(axis Axis, mm, feed float64) string {
	return fmt.Sprintf("$J=G21G91F%.0f%c%0.4g", feed, axis, mm)
}

// SetZeroCommand builds the work-offset line for exactly the given axes.
func SetZeroCommand(axes []Axis) string {
	var b strings.Builder
	b.WriteString("G10 L20 P1")
	for _, a := range axes {
		fmt.Fprintf(&b, " %c0", a)
	}
	return b.String()
}
