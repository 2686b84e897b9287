package grbl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJogCommand(t *testing.T) {
	assert.Equal(t, "$J=G21G91F10000X1", JogCommand(AxisX, 1, 10000))
	assert.Equal(t, "$J=G21G91F10000Y-1", JogCommand(AxisY, -1, 10000))
	assert.Equal(t, "$J=G21G91F6000Z0.1", JogCommand(AxisZ, 0.1, 6000))
	assert.Equal(t, "$J=G21G91F6000X-10", JogCommand(AxisX, -10, 6000))
}

func TestSetZeroCommand(t *testing.T) {
	assert.Equal(t, "G10 L20 P1 X0", SetZeroCommand([]Axis{AxisX}))
	assert.Equal(t, "G10 L20 P1 X0 Y0", SetZeroCommand([]Axis{AxisX, AxisY}))
	assert.Equal(t, "G10 L20 P1 X0 Y0 Z0", SetZeroCommand([]Axis{AxisX, AxisY, AxisZ}))
}

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]Axis{
		"X": AxisX, "x": AxisX, " y ": AxisY, "Z": AxisZ,
	} {
		got, err := ParseAxis(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseAxis("A")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
