package grbl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStatusReport(t *testing.T) {
	assert.True(t, IsStatusReport("<Idle|MPos:0.000,0.000,0.000|FS:0,0>"))
	assert.True(t, IsStatusReport("<Run>"))
	assert.False(t, IsStatusReport("ok"))
	assert.False(t, IsStatusReport("error:20"))
	assert.False(t, IsStatusReport("[MSG:Caution: Unlocked]"))
}

func TestParseStatus_MPos(t *testing.T) {
	var snap StatusSnapshot
	err := ParseStatus(&snap, "<Idle|MPos:10.000,-2.500,1.000|FS:500,8000>")
	require.NoError(t, err)

	assert.Equal(t, "Idle", snap.Sub)
	assert.InDelta(t, 10.0, snap.MPos.X, 1e-9)
	assert.InDelta(t, -2.5, snap.MPos.Y, 1e-9)
	assert.InDelta(t, 1.0, snap.MPos.Z, 1e-9)
	assert.InDelta(t, 500.0, snap.Feed, 1e-9)
	assert.InDelta(t, 8000.0, snap.Spindle, 1e-9)
}

func TestParseStatus_WCOArithmetic(t *testing.T) {
	var snap StatusSnapshot

	// WCO arrives periodically rather than in every report. Both
	// coordinate frames must stay consistent either way.
	require.NoError(t, ParseStatus(&snap, "<Run|MPos:15.000,20.000,5.000|WCO:10.000,10.000,0.000>"))
	assert.InDelta(t, 5.0, snap.WPos.X, 1e-9)
	assert.InDelta(t, 10.0, snap.WPos.Y, 1e-9)
	assert.InDelta(t, 5.0, snap.WPos.Z, 1e-9)

	// Next report omits WCO; the retained offset still applies.
	require.NoError(t, ParseStatus(&snap, "<Run|MPos:16.000,20.000,5.000>"))
	assert.InDelta(t, 6.0, snap.WPos.X, 1e-9)

	// WPos-style report converts back to machine coordinates.
	require.NoError(t, ParseStatus(&snap, "<Run|WPos:7.000,10.000,5.000>"))
	assert.InDelta(t, 17.0, snap.MPos.X, 1e-9)
}

func TestParseStatus_UnknownFieldsSkipped(t *testing.T) {
	var snap StatusSnapshot
	err := ParseStatus(&snap, "<Idle|MPos:1.000,2.000,3.000|Bf:15,128|Ov:100,100,100|Pn:XYZ>")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, snap.MPos.X, 1e-9)
	assert.InDelta(t, 3.0, snap.MPos.Z, 1e-9)
}

func TestParseStatus_SubStateTokens(t *testing.T) {
	var snap StatusSnapshot
	require.NoError(t, ParseStatus(&snap, "<Hold:0|MPos:0.000,0.000,0.000>"))
	assert.Equal(t, "Hold:0", snap.Sub)

	st, ok := stateFromSub(snap.Sub)
	require.True(t, ok)
	assert.Equal(t, StateHold, st)
}

func TestParseStatus_Malformed(t *testing.T) {
	var snap StatusSnapshot
	assert.Error(t, ParseStatus(&snap, "<|MPos:1,2,3>"))
	assert.Error(t, ParseStatus(&snap, "<Idle|MPos:not,a,number>"))
}

func TestStateFromSub(t *testing.T) {
	tests := []struct {
		sub   string
		state MachineState
		known bool
	}{
		{"Idle", StateIdle, true},
		{"Check", StateIdle, true},
		{"Sleep", StateIdle, true},
		{"Run", StateRunning, true},
		{"Jog", StateRunning, true},
		{"Home", StateRunning, true},
		{"Hold:1", StateHold, true},
		{"Door:3", StateHold, true},
		{"Alarm", StateAlarm, true},
		{"Tool", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			st, ok := stateFromSub(tt.sub)
			assert.Equal(t, tt.known, ok)
			if tt.known {
				assert.Equal(t, tt.state, st)
			}
		})
	}
}
