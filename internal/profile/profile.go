package profile

import (
	"fmt"
	"time"

	"github.com/Saturday-Vinyl/machine-link/internal/grbl"
)

// Definition describes one controller flavor. grbl and grblHAL speak
// the same line protocol; the differences that matter to this daemon
// are tunables, so a profile is data rather than code.
type Definition struct {
	Name        string `json:"name"`
	Firmware    string `json:"firmware"`
	Description string `json:"description,omitempty"`

	BaudRate int `json:"baud_rate,omitempty"`

	// Duration strings ("10s", "90s"). Empty means keep the configured
	// default.
	AckTimeout     string `json:"ack_timeout,omitempty"`
	HomingTimeout  string `json:"homing_timeout,omitempty"`
	StatusInterval string `json:"status_interval,omitempty"`

	JogFeedRate float64 `json:"jog_feed_rate,omitempty"`
}

// ApplyTimeouts overlays the profile's overrides on the configured
// defaults.
func (d *Definition) ApplyTimeouts(base grbl.Timeouts) (grbl.Timeouts, error) {
	out := base

	overlay := func(s string, dst *time.Duration, field string) error {
		if s == "" {
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("profile %s: bad %s %q: %w", d.Name, field, s, err)
		}
		*dst = v
		return nil
	}

	if err := overlay(d.AckTimeout, &out.Ack, "ack_timeout"); err != nil {
		return base, err
	}
	if err := overlay(d.HomingTimeout, &out.Homing, "homing_timeout"); err != nil {
		return base, err
	}
	if err := overlay(d.StatusInterval, &out.StatusInterval, "status_interval"); err != nil {
		return base, err
	}
	return out, nil
}
