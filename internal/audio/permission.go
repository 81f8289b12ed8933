package audio

import (
	"errors"

	"github.com/decred/slog"
)

// CapturePermission reports whether audio can be captured on this host.
type CapturePermission struct {
	log slog.Logger
}

// NewCapturePermission creates a new capture permission checker.
func NewCapturePermission(log slog.Logger) *CapturePermission {
	return &CapturePermission{log: log}
}

// HasPermissions returns true when at least one capture device is available.
// Builds without audio support always report true so that failures surface
// from the recorder instead.
func (c *CapturePermission) HasPermissions() bool {
	devs, err := ListAudioDevices(c.log)
	if errors.Is(err, errAudioDisabledCompilation) {
		return true
	}
	if err != nil {
		c.log.Warnf("Unable to list capture devices: %v", err)
		return false
	}
	return len(devs.Capture) > 0
}
