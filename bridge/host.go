package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/companyzero/ghostrec/internal/audio"
	"github.com/companyzero/ghostrec/recsession"
)

// HostConfig is the configuration passed by an embedding UI host.
type HostConfig struct {
	RecordingsDir  string `json:"recordingsDir"`
	LogFile        string `json:"logFile"`
	DebugLevel     string `json:"debugLevel"`
	MaxLogFiles    int    `json:"maxLogFiles"`
	NotifyLogLines bool   `json:"notifyLogLines"`
	CaptureDevice  string `json:"captureDevice"`
	PlaybackDevice string `json:"playbackDevice"`

	// PermissionsGranted is the initial permission state. Hosts update it
	// with Host.Permissions().SetGranted.
	PermissionsGranted bool `json:"permissionsGranted"`
}

// Host is a running bridge together with the audio device and logging it
// owns.
type Host struct {
	*Bridge

	perms   *HostPermissions
	logBknd *LogBackend
	dev     *audio.Backend
	cancel  func()
	runDone chan error
}

// StartHost creates and starts a bridge configured by cfg.
func StartHost(cfg HostConfig) (*Host, error) {
	if cfg.RecordingsDir == "" {
		return nil, errors.New("recordingsDir is required")
	}

	logBknd, err := NewLogBackend(LogConfig{
		LogFile:     cfg.LogFile,
		DebugLevel:  cfg.DebugLevel,
		MaxLogFiles: cfg.MaxLogFiles,
		Stdout:      os.Stdout,
	})
	if err != nil {
		return nil, err
	}

	dev := audio.NewBackend(
		audio.WithCaptureDevice(audio.DeviceID(cfg.CaptureDevice)),
		audio.WithPlaybackDevice(audio.DeviceID(cfg.PlaybackDevice)),
		audio.WithLogger(logBknd.Logger("AUDI")),
	)
	mgr := recsession.New(dev, recsession.WithLogger(logBknd.Logger("RECS")))

	perms := new(HostPermissions)
	perms.SetGranted(cfg.PermissionsGranted)
	b := New(mgr,
		WithPermissions(perms),
		WithRecordingsDir(cfg.RecordingsDir),
		WithLogger(logBknd.Logger("BRDG")),
	)
	if cfg.NotifyLogLines {
		logBknd.SetLineNotifier(b.NotifyLogLine)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		Bridge:  b,
		perms:   perms,
		logBknd: logBknd,
		dev:     dev,
		cancel:  cancel,
		runDone: make(chan error, 1),
	}
	go func() { h.runDone <- b.Run(ctx) }()

	b.log.Infof("Bridge started (recordings in %s)", cfg.RecordingsDir)
	return h, nil
}

// Permissions returns the permission state consulted before recording.
func (h *Host) Permissions() *HostPermissions {
	return h.perms
}

// Stop stops the bridge, tearing down any active session, and frees the
// audio device.
func (h *Host) Stop() error {
	h.cancel()
	err := <-h.runDone
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	h.logBknd.SetLineNotifier(nil)
	if devErr := h.dev.Close(); devErr != nil {
		err = errors.Join(err, fmt.Errorf("unable to close audio device: %w", devErr))
	}
	h.Bridge.log.Infof("Bridge stopped")
	if logErr := h.logBknd.Close(); logErr != nil {
		err = errors.Join(err, logErr)
	}
	return err
}
