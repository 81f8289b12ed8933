package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/companyzero/ghostrec/recsession"
	"github.com/decred/slog"
)

// ErrUnsupportedFormat is returned when a recorder is requested with a
// container or encoder the backend cannot produce.
var ErrUnsupportedFormat = errors.New("unsupported recording format")

// BackendOption configures a Backend.
type BackendOption func(b *Backend)

// WithCaptureDevice selects the capture device. An empty id selects the
// system default.
func WithCaptureDevice(id DeviceID) BackendOption {
	return func(d *Backend) {
		d.captureID = id
	}
}

// WithPlaybackDevice selects the playback device. An empty id selects the
// system default.
func WithPlaybackDevice(id DeviceID) BackendOption {
	return func(d *Backend) {
		d.playbackID = id
	}
}

// WithLogger sets the logger of the backend and the resources it creates.
func WithLogger(log slog.Logger) BackendOption {
	return func(d *Backend) {
		d.log = log
	}
}

// withAudioContext replaces the backend. Used in tests.
func withAudioContext(ctx audioContext) BackendOption {
	return func(d *Backend) {
		d.audioCtx = ctx
	}
}

// Backend provides recorders and players backed by the compiled in audio
// backend. The backend context is created on first use.
type Backend struct {
	log        slog.Logger
	captureID  DeviceID
	playbackID DeviceID

	mtx      sync.Mutex
	audioCtx audioContext
}

// NewBackend creates a new audio backend.
func NewBackend(opts ...BackendOption) *Backend {
	d := &Backend{log: slog.Disabled}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Backend) context() (audioContext, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.audioCtx != nil {
		return d.audioCtx, nil
	}

	audioCtx, err := newAudioContext(d.log)
	if err != nil {
		return nil, fmt.Errorf("unable to init audio context: %w", err)
	}
	if addDebugTrace {
		d.log.Infof("Initialized audio driver %s WITH DEBUG TRACE", audioCtx.name())
	} else {
		d.log.Infof("Initialized audio driver %s", audioCtx.name())
	}
	d.audioCtx = audioCtx
	return audioCtx, nil
}

// AcquireRecorder returns a new recorder that writes to cfg.OutputPath.
func (d *Backend) AcquireRecorder(cfg recsession.RecorderConfig) (recsession.Recorder, error) {
	if cfg.Container != recsession.ContainerOgg {
		return nil, fmt.Errorf("%w: container %s", ErrUnsupportedFormat, cfg.Container)
	}
	switch cfg.Encoder {
	case recsession.EncoderDefault, recsession.EncoderNarrowbandSpeech:
	default:
		return nil, fmt.Errorf("%w: encoder %d", ErrUnsupportedFormat, cfg.Encoder)
	}

	audioCtx, err := d.context()
	if err != nil {
		return nil, err
	}
	return newFileRecorder(audioCtx, d.captureID, cfg.OutputPath, d.log), nil
}

// AcquirePlayer returns a new player for the file at source.
func (d *Backend) AcquirePlayer(source string) (recsession.Player, error) {
	audioCtx, err := d.context()
	if err != nil {
		return nil, err
	}
	return newFilePlayer(audioCtx, d.playbackID, source, d.log), nil
}

// Close frees the backend context.
func (d *Backend) Close() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.audioCtx == nil {
		return nil
	}
	err := d.audioCtx.free()
	d.audioCtx = nil
	return err
}

var _ recsession.Device = (*Backend)(nil)
