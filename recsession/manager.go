package recsession

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/decred/slog"
)

const (
	msgRecordingStarted = "Recording started"
	msgRecordingStopped = "Recording stopped."
	msgPlaybackStarted  = "Playback started"
	msgPlaybackStopped  = "Playback stopped"
	msgNoFile           = "File path is null"
)

// Manager owns at most one recording and at most one playback handle and
// sequences the operations on them. All methods are safe for concurrent use;
// calls are serialized by an internal mutex.
type Manager struct {
	dev       Device
	log       slog.Logger
	container Container
	now       func() time.Time

	mtx       sync.Mutex
	recording slot[Recorder]
	playback  slot[Player]
}

// Option configures a Manager.
type Option func(m *Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(log slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithContainer sets the container requested for new recordings.
func WithContainer(c Container) Option {
	return func(m *Manager) {
		m.container = c
	}
}

// WithClock sets the clock used to name recordings.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a manager that delegates to dev. Both handles start absent.
func New(dev Device, opts ...Option) *Manager {
	m := &Manager{
		dev:       dev,
		log:       slog.Disabled,
		container: ContainerOgg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// guard runs f, converting a panic into an error.
func guard(op string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s: %v", op, r)
		}
	}()
	return f()
}

// RecordingPath returns the output path of a recording started at t in dir.
func RecordingPath(dir string, t time.Time, c Container) string {
	name := fmt.Sprintf("recording_%d.%s", t.UnixMilli(), c.Ext())
	return filepath.Join(dir, name)
}

// maxPathSuffix bounds the search for a free recording name.
const maxPathSuffix = 1000

// freeRecordingPath returns the first recording path for t in dir that does
// not exist yet. Clashing names get a numeric suffix.
func freeRecordingPath(dir string, t time.Time, c Container) (string, error) {
	path := RecordingPath(dir, t, c)
	for i := 1; i <= maxPathSuffix; i++ {
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("recording_%d_%d.%s", t.UnixMilli(), i, c.Ext())
		path = filepath.Join(dir, name)
	}
	return "", fmt.Errorf("no free recording name in %s", dir)
}

// isPermissionErr returns true if err was caused by a denied permission.
func isPermissionErr(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, fs.ErrPermission)
}

// teardownRecorder stops and releases rec. Faults from stopping are logged
// and dropped; only a release failure is returned.
func (m *Manager) teardownRecorder(path string, rec Recorder) error {
	err := guard("recorder stop", rec.Stop)
	var sf *StopFaultError
	switch {
	case err == nil:
	case errors.As(err, &sf):
		m.log.Debugf("Ignoring stop fault of recording %s: %v", path, err)
	default:
		m.log.Warnf("Ignoring error stopping recording %s: %v", path, err)
	}

	return guard("recorder release", rec.Release)
}

// teardownPlayer stops (if playing) and releases p.
func (m *Manager) teardownPlayer(p Player) error {
	var stopErr error
	var playing bool
	err := guard("player state", func() error {
		playing = p.IsPlaying()
		return nil
	})
	if err == nil && playing {
		err = guard("player stop", p.Stop)
	}
	stopErr = err

	relErr := guard("player release", p.Release)
	return errors.Join(stopErr, relErr)
}

// releaseFailed releases a resource whose start sequence failed.
func (m *Manager) releaseFailed(what string, res Resource) {
	if err := guard(what+" release", res.Release); err != nil {
		m.log.Warnf("Unable to release %s after failed start: %v", what, err)
	}
}

// startRecordingFailure classifies a fault raised while starting a recording.
func startRecordingFailure(err error) Outcome {
	if isPermissionErr(err) {
		return Failure(KindPermissionDenied, fmt.Sprintf("Could not start recording: %v", err))
	}
	return Failure(KindStartFailed, fmt.Sprintf("Could not start recording: %v", err))
}

// StartRecording starts a new recording in outputDir. An active recording is
// torn down first and any fault from that teardown is ignored.
func (m *Manager) StartRecording(outputDir string) Outcome {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if oldPath, old, ok := m.recording.take(); ok {
		m.log.Infof("Stopping previous recording %s before starting a new one", oldPath)
		if err := m.teardownRecorder(oldPath, old); err != nil {
			m.log.Warnf("Ignoring error stopping previous recording: %v", err)
		}
	}

	now := m.now()
	if err := os.MkdirAll(filepath.Dir(RecordingPath(outputDir, now, m.container)), 0o700); err != nil {
		return startRecordingFailure(err)
	}
	path, err := freeRecordingPath(outputDir, now, m.container)
	if err != nil {
		return startRecordingFailure(err)
	}

	cfg := RecorderConfig{
		OutputPath: path,
		Source:     SourceVoiceCommunication,
		Encoder:    EncoderNarrowbandSpeech,
		Container:  m.container,
	}
	var rec Recorder
	err = guard("recorder acquire", func() error {
		var err error
		rec, err = m.dev.AcquireRecorder(cfg)
		return err
	})
	if err != nil {
		return startRecordingFailure(err)
	}
	if rec == nil {
		return startRecordingFailure(errors.New("device returned no recorder"))
	}

	if err := guard("recorder prepare", rec.Prepare); err != nil {
		m.releaseFailed("recorder", rec)
		return startRecordingFailure(fmt.Errorf("prepare() failed: %w", err))
	}
	if err := guard("recorder start", rec.Start); err != nil {
		m.releaseFailed("recorder", rec)
		return startRecordingFailure(err)
	}

	m.recording.activate(path, rec)
	m.log.Infof("Started recording to %s", path)
	return Success(msgRecordingStarted)
}

// StopRecording stops the active recording, if any. Calling it without an
// active recording succeeds.
func (m *Manager) StopRecording() Outcome {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	path, rec, ok := m.recording.take()
	if !ok {
		return Success(msgRecordingStopped)
	}

	if err := m.teardownRecorder(path, rec); err != nil {
		m.log.Errorf("Error stopping recording %s: %v", path, err)
		return Failure(KindStopFailed, fmt.Sprintf("Could not stop recording: %v", err))
	}

	m.log.Infof("Stopped recording %s", path)
	return Success(msgRecordingStopped)
}

// StartPlayback plays the file at filePath. An active playback is torn down
// first; a fault during that teardown fails the operation.
func (m *Manager) StartPlayback(filePath string) Outcome {
	if filePath == "" {
		return Failure(KindNoFile, msgNoFile)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	playFailure := func(err error) Outcome {
		return Failure(KindPlayFailed, fmt.Sprintf("Could not play recording: %v", err))
	}

	if oldPath, old, ok := m.playback.take(); ok {
		m.log.Debugf("Stopping previous playback of %s", oldPath)
		if err := m.teardownPlayer(old); err != nil {
			return playFailure(err)
		}
	}

	var p Player
	err := guard("player acquire", func() error {
		var err error
		p, err = m.dev.AcquirePlayer(filePath)
		return err
	})
	if err != nil {
		return playFailure(err)
	}
	if p == nil {
		return playFailure(errors.New("device returned no player"))
	}

	if err := guard("player prepare", p.Prepare); err != nil {
		m.releaseFailed("player", p)
		return playFailure(err)
	}
	if err := guard("player start", p.Start); err != nil {
		m.releaseFailed("player", p)
		return playFailure(err)
	}

	m.playback.activate(filePath, p)
	m.log.Infof("Started playback of %s", filePath)
	return Success(msgPlaybackStarted)
}

// StopPlayback stops the active playback, if any. Calling it without an
// active playback succeeds.
func (m *Manager) StopPlayback() Outcome {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	path, p, ok := m.playback.take()
	if !ok {
		return Success(msgPlaybackStopped)
	}

	if err := m.teardownPlayer(p); err != nil {
		m.log.Errorf("Error stopping playback of %s: %v", path, err)
		return Failure(KindStopPlayFailed, fmt.Sprintf("Could not stop playback: %v", err))
	}

	m.log.Debugf("Stopped playback of %s", path)
	return Success(msgPlaybackStopped)
}

// Recording returns the state of the recording handle.
func (m *Manager) Recording() HandleState {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.recording.snapshot()
}

// Playback returns the state of the playback handle.
func (m *Manager) Playback() HandleState {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.playback.snapshot()
}

// Shutdown tears down both handles. Errors are logged.
func (m *Manager) Shutdown() {
	if o := m.StopRecording(); !o.OK() {
		m.log.Warnf("Shutdown: %s", o)
	}
	if o := m.StopPlayback(); !o.OK() {
		m.log.Warnf("Shutdown: %s", o)
	}
}
