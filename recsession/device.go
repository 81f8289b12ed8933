package recsession

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is returned (possibly wrapped) by device implementations
// when the platform refused access to a capability the operation needs.
var ErrPermissionDenied = errors.New("permission denied")

// StopFaultError is the expected fault raised when stopping a recorder that
// has nothing to finalize, for example when stop is called right after start
// and no audio was captured. The manager swallows it.
type StopFaultError struct {
	Reason string
}

func (err *StopFaultError) Error() string {
	return fmt.Sprintf("stop fault: %s", err.Reason)
}

// AudioSource is the capture source a recorder is configured for.
type AudioSource int

const (
	SourceDefault AudioSource = iota
	SourceVoiceCommunication
)

// AudioEncoder is the encoder a recorder is configured for.
type AudioEncoder int

const (
	EncoderDefault AudioEncoder = iota

	// EncoderNarrowbandSpeech is an 8kHz speech codec.
	EncoderNarrowbandSpeech
)

// Container is the file container of a recording.
type Container int

const (
	ContainerOgg Container = iota
	Container3GP
)

// Ext returns the file extension (without dot) used for the container.
func (c Container) Ext() string {
	switch c {
	case Container3GP:
		return "3gp"
	default:
		return "ogg"
	}
}

func (c Container) String() string {
	return c.Ext()
}

// RecorderConfig is the configuration for acquiring a recorder.
type RecorderConfig struct {
	OutputPath string
	Source     AudioSource
	Encoder    AudioEncoder
	Container  Container
}

// Resource is an exclusively owned device resource.
type Resource interface {
	Prepare() error
	Start() error
	Stop() error
	Release() error
}

// Recorder is a device recording resource. Stop may return a *StopFaultError
// when there is nothing to finalize.
type Recorder interface {
	Resource
}

// Player is a device playback resource.
type Player interface {
	Resource
	IsPlaying() bool
}

// Device is the audio capability the manager delegates to.
type Device interface {
	AcquireRecorder(cfg RecorderConfig) (Recorder, error)
	AcquirePlayer(source string) (Player, error)
}
