//go:build !cgo || noaudio

// This audio context is only used in cgo-less and noaudio builds.

package audio

import (
	"github.com/decred/slog"
)

func init() {
	newAudioContext = newNullAudioContext
}

// nullAudioContext never produces or consumes samples.
type nullAudioContext struct{}

func newNullAudioContext(slog.Logger) (audioContext, error) {
	return nullAudioContext{}, nil
}

func (nullAudioContext) name() string { return "nullaudio" }

type nullAudioDevice struct{}

func (nullAudioDevice) Start() error { return nil }
func (nullAudioDevice) Stop() error  { return nil }
func (nullAudioDevice) Uninit()      {}

func (nullAudioContext) initPlayback(DeviceID, dataProc) (playbackDevice, error) {
	return nullAudioDevice{}, nil
}

func (nullAudioContext) initCapture(DeviceID, dataProc) (captureDevice, error) {
	return nullAudioDevice{}, nil
}

func (nullAudioContext) free() error { return nil }

type nullAudioEncDec struct{}

func (nullAudioEncDec) Encode(pcm []int16, frameSize int, out []byte) ([]byte, error) {
	return out[:0], nil
}

func (nullAudioEncDec) SetBitrate(int) {}

func (nullAudioEncDec) Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error) {
	return out[:0], nil
}

func (nullAudioContext) newEncoder(int, int) (streamEncoder, error) {
	return nullAudioEncDec{}, nil
}

func (nullAudioContext) newDecoder(int, int) (streamDecoder, error) {
	return nullAudioEncDec{}, nil
}

// ListAudioDevices always fails in builds without audio support.
func ListAudioDevices(slog.Logger) (Devices, error) {
	return Devices{}, errAudioDisabledCompilation
}

// FindDevice always returns nil in builds without audio support.
func FindDevice(DeviceType, DeviceID) *Device { return nil }
