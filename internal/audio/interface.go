package audio

import (
	"errors"

	"github.com/decred/slog"
)

// sampleRate is the capture and playback rate. 8kHz is narrowband speech.
const sampleRate = 8000

// channels must be agreed everywhere
const channels = 1

// periodSizeMS is the duration of one encoded frame in milliseconds.
const periodSizeMS = 20

// samplesPerPeriod is the number of PCM samples (per channel) in one frame.
const samplesPerPeriod = sampleRate / 1000 * periodSizeMS

// rawFormatSampleSize is the size in bytes of one raw (S16) sample.
const rawFormatSampleSize = 2

// encodeBitRate is the bitrate (in bps) to use as encoder output.
const encodeBitRate = 12000

// maxDecodedSamples is the largest opus frame (120ms) in samples per channel.
const maxDecodedSamples = sampleRate / 1000 * 120

// DeviceID identifies an audio device of the backend. An empty id selects the
// system default device.
type DeviceID string

// DeviceType is the kind of an audio device.
type DeviceType string

const (
	DeviceTypeCapture  DeviceType = "capture"
	DeviceTypePlayback DeviceType = "playback"
)

// Device is an audio device reported by the backend.
type Device struct {
	ID        DeviceID `json:"id"`
	Name      string   `json:"name"`
	IsDefault bool     `json:"is_default"`
}

// Devices lists the available audio devices.
type Devices struct {
	Playback []Device `json:"playback"`
	Capture  []Device `json:"capture"`
}

// dataProc is called by the backend on the audio thread. For capture devices
// in holds the captured samples; for playback devices out must be filled.
type dataProc func(out, in []byte, framecount uint32)

// captureDevice is an initialized capture device.
type captureDevice interface {
	Start() error
	Stop() error
	Uninit()
}

// playbackDevice is an initialized playback device.
type playbackDevice interface {
	Start() error
	Stop() error
	Uninit()
}

type streamEncoder interface {
	Encode(pcm []int16, frameSize int, out []byte) ([]byte, error)
	SetBitrate(rate int)
}

type streamDecoder interface {
	Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error)
}

// audioContext abstracts the audio backend.
type audioContext interface {
	name() string
	initCapture(deviceID DeviceID, cb dataProc) (captureDevice, error)
	initPlayback(deviceID DeviceID, cb dataProc) (playbackDevice, error)
	newEncoder(sampleRate, channels int) (streamEncoder, error)
	newDecoder(sampleRate, channels int) (streamDecoder, error)
	free() error
}

// newAudioContext is set by the backend compiled in.
var newAudioContext func(log slog.Logger) (audioContext, error)

var errAudioDisabledCompilation = errors.New("audio was disabled during compilation")
