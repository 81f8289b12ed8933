package audio

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/companyzero/ghostrec/internal/assert"
)

// testAudioEncDec is a fake codec. Encoded packets carry the first sample
// of the frame, which the decoder expands back into a full frame.
type testAudioEncDec struct{}

func (t *testAudioEncDec) Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error) {
	v := int16(binary.LittleEndian.Uint16(data[1:]))
	out = out[:samplesPerPeriod*channels]
	for i := range out {
		out[i] = v
	}
	return out, nil
}

func (t *testAudioEncDec) Encode(pcm []int16, frameSize int, out []byte) ([]byte, error) {
	out = append(out[:0], 0xab)
	return binary.LittleEndian.AppendUint16(out, uint16(pcm[0])), nil
}

func (t *testAudioEncDec) SetBitrate(rate int) {
}

// testAudioContext is used to test recorders and players without an audio
// backend. Callbacks are driven by the test.
type testAudioContext struct {
	t testing.TB

	mtx        sync.Mutex
	started    chan struct{}
	stopped    chan struct{}
	uninited   chan struct{}
	captureCB  dataProc
	playbackCB dataProc
	startErr   error
}

func newTestAudioContext(t testing.TB) *testAudioContext {
	return &testAudioContext{
		t:        t,
		started:  make(chan struct{}, 5),
		stopped:  make(chan struct{}, 5),
		uninited: make(chan struct{}, 5),
	}
}

func (tac *testAudioContext) name() string {
	return "testaudio"
}

func (tac *testAudioContext) initPlayback(deviceID DeviceID, cb dataProc) (playbackDevice, error) {
	tac.mtx.Lock()
	tac.playbackCB = cb
	tac.mtx.Unlock()
	return tac, nil
}

func (tac *testAudioContext) initCapture(deviceID DeviceID, cb dataProc) (captureDevice, error) {
	tac.mtx.Lock()
	tac.captureCB = cb
	tac.mtx.Unlock()
	return tac, nil
}

func (tac *testAudioContext) free() error {
	return nil
}

func (tac *testAudioContext) newEncoder(sampleRate, channels int) (streamEncoder, error) {
	return &testAudioEncDec{}, nil
}

func (tac *testAudioContext) newDecoder(sampleRate, channels int) (streamDecoder, error) {
	return &testAudioEncDec{}, nil
}

// These are part of the playback/capture device interface.

func (tac *testAudioContext) Start() error {
	tac.mtx.Lock()
	err := tac.startErr
	tac.mtx.Unlock()
	if err != nil {
		return err
	}
	tac.started <- struct{}{}
	return nil
}
func (tac *testAudioContext) Stop() error {
	tac.stopped <- struct{}{}
	return nil
}
func (tac *testAudioContext) Uninit() {
	tac.uninited <- struct{}{}
}

// These are test functions.

// capture feeds n samples of value v to the capture callback.
func (tac *testAudioContext) capture(v int16, n int) {
	tac.t.Helper()
	tac.mtx.Lock()
	cb := tac.captureCB
	tac.mtx.Unlock()
	if cb == nil {
		tac.t.Fatalf("capture callback not initialized")
	}

	samples := make([]int16, n*channels)
	for i := range samples {
		samples[i] = v
	}
	cb(nil, leS16SliceToBytes(samples, nil), uint32(n))
}

// play requests one period of samples from the playback callback.
func (tac *testAudioContext) play() []int16 {
	tac.t.Helper()
	tac.mtx.Lock()
	cb := tac.playbackCB
	tac.mtx.Unlock()
	if cb == nil {
		tac.t.Fatalf("playback callback not initialized")
	}

	out := make([]byte, samplesPerPeriod*channels*rawFormatSampleSize)
	for i := range out {
		out[i] = 0xff
	}
	cb(out, nil, samplesPerPeriod)
	return bytesToLES16Slice(out, nil)
}

func TestS16Conversion(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	b := leS16SliceToBytes(samples, nil)
	assert.DeepEqual(t, len(b), len(samples)*2)
	assert.DeepEqual(t, b[4:6], []byte{0xff, 0xff})
	assert.DeepEqual(t, bytesToLES16Slice(b, nil), samples)
}
