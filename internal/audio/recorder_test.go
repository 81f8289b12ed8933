package audio

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/companyzero/ghostrec/internal/assert"
	"github.com/companyzero/ghostrec/internal/testutils"
	"github.com/companyzero/ghostrec/recsession"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

func newTestRecorder(t *testing.T, tac *testAudioContext) (*fileRecorder, string) {
	t.Helper()
	dir := testutils.TempTestDir(t, "recorder")
	path := filepath.Join(dir, "rec.ogg")
	dev := NewBackend(withAudioContext(tac), WithLogger(testutils.TestLoggerSys(t, "AUDI")))
	rec, err := dev.AcquireRecorder(recsession.RecorderConfig{
		OutputPath: path,
		Encoder:    recsession.EncoderNarrowbandSpeech,
		Container:  recsession.ContainerOgg,
	})
	assert.NilErr(t, err)
	return rec.(*fileRecorder), path
}

// TestRecorderWritesOggOpus asserts the recorder produces a stream that an
// independent ogg reader accepts.
func TestRecorderWritesOggOpus(t *testing.T) {
	tac := newTestAudioContext(t)
	rec, path := newTestRecorder(t, tac)

	assert.NilErr(t, rec.Prepare())
	assert.NilErr(t, rec.Start())
	assert.ChanWritten(t, tac.started)

	tac.capture(10, samplesPerPeriod)
	tac.capture(20, samplesPerPeriod)
	tac.capture(30, samplesPerPeriod)
	tac.capture(40, samplesPerPeriod/2)

	assert.NilErr(t, rec.Stop())
	assert.ChanWritten(t, tac.stopped)
	assert.NilErr(t, rec.Release())
	assert.ChanWritten(t, tac.uninited)

	f, err := os.Open(path)
	assert.NilErr(t, err)
	defer f.Close()
	reader, header, err := oggreader.NewWith(f)
	assert.NilErr(t, err)
	assert.DeepEqual(t, header.Channels, uint8(channels))
	assert.DeepEqual(t, header.SampleRate, uint32(sampleRate))

	var payloads [][]byte
	var lastGranule uint64
	for {
		payload, pageHeader, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		assert.NilErr(t, err)
		payloads = append(payloads, payload)
		lastGranule = pageHeader.GranulePosition
	}

	// Comment header plus four packets. The half period was padded.
	if len(payloads) != 5 {
		t.Fatalf("unexpected nb of pages: got %d, want 5", len(payloads))
	}
	assert.HasPrefix(t, string(payloads[0]), opusTagsMagic)
	assert.DeepEqual(t, payloads[1], []byte{0xab, 10, 0})
	assert.DeepEqual(t, payloads[4], []byte{0xab, 40, 0})

	const granulePerPacket = opusGranuleRate / 1000 * periodSizeMS
	assert.DeepEqual(t, lastGranule, uint64(4*granulePerPacket))
}

// TestRecorderStopWithoutAudio asserts stopping a recorder that captured
// nothing returns the stop fault.
func TestRecorderStopWithoutAudio(t *testing.T) {
	tac := newTestAudioContext(t)
	rec, path := newTestRecorder(t, tac)

	assert.NilErr(t, rec.Prepare())
	assert.NilErr(t, rec.Start())
	err := rec.Stop()
	assert.ErrorAs[*recsession.StopFaultError](t, err)
	assert.NilErr(t, rec.Release())

	// The empty stream is still well formed.
	f, err := os.Open(path)
	assert.NilErr(t, err)
	defer f.Close()
	_, packets, err := readOpusPackets(f)
	assert.NilErr(t, err)
	assert.DeepEqual(t, len(packets), 0)
}

func TestRecorderStopNotStarted(t *testing.T) {
	tac := newTestAudioContext(t)
	rec, _ := newTestRecorder(t, tac)

	assert.ErrorAs[*recsession.StopFaultError](t, rec.Stop())
	assert.NilErr(t, rec.Prepare())
	assert.ErrorAs[*recsession.StopFaultError](t, rec.Stop())
	assert.NilErr(t, rec.Release())
	assert.NilErr(t, rec.Release())
}

func TestRecorderStartDeviceFails(t *testing.T) {
	tac := newTestAudioContext(t)
	tac.startErr = errors.New("boom")
	rec, _ := newTestRecorder(t, tac)

	assert.NilErr(t, rec.Prepare())
	assert.ErrorIs(t, rec.Start(), tac.startErr)
	assert.NilErr(t, rec.Release())
	assert.ChanWritten(t, tac.uninited)
}

func TestRecorderPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	tac := newTestAudioContext(t)
	dir := testutils.TempTestDir(t, "recorder")
	assert.NilErr(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	rec := newFileRecorder(tac, "", filepath.Join(dir, "rec.ogg"),
		testutils.TestLoggerSys(t, "AUDI"))
	assert.ErrorIs(t, rec.Prepare(), recsession.ErrPermissionDenied)
}

// TestRecorderKeepsExistingFile asserts preparing a recorder never truncates
// an existing file.
func TestRecorderKeepsExistingFile(t *testing.T) {
	tac := newTestAudioContext(t)
	rec, path := newTestRecorder(t, tac)
	assert.NilErr(t, os.WriteFile(path, []byte("finalized"), 0o600))

	assert.ErrorIs(t, rec.Prepare(), fs.ErrExist)
	got, err := os.ReadFile(path)
	assert.NilErr(t, err)
	assert.DeepEqual(t, string(got), "finalized")
}

func TestAcquireRecorderUnsupportedFormat(t *testing.T) {
	dev := NewBackend(withAudioContext(newTestAudioContext(t)))
	_, err := dev.AcquireRecorder(recsession.RecorderConfig{
		OutputPath: "x.3gp",
		Container:  recsession.Container3GP,
	})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpusWriterRejectsLargePacket(t *testing.T) {
	ow, err := newOpusFileWriter(io.Discard, sampleRate, channels)
	assert.NilErr(t, err)
	err = ow.WritePacket(make([]byte, oggMaxPagePayload), samplesPerPeriod, sampleRate)
	assert.ErrorIs(t, err, errOggPayloadTooLarge)
	assert.NilErr(t, ow.Finish())
	assert.ErrorIs(t, ow.Finish(), errOpusWriterClosed)
}

func TestLacing(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{n: 0, want: []byte{0}},
		{n: 10, want: []byte{10}},
		{n: 255, want: []byte{255, 0}},
		{n: 300, want: []byte{255, 45}},
		{n: 510, want: []byte{255, 255, 0}},
	}
	for _, tc := range tests {
		assert.DeepEqual(t, lacing(tc.n), tc.want)
	}
}
