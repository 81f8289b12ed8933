package audio

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/companyzero/ghostrec/internal/assert"
	"github.com/companyzero/ghostrec/internal/testutils"
	"github.com/companyzero/ghostrec/recsession"
)

// recordTestFile records one period per value in values and returns the
// path of the resulting file.
func recordTestFile(t *testing.T, tac *testAudioContext, values ...int16) string {
	t.Helper()
	rec, path := newTestRecorder(t, tac)
	assert.NilErr(t, rec.Prepare())
	assert.NilErr(t, rec.Start())
	for _, v := range values {
		tac.capture(v, samplesPerPeriod)
	}
	assert.NilErr(t, rec.Stop())
	assert.NilErr(t, rec.Release())
	return path
}

func assertAllSamples(t testing.TB, samples []int16, want int16) {
	t.Helper()
	for i, v := range samples {
		if v != want {
			t.Fatalf("unexpected sample %d: got %d, want %d", i, v, want)
		}
	}
}

func TestPlayerPlaysRecording(t *testing.T) {
	tac := newTestAudioContext(t)
	path := recordTestFile(t, tac, 7, 8, 9)

	dev := NewBackend(withAudioContext(tac))
	p, err := dev.AcquirePlayer(path)
	assert.NilErr(t, err)
	assert.NilErr(t, p.Prepare())
	assert.BoolIs(t, p.IsPlaying(), false)
	assert.NilErr(t, p.Start())
	assert.BoolIs(t, p.IsPlaying(), true)

	assertAllSamples(t, tac.play(), 7)
	assertAllSamples(t, tac.play(), 8)
	assertAllSamples(t, tac.play(), 9)
	assert.BoolIs(t, p.IsPlaying(), true)

	// End of file.
	assertAllSamples(t, tac.play(), 0)
	assert.BoolIs(t, p.IsPlaying(), false)
	assertAllSamples(t, tac.play(), 0)

	assert.NilErr(t, p.Stop())
	assert.NilErr(t, p.Release())
	assert.ChanWritten(t, tac.uninited)
}

func TestPlayerStopMidway(t *testing.T) {
	tac := newTestAudioContext(t)
	path := recordTestFile(t, tac, 1, 2, 3)

	p := newFilePlayer(tac, "", path, testutils.TestLoggerSys(t, "AUDI"))
	assert.NilErr(t, p.Prepare())
	assert.NilErr(t, p.Start())
	assertAllSamples(t, tac.play(), 1)
	assert.NilErr(t, p.Stop())
	assert.BoolIs(t, p.IsPlaying(), false)
	assertAllSamples(t, tac.play(), 0)
	assert.NonNilErr(t, p.Stop())
	assert.NilErr(t, p.Release())
}

func TestPlayerMissingFile(t *testing.T) {
	tac := newTestAudioContext(t)
	dir := testutils.TempTestDir(t, "player")
	p := newFilePlayer(tac, "", filepath.Join(dir, "missing.ogg"),
		testutils.TestLoggerSys(t, "AUDI"))
	assert.ErrorIs(t, p.Prepare(), fs.ErrNotExist)
	assert.NilErr(t, p.Release())
}

func TestPlayerInvalidFile(t *testing.T) {
	tac := newTestAudioContext(t)
	dir := testutils.TempTestDir(t, "player")
	path := filepath.Join(dir, "garbage.ogg")
	assert.NilErr(t, os.WriteFile(path, []byte("not an ogg file at all"), 0o600))

	p := newFilePlayer(tac, "", path, testutils.TestLoggerSys(t, "AUDI"))
	assert.NonNilErr(t, p.Prepare())
}

// TestManagerWithAudioDevice runs a full session through the manager.
func TestManagerWithAudioDevice(t *testing.T) {
	tac := newTestAudioContext(t)
	dir := testutils.TempTestDir(t, "session")
	now := time.UnixMilli(1700000000000)
	m := recsession.New(NewBackend(withAudioContext(tac)),
		recsession.WithClock(func() time.Time { return now }),
		recsession.WithLogger(testutils.TestLoggerSys(t, "RSES")))

	o := m.StartRecording(dir)
	assert.BoolIs(t, o.OK(), true)
	tac.capture(5, samplesPerPeriod)
	o = m.StopRecording()
	assert.BoolIs(t, o.OK(), true)

	path := recsession.RecordingPath(dir, now, recsession.ContainerOgg)
	assert.FileExists(t, path)

	o = m.StartPlayback(path)
	assert.BoolIs(t, o.OK(), true)
	assertAllSamples(t, tac.play(), 5)
	o = m.StopPlayback()
	assert.BoolIs(t, o.OK(), true)
	assert.BoolIs(t, m.Playback().Active, false)

	// A recording stopped right after starting still succeeds.
	o = m.StartRecording(dir)
	assert.BoolIs(t, o.OK(), true)
	o = m.StopRecording()
	assert.BoolIs(t, o.OK(), true)
}
