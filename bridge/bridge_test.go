package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/companyzero/ghostrec/internal/assert"
	"github.com/companyzero/ghostrec/internal/testutils"
	"github.com/companyzero/ghostrec/recsession"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeDevice is a recsession.Device that records the calls made on the
// resources it creates.
type fakeDevice struct {
	mtx         sync.Mutex
	calls       []string
	acquired    int
	inflight    int
	maxInflight int
	prepareErr  error
}

func (d *fakeDevice) record(call string) {
	d.mtx.Lock()
	d.calls = append(d.calls, call)
	d.mtx.Unlock()
}

func (d *fakeDevice) callList() []string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) AcquireRecorder(cfg recsession.RecorderConfig) (recsession.Recorder, error) {
	d.mtx.Lock()
	d.acquired++
	d.mtx.Unlock()
	return &fakeResource{dev: d, kind: "rec"}, nil
}

func (d *fakeDevice) AcquirePlayer(source string) (recsession.Player, error) {
	d.mtx.Lock()
	d.acquired++
	d.mtx.Unlock()
	return &fakeResource{dev: d, kind: "play"}, nil
}

type fakeResource struct {
	dev  *fakeDevice
	kind string
}

func (r *fakeResource) Prepare() error {
	d := r.dev
	d.mtx.Lock()
	d.inflight++
	if d.inflight > d.maxInflight {
		d.maxInflight = d.inflight
	}
	err := d.prepareErr
	d.mtx.Unlock()

	time.Sleep(time.Millisecond)

	d.mtx.Lock()
	d.inflight--
	d.mtx.Unlock()
	d.record(r.kind + ".prepare")
	return err
}

func (r *fakeResource) Start() error { r.dev.record(r.kind + ".start"); return nil }
func (r *fakeResource) Stop() error { r.dev.record(r.kind + ".stop"); return nil }
func (r *fakeResource) Release() error { r.dev.record(r.kind + ".release"); return nil }
func (r *fakeResource) IsPlaying() bool { return true }

type testBridge struct {
	*Bridge
	dev    *fakeDevice
	dir    string
	cancel func()
	runErr chan error
}

func newTestBridge(t *testing.T, opts ...Option) *testBridge {
	t.Helper()
	dev := &fakeDevice{}
	dir := testutils.TempTestDir(t, "bridge")
	mgr := recsession.New(dev, recsession.WithLogger(testutils.TestLoggerSys(t, "RECS")))
	opts = append([]Option{
		WithRecordingsDir(dir),
		WithLogger(testutils.TestLoggerSys(t, "BRDG")),
	}, opts...)
	b := New(mgr, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	tb := &testBridge{Bridge: b, dev: dev, dir: dir, cancel: cancel, runErr: make(chan error, 1)}
	go func() { tb.runErr <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-tb.runErr
	})
	return tb
}

func (tb *testBridge) call(t *testing.T, method string, params interface{}) recsession.Outcome {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		assert.NilErr(t, err)
	}
	res, err := tb.Call(context.Background(), method, raw)
	assert.NilErr(t, err)
	assert.DeepEqual(t, res.Method, method)
	assert.DeepEqual(t, res.Type, RTCallReply)
	return res.Outcome
}

// TestPermissionGate asserts startRecording without permissions never
// reaches the device.
func TestPermissionGate(t *testing.T) {
	perms := new(HostPermissions)
	tb := newTestBridge(t, WithPermissions(perms))

	o := tb.call(t, MethodStartRecording, nil)
	assert.DeepEqual(t, o, recsession.Failure(recsession.KindPermissionDenied,
		"Required permissions not granted"))
	assert.DeepEqual(t, tb.dev.acquired, 0)

	perms.SetGranted(true)
	o = tb.call(t, MethodStartRecording, nil)
	assert.DeepEqual(t, o, recsession.Success("Recording started"))
	assert.DeepEqual(t, tb.dev.callList(), []string{"rec.prepare", "rec.start"})
}

func TestStartRecordingDirs(t *testing.T) {
	tb := newTestBridge(t)

	o := tb.call(t, MethodStartRecording, nil)
	assert.BoolIs(t, o.OK(), true)
	assert.DeepEqual(t, filepath.Dir(tb.Manager().Recording().Path), tb.dir)

	other := filepath.Join(tb.dir, "other")
	o = tb.call(t, MethodStartRecording, StartRecordingArgs{Dir: other})
	assert.BoolIs(t, o.OK(), true)
	assert.DeepEqual(t, filepath.Dir(tb.Manager().Recording().Path), other)

	o = tb.call(t, MethodStopRecording, nil)
	assert.DeepEqual(t, o, recsession.Success("Recording stopped."))
}

// TestStartRecordingWithoutDir asserts a bridge without a recordings dir
// refuses requests that do not name one.
func TestStartRecordingWithoutDir(t *testing.T) {
	tb := newTestBridge(t, WithRecordingsDir(""))

	o := tb.call(t, MethodStartRecording, nil)
	assert.DeepEqual(t, o.Kind, CodeBadArgs)
	assert.DeepEqual(t, tb.dev.acquired, 0)

	o = tb.call(t, MethodStartRecording, StartRecordingArgs{Dir: tb.dir})
	assert.DeepEqual(t, o, recsession.Success("Recording started"))
}

// TestStoppedCallResultWaits asserts the stopped result is only returned after
// the idle poll interval.
func TestStoppedCallResultWaits(t *testing.T) {
	start := time.Now()
	r := StoppedCallResult("bridge not initialized")
	if elapsed := time.Since(start); elapsed < nextResultTimeout {
		t.Fatalf("returned after %s, want at least %s", elapsed, nextResultTimeout)
	}
	assert.DeepEqual(t, r.Type, NTBridgeStopped)
	assert.DeepEqual(t, string(r.Payload), `"bridge not initialized"`)
}

func TestPlaybackMethods(t *testing.T) {
	tb := newTestBridge(t)

	o := tb.call(t, MethodPlayRecording, PlayRecordingArgs{})
	assert.DeepEqual(t, o, recsession.Failure(recsession.KindNoFile, "File path is null"))

	o = tb.call(t, MethodPlayRecording, PlayRecordingArgs{FilePath: "/some/file.ogg"})
	assert.DeepEqual(t, o, recsession.Success("Playback started"))
	assert.BoolIs(t, tb.Manager().Playback().Active, true)

	o = tb.call(t, MethodStopPlayback, nil)
	assert.DeepEqual(t, o, recsession.Success("Playback stopped"))
	o = tb.call(t, MethodStopPlayback, nil)
	assert.DeepEqual(t, o, recsession.Success("Playback stopped"))
}

func TestUnknownMethod(t *testing.T) {
	tb := newTestBridge(t)
	for _, method := range []string{"", "deleteRecording", "StartRecording"} {
		o := tb.call(t, method, nil)
		assert.DeepEqual(t, o.Kind, CodeNotImplemented)
	}
	assert.DeepEqual(t, tb.dev.acquired, 0)
}

func TestBadArgs(t *testing.T) {
	tb := newTestBridge(t)
	o := tb.call(t, MethodPlayRecording, []int{1, 2})
	assert.DeepEqual(t, o.Kind, CodeBadArgs)
	o = tb.call(t, MethodStartRecording, "dir")
	assert.DeepEqual(t, o.Kind, CodeBadArgs)
	assert.DeepEqual(t, tb.dev.acquired, 0)
}

func TestStartFailureReported(t *testing.T) {
	tb := newTestBridge(t)
	tb.dev.prepareErr = errors.New("no mic")
	o := tb.call(t, MethodStartRecording, nil)
	assert.DeepEqual(t, o.Kind, recsession.KindStartFailed)
	assert.BoolIs(t, tb.Manager().Recording().Active, false)
}

// TestCallsSerialized asserts concurrent calls never run concurrently on the
// device.
func TestCallsSerialized(t *testing.T) {
	tb := newTestBridge(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method := MethodStartRecording
			if i%2 == 1 {
				method = MethodPlayRecording
			}
			params, _ := json.Marshal(PlayRecordingArgs{FilePath: "f.ogg"})
			_, err := tb.Call(context.Background(), method, params)
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	assert.DeepEqual(t, tb.dev.maxInflight, 1)
}

func TestAsyncCall(t *testing.T) {
	tb := newTestBridge(t)

	tb.AsyncCall(42, MethodStopRecording, nil)
	res := tb.NextCallResult()
	assert.DeepEqual(t, res.ID, uint32(42))
	assert.DeepEqual(t, res.Type, RTCallReply)
	assert.DeepEqual(t, res.Outcome, recsession.Success("Recording stopped."))

	// Nothing else queued.
	res = tb.NextCallResult()
	assert.DeepEqual(t, res.Type, NTNOP)
}

type testResultCB chan *CallResult

func (cb testResultCB) F(r *CallResult) { cb <- r }

func TestCallResultLoop(t *testing.T) {
	tb := newTestBridge(t)
	cb := make(testResultCB, 5)
	tb.CallResultLoop(cb)

	tb.AsyncCall(1, "nope", nil)
	res := assert.ChanWritten(t, (chan *CallResult)(cb))
	assert.DeepEqual(t, res.ID, uint32(1))
	assert.DeepEqual(t, res.Kind, CodeNotImplemented)

	tb.NotifyLogLine("hello\n")
	res = assert.ChanWritten(t, (chan *CallResult)(cb))
	assert.DeepEqual(t, res.Type, NTLogLine)
	assert.DeepEqual(t, string(res.Payload), `"hello\n"`)
}

// TestRunShutdown asserts stopping the bridge tears down active sessions and
// rejects later calls.
func TestRunShutdown(t *testing.T) {
	tb := newTestBridge(t)
	tb.call(t, MethodStartRecording, nil)
	tb.call(t, MethodPlayRecording, PlayRecordingArgs{FilePath: "a.ogg"})

	tb.cancel()
	err := assert.ChanWritten(t, tb.runErr)
	assert.ErrorIs(t, err, context.Canceled)
	tb.runErr <- err // Consumed by cleanup.

	calls := tb.dev.callList()
	assert.Contains(t, calls, "rec.stop")
	assert.Contains(t, calls, "rec.release")
	assert.Contains(t, calls, "play.stop")
	assert.Contains(t, calls, "play.release")

	_, err = tb.Call(context.Background(), MethodStopRecording, nil)
	assert.ErrorIs(t, err, ErrBridgeStopped)
}

func TestStats(t *testing.T) {
	tb := newTestBridge(t)
	s := tb.Stats()

	tb.call(t, MethodStartRecording, nil)
	assert.DeepEqual(t, testutil.ToFloat64(s.recording), 1.0)
	tb.call(t, MethodStopRecording, nil)
	assert.DeepEqual(t, testutil.ToFloat64(s.recording), 0.0)
	tb.call(t, "nope", nil)
	tb.call(t, "other", nil)

	assert.DeepEqual(t, testutil.ToFloat64(s.calls.WithLabelValues(MethodStartRecording, "OK")), 1.0)
	assert.DeepEqual(t, testutil.ToFloat64(s.calls.WithLabelValues("unknown", string(CodeNotImplemented))), 2.0)
}
