package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/companyzero/ghostrec/recsession"
	"github.com/decred/slog"
)

// ErrBridgeStopped is returned by calls made after the bridge stopped
// running.
var ErrBridgeStopped = errors.New("bridge stopped")

var errNoRecordingsDir = errors.New("no recordings dir configured or requested")

// nextResultTimeout is how long NextCallResult waits before returning a NOP.
const nextResultTimeout = time.Second

type pendingCall struct {
	method string
	params json.RawMessage
	reply  chan *CallResult
}

// Bridge is the message channel between a UI host and the session manager.
// Calls are executed one at a time, in arrival order, by Run.
type Bridge struct {
	mgr    *recsession.Manager
	perms  PermissionChecker
	recDir string
	log    slog.Logger
	stats  *Stats

	calls   chan pendingCall
	results chan *CallResult
	runDone chan struct{}
}

// Option configures a Bridge.
type Option func(b *Bridge)

// WithPermissions sets the permission checker consulted before recording.
func WithPermissions(p PermissionChecker) Option {
	return func(b *Bridge) {
		b.perms = p
	}
}

// WithRecordingsDir sets the directory used when startRecording does not
// name one.
func WithRecordingsDir(dir string) Option {
	return func(b *Bridge) {
		b.recDir = dir
	}
}

// WithLogger sets the bridge logger.
func WithLogger(log slog.Logger) Option {
	return func(b *Bridge) {
		b.log = log
	}
}

// WithStats sets the metrics updated by the bridge.
func WithStats(s *Stats) Option {
	return func(b *Bridge) {
		b.stats = s
	}
}

// New creates a bridge for the given manager.
func New(mgr *recsession.Manager, opts ...Option) *Bridge {
	b := &Bridge{
		mgr:     mgr,
		perms:   GrantedPermissions{},
		log:     slog.Disabled,
		calls:   make(chan pendingCall),
		results: make(chan *CallResult),
		runDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.stats == nil {
		b.stats = NewStats()
	}
	return b
}

// Stats returns the bridge metrics.
func (b *Bridge) Stats() *Stats {
	return b.stats
}

// Manager returns the session manager driven by the bridge.
func (b *Bridge) Manager() *recsession.Manager {
	return b.mgr
}

func (b *Bridge) decodeParams(params json.RawMessage, to interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	return json.Unmarshal(params, to)
}

// execute runs a single call against the manager.
func (b *Bridge) execute(method string, params json.RawMessage) recsession.Outcome {
	badArgs := func(err error) recsession.Outcome {
		return recsession.Failure(CodeBadArgs, fmt.Sprintf("Invalid arguments to %s: %v", method, err))
	}

	switch method {
	case MethodStartRecording:
		var args StartRecordingArgs
		if err := b.decodeParams(params, &args); err != nil {
			return badArgs(err)
		}
		if !b.perms.HasPermissions() {
			return recsession.Failure(recsession.KindPermissionDenied, msgPermissionsNotGranted)
		}
		dir := args.Dir
		if dir == "" {
			dir = b.recDir
		}
		if dir == "" {
			return badArgs(errNoRecordingsDir)
		}
		return b.mgr.StartRecording(dir)

	case MethodStopRecording:
		return b.mgr.StopRecording()

	case MethodPlayRecording:
		var args PlayRecordingArgs
		if err := b.decodeParams(params, &args); err != nil {
			return badArgs(err)
		}
		return b.mgr.StartPlayback(args.FilePath)

	case MethodStopPlayback:
		return b.mgr.StopPlayback()

	default:
		return recsession.Failure(CodeNotImplemented,
			fmt.Sprintf("Method %q not implemented", method))
	}
}

// dispatch executes a call, converting panics into the method's failure.
func (b *Bridge) dispatch(method string, params json.RawMessage) (res recsession.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("Panic while handling %s: %v", method, r)
			res = recsession.Failure(failureKind(method),
				fmt.Sprintf("internal error: %v", r))
		}
		b.stats.observeCall(method, res, time.Since(start))
		b.stats.setActive(b.mgr.Recording().Active, b.mgr.Playback().Active)
		if res.OK() {
			b.log.Debugf("%s: %s", method, res.Message)
		} else {
			b.log.Infof("%s failed: %s", method, res)
		}
	}()

	return b.execute(method, params)
}

// Run executes calls until the context is canceled. Before returning, any
// active recording or playback is stopped.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.runDone)
	b.log.Debugf("Bridge running")
	for {
		select {
		case c := <-b.calls:
			res := b.dispatch(c.method, c.params)
			c.reply <- &CallResult{Type: RTCallReply, Method: c.method, Outcome: res}

		case <-ctx.Done():
			b.log.Debugf("Bridge stopping")
			b.mgr.Shutdown()
			b.stats.setActive(false, false)
			return ctx.Err()
		}
	}
}

// Call executes a call and waits for its result.
func (b *Bridge) Call(ctx context.Context, method string, params json.RawMessage) (*CallResult, error) {
	c := pendingCall{
		method: method,
		params: params,
		reply:  make(chan *CallResult, 1),
	}
	select {
	case b.calls <- c:
	case <-b.runDone:
		return nil, ErrBridgeStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Once accepted, the call always completes.
	return <-c.reply, nil
}

// AsyncCall queues a call. Its result, tagged with id, is later returned by
// NextCallResult or passed to the CallResultLoop callback.
func (b *Bridge) AsyncCall(id uint32, method string, params []byte) {
	go func() {
		res, err := b.Call(context.Background(), method, params)
		if err != nil {
			res = &CallResult{
				Type:    RTCallReply,
				Method:  method,
				Outcome: recsession.Failure(failureKind(method), err.Error()),
			}
		}
		res.ID = id
		b.queueResult(res)
	}()
}

// queueResult blocks until the result is consumed.
func (b *Bridge) queueResult(res *CallResult) {
	b.results <- res
}

// notify queues a notification.
func (b *Bridge) notify(typ ResultType, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Errorf("Unable to encode notification %d: %v", typ, err)
		return
	}
	b.queueResult(&CallResult{Type: typ, Payload: raw})
}

// NotifyLogLine queues a log line notification without blocking the caller.
func (b *Bridge) NotifyLogLine(line string) {
	go b.notify(NTLogLine, line)
}

// NextCallResult returns the next queued result. If none is available within
// one second, an NTNOP result is returned.
func (b *Bridge) NextCallResult() *CallResult {
	select {
	case r := <-b.results:
		return r
	case <-time.After(nextResultTimeout):
		return &CallResult{Type: NTNOP, Payload: json.RawMessage{}}
	}
}

// StoppedCallResult returns an NTBridgeStopped result carrying reason after
// waiting as long as NextCallResult waits for an idle bridge. Pollers of a
// bridge that is not running keep their usual cadence.
func StoppedCallResult(reason string) *CallResult {
	time.Sleep(nextResultTimeout)
	payload, _ := json.Marshal(reason)
	return &CallResult{Type: NTBridgeStopped, Payload: payload}
}

// CallResultLoop passes every queued result to cb from a new goroutine.
func (b *Bridge) CallResultLoop(cb CallResultLoopCB) {
	go func() {
		for {
			cb.F(<-b.results)
		}
	}()
}
