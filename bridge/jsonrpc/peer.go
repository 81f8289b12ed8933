package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/companyzero/ghostrec/bridge"
	"github.com/companyzero/ghostrec/recsession"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"
)

// maxInflightRequests is the number of requests a peer executes at once.
const maxInflightRequests = 16

var errPeerDone = errors.New("peer done")

// codec frames JSON messages on a transport. Every message is decoded from
// its own decoder and written through its own encoder followed by flush.
type codec interface {
	nextDecoder() (*json.Decoder, error)
	nextEncoder() (*json.Encoder, error)
	flush() error
}

// reply is the outcome of a request sent by this peer.
type reply struct {
	result json.RawMessage
	err    error
}

// msgKind classifies inbound messages.
type msgKind int

const (
	msgInvalid msgKind = iota
	msgRequest
	msgResponse
	msgNotification
	msgUnroutedError
)

func (in *inboundMsg) kind() msgKind {
	hasID := in.ID != nil
	hasMethod := in.Method != nil
	hasResult := in.Result != nil
	hasError := in.Error != nil

	switch {
	case hasMethod && !hasResult && !hasError:
		if hasID {
			return msgRequest
		}
		return msgNotification
	case !hasMethod && in.Params == nil && hasID && hasResult != hasError:
		return msgResponse
	case !hasMethod && !hasID && hasError && !hasResult:
		return msgUnroutedError
	default:
		return msgInvalid
	}
}

// peer executes inbound requests through its caller and matches inbound
// responses to the requests it sent. A peer without a caller answers every
// request with method not found.
type peer struct {
	caller Caller
	log    slog.Logger
	codec  codec

	lastID   atomic.Uint32
	done     chan struct{}
	inflight *inflight
	out      chan outboundMsg

	mtx     sync.Mutex
	pending map[uint32]chan reply
}

func newPeer(caller Caller, log slog.Logger, c codec) *peer {
	return &peer{
		caller:   caller,
		log:      log,
		codec:    c,
		done:     make(chan struct{}),
		inflight: newInflight(maxInflightRequests),
		out:      make(chan outboundMsg),
		pending:  make(map[uint32]chan reply),
	}
}

func (p *peer) forget(id uint32) {
	p.mtx.Lock()
	delete(p.pending, id)
	p.mtx.Unlock()
}

// request sends a request and waits for its response. The result is decoded
// into res when both are not nil.
func (p *peer) request(ctx context.Context, method string, params, res interface{}) error {
	id := p.lastID.Add(1)
	replyChan := make(chan reply, 1)
	p.mtx.Lock()
	p.pending[id] = replyChan
	p.mtx.Unlock()

	msg := outboundMsg{
		Version: version,
		ID:      id,
		Method:  &method,
		Params:  params,
	}
	select {
	case p.out <- msg:
	case <-p.done:
		p.forget(id)
		return errPeerDone
	case <-ctx.Done():
		p.forget(id)
		return ctx.Err()
	}

	var r reply
	select {
	case r = <-replyChan:
	case <-p.done:
		p.forget(id)
		return errPeerDone
	case <-ctx.Done():
		p.forget(id)
		return ctx.Err()
	}

	if r.err != nil {
		return r.err
	}
	if res == nil || r.result == nil {
		return nil
	}
	if err := json.Unmarshal(r.result, res); err != nil {
		return fmt.Errorf("unable to unmarshal result: %v", err)
	}
	return nil
}

func (p *peer) handleResponse(in *inboundMsg) {
	fid, ok := in.ID.(float64)
	if !ok {
		p.log.Warnf("Received response with non-number ID %v", in.ID)
		return
	}
	id := uint32(fid)

	p.mtx.Lock()
	replyChan, ok := p.pending[id]
	delete(p.pending, id)
	p.mtx.Unlock()
	if !ok {
		p.log.Warnf("Received response to unknown request %d", id)
		return
	}

	r := reply{result: in.Result}
	if in.Error != nil {
		r.err = in.Error
	}
	replyChan <- r
}

// errorFromOutcome converts a failed outcome into a JSON-RPC error.
func errorFromOutcome(o recsession.Outcome) *Error {
	code := ErrorCode(ErrCallFailed)
	switch o.Kind {
	case bridge.CodeNotImplemented:
		code = ErrMethodNotFound
	case bridge.CodeBadArgs:
		code = ErrInvalidParams
	}
	return &Error{Code: code, Message: o.Message, Data: string(o.Kind)}
}

// execute runs a request and returns its response.
func (p *peer) execute(ctx context.Context, in *inboundMsg) outboundMsg {
	method := *in.Method
	if p.caller == nil {
		return outboundFromError(in.ID, newError(ErrMethodNotFound, ""))
	}

	res, err := p.caller.Call(ctx, method, in.Params)
	switch {
	case err != nil:
		p.log.Debugf("Error calling %s: %v", method, err)
		return outboundFromError(in.ID, err)
	case !res.OK():
		return outboundFromError(in.ID, errorFromOutcome(res.Outcome))
	default:
		return outboundMsg{Version: version, ID: in.ID, Result: res.Message}
	}
}

// decodeNext reads the next message. Reads happen on a separate goroutine
// so that a canceled ctx does not wait for the transport.
func (p *peer) decodeNext(ctx context.Context) (*inboundMsg, error) {
	type decoded struct {
		msg *inboundMsg
		err error
	}
	c := make(chan decoded, 1)
	go func() {
		dec, err := p.codec.nextDecoder()
		if err != nil {
			c <- decoded{err: err}
			return
		}
		msg := new(inboundMsg)
		if err := dec.Decode(msg); err != nil {
			c <- decoded{err: err}
			return
		}
		c <- decoded{msg: msg}
	}()

	select {
	case d := <-c:
		return d.msg, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *peer) readLoop(ctx context.Context) error {
	var err error
	for {
		var in *inboundMsg
		in, err = p.decodeNext(ctx)
		if err != nil {
			break
		}
		if in.Version != version {
			err = MakeError(ErrInvalidRequest, "unsupported JSON-RPC version")
			break
		}

		switch in.kind() {
		case msgRequest:
			if !p.inflight.begin(ctx) {
				err = ctx.Err()
				break
			}
			go func() {
				defer p.inflight.end()
				res := p.execute(ctx, in)
				select {
				case p.out <- res:
				case <-ctx.Done():
				}
			}()

		case msgResponse:
			p.handleResponse(in)

		case msgNotification:
			p.log.Debugf("Ignoring notification for method %q", *in.Method)

		case msgUnroutedError:
			p.log.Debugf("Received error with nil ID: %v", in.Error)

		default:
			p.log.Debugf("Received unrecognized message: %v", in)
		}
		if err != nil {
			break
		}
	}

	if !errors.Is(err, context.Canceled) {
		p.log.Debugf("Read loop exiting: %v", err)
	}

	// Replies to requests already read are still written.
	p.inflight.wait()
	return err
}

func (p *peer) write(msg outboundMsg) error {
	enc, err := p.codec.nextEncoder()
	if err != nil {
		return fmt.Errorf("unable to obtain encoder: %w", err)
	}
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("unable to encode msg: %w", err)
	}
	if err := p.codec.flush(); err != nil {
		return fmt.Errorf("unable to flush msg: %w", err)
	}
	return nil
}

func (p *peer) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-p.out:
			if err := p.write(msg); err != nil {
				p.log.Debugf("Write loop exiting: %v", err)
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *peer) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(gctx) })
	g.Go(func() error { return p.writeLoop(gctx) })
	err := g.Wait()
	close(p.done)
	return err
}
