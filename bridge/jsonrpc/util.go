package jsonrpc

import (
	"context"
	"strings"
	"sync"
)

// inflight bounds the number of requests a peer executes concurrently and
// tracks them so the peer can wait for their replies before exiting.
type inflight struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func newInflight(max int) *inflight {
	return &inflight{slots: make(chan struct{}, max)}
}

// begin takes a slot. It returns false if ctx is done first.
func (f *inflight) begin(ctx context.Context) bool {
	select {
	case f.slots <- struct{}{}:
		f.wg.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

// end returns the slot taken by a successful begin.
func (f *inflight) end() {
	<-f.slots
	f.wg.Done()
}

// wait blocks until every request that called begin has called end.
func (f *inflight) wait() {
	f.wg.Wait()
}

// logWriter adapts a slog function to an io.Writer for http.Server.ErrorLog.
type logWriter func(...interface{})

func (w logWriter) Write(b []byte) (int, error) {
	w(strings.TrimSuffix(string(b), "\n"))
	return len(b), nil
}
