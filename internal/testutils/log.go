package testutils

import (
	"sync"
	"testing"

	"github.com/decred/slog"
)

// testLogBackend is a slog backend that logs through t.Log until the test
// ends.
type testLogBackend struct {
	mtx  sync.Mutex
	tb   testing.TB
	done bool
}

func (tlb *testLogBackend) Write(b []byte) (int, error) {
	tlb.mtx.Lock()
	if !tlb.done && len(b) > 0 {
		tlb.tb.Log(string(b[:len(b)-1]))
	}
	tlb.mtx.Unlock()
	return len(b), nil
}

func newTestLogBackend(t testing.TB) *testLogBackend {
	tlb := &testLogBackend{tb: t}
	t.Cleanup(func() {
		tlb.mtx.Lock()
		tlb.done = true
		tlb.mtx.Unlock()
	})
	return tlb
}

// TestLoggerSys returns an slog.Logger that logs by issuing t.Log calls.
func TestLoggerSys(t testing.TB, sys string) slog.Logger {
	bknd := slog.NewBackend(newTestLogBackend(t))
	logg := bknd.Logger(sys)
	logg.SetLevel(slog.LevelTrace)
	return logg
}

// TestLoggerBackend returns a function that generates loggers for subsystems,
// all of which log by calling t.Log.
func TestLoggerBackend(t testing.TB) func(subsys string) slog.Logger {
	bknd := slog.NewBackend(newTestLogBackend(t))
	return func(subsys string) slog.Logger {
		logg := bknd.Logger(subsys)
		logg.SetLevel(slog.LevelTrace)
		return logg
	}
}
