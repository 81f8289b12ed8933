package bridge

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/companyzero/ghostrec/internal/assert"
	"github.com/companyzero/ghostrec/internal/testutils"
	"github.com/decred/slog"
)

func TestLogBackendLevels(t *testing.T) {
	var out bytes.Buffer
	bknd, err := NewLogBackend(LogConfig{
		DebugLevel: "warn,BRDG=debug",
		Stdout:     &out,
	})
	assert.NilErr(t, err)

	assert.DeepEqual(t, bknd.Logger("BRDG").Level(), slog.LevelDebug)
	assert.DeepEqual(t, bknd.Logger("RECS").Level(), slog.LevelWarn)

	bknd.Logger("RECS").Infof("hidden")
	bknd.Logger("BRDG").Debugf("shown")
	if strings.Contains(out.String(), "hidden") {
		t.Fatalf("info line logged at warn level: %q", out.String())
	}
	if !strings.Contains(out.String(), "BRDG: shown") {
		t.Fatalf("debug line not logged: %q", out.String())
	}
}

func TestLogBackendBadLevel(t *testing.T) {
	for _, level := range []string{"loud", "info,RECS=loud", "RECS=info=debug"} {
		_, err := NewLogBackend(LogConfig{DebugLevel: level})
		assert.NonNilErr(t, err)
	}
}

func TestLogBackendFileAndNotifier(t *testing.T) {
	dir := testutils.TempTestDir(t, "logs")
	logFile := filepath.Join(dir, "sub", "ghostrec.log")
	bknd, err := NewLogBackend(LogConfig{LogFile: logFile, DebugLevel: "info"})
	assert.NilErr(t, err)

	lines := make(chan string, 5)
	bknd.SetLineNotifier(func(line string) { lines <- line })
	bknd.Logger("GRCD").Info("first line")
	line := assert.ChanWritten(t, lines)
	if !strings.HasSuffix(line, "GRCD: first line\n") {
		t.Fatalf("unexpected notified line %q", line)
	}

	bknd.SetLineNotifier(nil)
	bknd.Logger("GRCD").Info("second line")
	assert.ChanNotWritten(t, lines, 0)

	assert.NilErr(t, bknd.Close())
	data, err := os.ReadFile(logFile)
	assert.NilErr(t, err)
	if !strings.Contains(string(data), "second line") {
		t.Fatalf("log file missing lines: %q", data)
	}
}
