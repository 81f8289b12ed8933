package bridge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogConfig configures a LogBackend.
type LogConfig struct {
	// LogFile is the path of the rotated log file. Empty disables file
	// logging.
	LogFile string

	// DebugLevel is either a single level or a comma separated list of
	// level and subsys=level entries, for example "info,RECS=debug".
	DebugLevel string

	// MaxLogFiles is the number of rotated files to keep.
	MaxLogFiles int

	// Stdout receives a copy of every line when not nil.
	Stdout io.Writer
}

// LogBackend writes log lines to stdout, a rotating log file and optionally
// to a line notification callback.
type LogBackend struct {
	logRotator      *rotator.Rotator
	stdOut          io.Writer
	bknd            *slog.Backend
	defaultLogLevel slog.Level
	logLevels       map[string]slog.Level

	mtx    sync.Mutex
	notify func(line string)
}

// NewLogBackend creates a new log backend.
func NewLogBackend(cfg LogConfig) (*LogBackend, error) {
	var logRotator *rotator.Rotator
	if cfg.LogFile != "" {
		logDir, _ := filepath.Split(cfg.LogFile)
		if logDir != "" {
			if err := os.MkdirAll(logDir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		maxLogFiles := cfg.MaxLogFiles
		if maxLogFiles <= 0 {
			maxLogFiles = 3
		}
		var err error
		logRotator, err = rotator.New(cfg.LogFile, 1024*1024, false, maxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
	}

	b := &LogBackend{
		logRotator:      logRotator,
		stdOut:          cfg.Stdout,
		defaultLogLevel: slog.LevelInfo,
		logLevels:       make(map[string]slog.Level),
	}
	b.bknd = slog.NewBackend(b)

	if cfg.DebugLevel == "" {
		return b, nil
	}

	// Parse the debugLevel string into log levels for each subsystem.
	for _, v := range strings.Split(cfg.DebugLevel, ",") {
		fields := strings.Split(v, "=")
		switch len(fields) {
		case 1:
			level, ok := slog.LevelFromString(fields[0])
			if !ok {
				return nil, fmt.Errorf("unknown log level %q", fields[0])
			}
			b.defaultLogLevel = level
		case 2:
			level, ok := slog.LevelFromString(fields[1])
			if !ok {
				return nil, fmt.Errorf("unknown log level %q for subsys %s",
					fields[1], fields[0])
			}
			b.logLevels[fields[0]] = level
		default:
			return nil, fmt.Errorf("unable to parse %q as subsys=level "+
				"debuglevel string", v)
		}
	}

	return b, nil
}

// SetLineNotifier sets a function called with every log line. Pass nil to
// disable notifications.
func (bknd *LogBackend) SetLineNotifier(f func(line string)) {
	bknd.mtx.Lock()
	bknd.notify = f
	bknd.mtx.Unlock()
}

func (bknd *LogBackend) Write(b []byte) (int, error) {
	if bknd.stdOut != nil {
		bknd.stdOut.Write(b)
	}
	if bknd.logRotator != nil {
		bknd.logRotator.Write(b)
	}
	bknd.mtx.Lock()
	notify := bknd.notify
	bknd.mtx.Unlock()
	if notify != nil {
		notify(string(b))
	}
	return len(b), nil
}

// Logger returns the logger for a subsystem.
func (bknd *LogBackend) Logger(subsys string) slog.Logger {
	l := bknd.bknd.Logger(subsys)
	if level, ok := bknd.logLevels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(bknd.defaultLogLevel)
	}
	return l
}

// Close closes the log file.
func (bknd *LogBackend) Close() error {
	if bknd.logRotator == nil {
		return nil
	}
	return bknd.logRotator.Close()
}
