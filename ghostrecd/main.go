package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/companyzero/ghostrec/bridge"
	"github.com/companyzero/ghostrec/bridge/jsonrpc"
	"github.com/companyzero/ghostrec/internal/audio"
	"github.com/companyzero/ghostrec/internal/version"
	"github.com/companyzero/ghostrec/lockfile"
	"github.com/companyzero/ghostrec/recsession"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"
)

// statusLoop periodically logs the state of the session handles.
func statusLoop(ctx context.Context, interval time.Duration, mgr *recsession.Manager, log slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		rec, play := mgr.Recording(), mgr.Playback()
		switch {
		case !rec.Active && !play.Active:
			log.Debugf("Status: idle")
		default:
			log.Infof("Status: recording=%v (%s) playback=%v (%s)",
				rec.Active, rec.Path, play.Active, play.Path)
		}
	}
}

// runPrometheus serves the bridge metrics until ctx is done.
func runPrometheus(ctx context.Context, addr string, stats *bridge.Stats, log slog.Logger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen for prometheus on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", stats.MetricsHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Infof("Serving prometheus metrics on http://%s/metrics", l.Addr())
	err = srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

func realMain() error {
	// Settings.
	cfg, err := obtainSettings()
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}

	// Main context.
	errMainCtxCanceled := errors.New("main context canceled")
	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, mainCancel := context.WithCancelCause(context.Background())
	defer mainCancel(nil)

	// Only one daemon per root dir.
	lf, err := lockfile.TryCreate(ctx, cfg.LockFilePath(), time.Second)
	if err != nil {
		return err
	}
	defer lf.Close()

	// Log.
	logBknd, err := bridge.NewLogBackend(bridge.LogConfig{
		LogFile:     cfg.LogFile,
		DebugLevel:  cfg.DebugLevel,
		MaxLogFiles: cfg.MaxLogFiles,
		Stdout:      os.Stdout,
	})
	if err != nil {
		return err
	}
	defer logBknd.Close()
	log := logBknd.Logger("GRCD")
	log.Infof("Running %s version %s", appName, version.String())
	log.Debugf("Holding lock file %s", lf.Path())
	if log.Level() <= slog.LevelDebug {
		redacted := *cfg
		if redacted.RPCPass != "" {
			redacted.RPCPass = "(redacted)"
		}
		log.Debugf("Settings %v", spew.Sdump(redacted))
	}

	go func() {
		<-sigCtx.Done()
		log.Infof("Interrupt detected. Shutting down.")
		mainCancel(errMainCtxCanceled)
	}()

	// Profiler.
	if cfg.Profiler != "" {
		log.Infof("Profiler enabled on http://%v/debug/pprof", cfg.Profiler)
		go http.ListenAndServe(cfg.Profiler, nil)
	}

	if err := os.MkdirAll(cfg.RecordingsDir, 0o700); err != nil {
		return fmt.Errorf("unable to create recordings dir: %w", err)
	}

	// Session manager.
	dev := audio.NewBackend(
		audio.WithCaptureDevice(audio.DeviceID(cfg.CaptureDevice)),
		audio.WithPlaybackDevice(audio.DeviceID(cfg.PlaybackDevice)),
		audio.WithLogger(logBknd.Logger("AUDI")),
	)
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warnf("Unable to close audio device: %v", err)
		}
	}()
	mgr := recsession.New(dev,
		recsession.WithLogger(logBknd.Logger("RECS")),
		recsession.WithContainer(cfg.Container),
	)

	var perms bridge.PermissionChecker = audio.NewCapturePermission(logBknd.Logger("AUDI"))
	if cfg.AssumePermissions {
		log.Warnf("Assuming capture permissions are granted")
		perms = bridge.GrantedPermissions{}
	}
	b := bridge.New(mgr,
		bridge.WithPermissions(perms),
		bridge.WithRecordingsDir(cfg.RecordingsDir),
		bridge.WithLogger(logBknd.Logger("BRDG")),
	)

	// JSON-RPC listeners.
	var listeners []net.Listener
	for _, addr := range cfg.Listen {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("unable to listen on %s: %w", addr, err)
		}
		listeners = append(listeners, l)
	}
	if len(listeners) > 0 && cfg.AuthMode == "" {
		log.Warnf("JSON-RPC server running without authentication")
	}
	server := jsonrpc.NewServer(
		jsonrpc.WithCaller(b),
		jsonrpc.WithListeners(listeners),
		jsonrpc.WithServerLog(logBknd.Logger("JRPC")),
		jsonrpc.WithAuth(cfg.RPCUser, cfg.RPCPass, cfg.AuthMode),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return statusLoop(gctx, cfg.StatsInterval, mgr, log) })
	if cfg.ListenPrometheus != "" {
		g.Go(func() error {
			return runPrometheus(gctx, cfg.ListenPrometheus, b.Stats(), log)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && context.Cause(ctx) == errMainCtxCanceled {
		// Ignore graceful shutdown error.
		log.Infof("Shutdown complete")
		return nil
	}
	return err
}

func main() {
	err := realMain()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
		os.Exit(1)
	}
}
