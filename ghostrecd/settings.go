package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/companyzero/ghostrec/bridge/jsonrpc"
	"github.com/companyzero/ghostrec/internal/audio"
	"github.com/companyzero/ghostrec/internal/version"
	"github.com/companyzero/ghostrec/recsession"
	"github.com/decred/slog"
	"github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"
	strduration "github.com/xhit/go-str2duration/v2"
)

const (
	appName            = "ghostrecd"
	defaultRootDir     = "~/.ghostrecd"
	defaultListen      = "127.0.0.1:7878"
	defaultMaxLogFiles = 10
)

type settings struct {
	Root          string // root directory
	RecordingsDir string // default directory for new recordings

	// rpc section
	Listen   []string // JSON-RPC listen addresses
	RPCUser  string
	RPCPass  string
	AuthMode string

	// audio section
	CaptureDevice     string
	PlaybackDevice    string
	AssumePermissions bool
	Container         recsession.Container

	// log section
	LogFile       string // log filename
	DebugLevel    string // debug level config string
	MaxLogFiles   int
	Profiler      string // go profiler link
	StatsInterval time.Duration

	ListenPrometheus string // listen addr for metrics
}

func newSettings() *settings {
	return &settings{
		Root:          defaultRootDir,
		Listen:        []string{defaultListen},
		DebugLevel:    "info",
		MaxLogFiles:   defaultMaxLogFiles,
		StatsInterval: time.Minute,
		Container:     recsession.ContainerOgg,
	}
}

// LockFilePath is the path of the lock file that guards the root dir.
func (s *settings) LockFilePath() string {
	return filepath.Join(s.Root, appName+".lock")
}

func parseContainer(v string) (recsession.Container, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "ogg":
		return recsession.ContainerOgg, nil
	case "3gp":
		return recsession.Container3GP, nil
	default:
		return 0, fmt.Errorf("unknown container %q", v)
	}
}

// Load retrieves settings from an ini file. All paths have ~ expanded to the
// current user home directory. Paths that are not configured are placed
// under the root directory.
func (s *settings) Load(filename string) error {
	cfg, err := ini.LoadFile(filename)
	if err != nil {
		return err
	}

	get := func(s *string, section, field string) bool {
		v, ok := cfg.Get(section, field)
		if ok {
			*s = strings.TrimSpace(v)
		}
		return ok
	}
	getPath := func(s *string, section, field string) error {
		get(s, section, field)
		if *s == "" {
			return nil
		}
		path, err := homedir.Expand(*s)
		if err != nil {
			return fmt.Errorf("unable to expand %s.%s: %w", section, field, err)
		}
		*s = filepath.Clean(path)
		return nil
	}
	getInt := func(i *int, section, field string) error {
		v, ok := cfg.Get(section, field)
		if !ok {
			return nil
		}
		res, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid value for %s.%s: %w", section, field, err)
		}
		*i = res
		return nil
	}
	getBool := func(b *bool, section, field string) error {
		v, ok := cfg.Get(section, field)
		if !ok {
			return nil
		}
		res, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid value for %s.%s: %w", section, field, err)
		}
		*b = res
		return nil
	}

	// Root first, as the default paths depend on it.
	if err := getPath(&s.Root, "", "root"); err != nil {
		return err
	}
	if err := getPath(&s.RecordingsDir, "", "recordingsdir"); err != nil {
		return err
	}
	if s.RecordingsDir == "" {
		s.RecordingsDir = filepath.Join(s.Root, "recordings")
	}
	get(&s.ListenPrometheus, "", "listenprometheus")

	// rpc
	if rawListen, ok := cfg.Get("rpc", "listen"); ok {
		s.Listen = nil
		for _, addr := range strings.Split(rawListen, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				s.Listen = append(s.Listen, addr)
			}
		}
	}
	get(&s.RPCUser, "rpc", "rpcuser")
	get(&s.RPCPass, "rpc", "rpcpass")
	get(&s.AuthMode, "rpc", "authmode")
	switch s.AuthMode {
	case "", "none":
		s.AuthMode = ""
	case jsonrpc.AuthModeBasic:
		if s.RPCUser == "" || s.RPCPass == "" {
			return errors.New("rpc.authmode basic requires rpcuser and rpcpass")
		}
	default:
		return fmt.Errorf("unknown rpc.authmode %q", s.AuthMode)
	}

	// audio
	get(&s.CaptureDevice, "audio", "capturedevice")
	get(&s.PlaybackDevice, "audio", "playbackdevice")
	if err := getBool(&s.AssumePermissions, "audio", "assumepermissions"); err != nil {
		return err
	}
	var container string
	if get(&container, "audio", "container") {
		if s.Container, err = parseContainer(container); err != nil {
			return err
		}
	}

	// log
	if err := getPath(&s.LogFile, "log", "logfile"); err != nil {
		return err
	}
	if s.LogFile == "" {
		s.LogFile = filepath.Join(s.Root, "logs", appName+".log")
	}
	get(&s.DebugLevel, "log", "debuglevel")
	if err := getInt(&s.MaxLogFiles, "log", "maxlogfiles"); err != nil {
		return err
	}
	get(&s.Profiler, "log", "profiler")

	var statsInterval string
	if get(&statsInterval, "log", "statsinterval") {
		if statsInterval != "" {
			interval, err := strduration.ParseDuration(statsInterval)
			if err != nil {
				return fmt.Errorf("unable to parse stats interval duration: %v", err)
			}
			s.StatsInterval = interval
		} else {
			// Disabled.
			s.StatsInterval = 0
		}
	}

	return nil
}

// flags holds the command line flags of the daemon.
type flags struct {
	cfgFile     string
	version     bool
	showEnv     bool
	listDevices bool
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.cfgFile, "cfg", filepath.Join(defaultRootDir, appName+".conf"), "config file")
	fs.BoolVar(&f.version, "version", false, "show version")
	fs.BoolVar(&f.showEnv, "showenv", false, "show environment and config information")
	fs.BoolVar(&f.listDevices, "listdevices", false, "list audio devices and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfgFile, err := homedir.Expand(f.cfgFile)
	if err != nil {
		return nil, err
	}
	f.cfgFile = cfgFile
	return f, nil
}

func printDevices(w io.Writer, devs audio.Devices) {
	printList := func(title string, list []audio.Device) {
		fmt.Fprintf(w, "%s devices:\n", title)
		if len(list) == 0 {
			fmt.Fprintf(w, "  (none)\n")
		}
		for _, dev := range list {
			def := ""
			if dev.IsDefault {
				def = " (default)"
			}
			fmt.Fprintf(w, "  %s%s\n    id: %s\n", dev.Name, def, dev.ID)
		}
	}
	printList("Capture", devs.Capture)
	printList("Playback", devs.Playback)
}

// obtainSettings parses the command line and config file. It returns nil
// settings when the requested action was completed by the flags alone.
func obtainSettings() (*settings, error) {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		return nil, err
	}

	if f.listDevices {
		devs, err := audio.ListAudioDevices(slog.Disabled)
		if err != nil {
			return nil, fmt.Errorf("unable to list audio devices: %w", err)
		}
		printDevices(os.Stdout, devs)
		return nil, nil
	}

	println := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if f.version || f.showEnv {
		println("%s %s (%s)", appName, version.String(), runtime.Version())
	}
	if f.version {
		return nil, nil
	}

	s := newSettings()
	if err := s.Load(f.cfgFile); err != nil {
		return nil, err
	}

	if f.showEnv {
		home, _ := homedir.Dir()
		println("Home dir: %s", home)
		println("Config file path: %s", f.cfgFile)
		println("Root dir: %s", s.Root)
		println("Recordings dir: %s", s.RecordingsDir)
		println("Log file: %s", s.LogFile)
		println("Container: %s", s.Container)
		println("Listening addresses:")
		for i, addr := range s.Listen {
			println("  %d - %q", i, addr)
		}
		return nil, nil
	}

	return s, nil
}
