// ghostrecctl performs a single call on a running ghostrecd instance.
//
//	ghostrecctl [flags] <method> [arg]
//
// The arg is the recordings dir for startRecording and the file path for
// playRecording.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/companyzero/ghostrec/bridge"
	"github.com/companyzero/ghostrec/bridge/jsonrpc"
	"github.com/companyzero/ghostrec/internal/version"
	"github.com/decred/slog"
	"github.com/jrick/flagfile"
	"github.com/mitchellh/go-homedir"
)

const defaultConfigFile = "~/.ghostrecctl.conf"

// errUsage is returned when the command line is invalid.
var errUsage = errors.New("usage: ghostrecctl [flags] <method> [arg]")

type options struct {
	cfgFile string
	url     string
	user    string
	pass    string
	timeout time.Duration
	debug   bool
	version bool
}

// callParams returns the params of method given the optional arg.
func callParams(method string, args []string) (interface{}, error) {
	arg := ""
	if len(args) > 1 {
		return nil, errUsage
	}
	if len(args) == 1 {
		arg = args[0]
	}
	switch method {
	case bridge.MethodStartRecording:
		return bridge.StartRecordingArgs{Dir: arg}, nil
	case bridge.MethodPlayRecording:
		return bridge.PlayRecordingArgs{FilePath: arg}, nil
	default:
		if arg != "" {
			return nil, fmt.Errorf("method %s does not take arguments", method)
		}
		return nil, nil
	}
}

// formatError returns the line printed for a failed call.
func formatError(err error) string {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.Kind() != "" {
		return fmt.Sprintf("%s: %s", rpcErr.Kind(), rpcErr.Message)
	}
	return fmt.Sprintf("Error: %v", err)
}

// loadConfigFile sets flags from an optional file of "name = value" lines.
func loadConfigFile(fs *flag.FlagSet, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	path, err := homedir.Expand(cfgFile)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && cfgFile == defaultConfigFile {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	parser := flagfile.Parser{ParseSections: true}
	if err := parser.Parse(f, fs); err != nil {
		return fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return nil
}

func call(ctx context.Context, opts *options, method string, params interface{}, log slog.Logger) (string, error) {
	clientOpts := []jsonrpc.ClientOption{
		jsonrpc.WithWebsocketURL(opts.url),
		jsonrpc.WithClientLog(log),
	}
	if opts.user != "" {
		clientOpts = append(clientOpts, jsonrpc.WithBasicAuth(opts.user, opts.pass))
	}
	c, err := jsonrpc.NewWSClient(clientOpts...)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	go c.Run(ctx)

	var res string
	err = c.Request(ctx, method, params, &res)
	return res, err
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ghostrecctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.url, "url", "ws://127.0.0.1:7878/ws", "websocket URL of ghostrecd")
	fs.StringVar(&opts.user, "rpcuser", "", "basic auth user")
	fs.StringVar(&opts.pass, "rpcpass", "", "basic auth password")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "call timeout")
	fs.BoolVar(&opts.debug, "debug", false, "log client debug messages")
	fs.BoolVar(&opts.version, "version", false, "show version")
	fs.StringVar(&opts.cfgFile, "cfg", defaultConfigFile, "file with default flag values")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := loadConfigFile(fs, opts.cfgFile); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	// Command line flags override the config file.
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "ghostrecctl %s\n", version.String())
		return 0
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, errUsage)
		return 2
	}

	method := fs.Arg(0)
	params, err := callParams(method, fs.Args()[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log := slog.Disabled
	if opts.debug {
		log = slog.NewBackend(stderr).Logger("CTL")
		log.SetLevel(slog.LevelDebug)
	}

	res, err := call(context.Background(), opts, method, params, log)
	if err != nil {
		fmt.Fprintln(stderr, formatError(err))
		return 1
	}
	fmt.Fprintln(stdout, res)
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
