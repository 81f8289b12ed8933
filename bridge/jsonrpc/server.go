package jsonrpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// AuthModeBasic requires HTTP basic authentication on every request.
const AuthModeBasic = "basic"

// authorize returns the HTTP status with which to refuse r, or zero when the
// request may proceed.
func (s *Server) authorize(r *http.Request) int {
	if s.authMode == "" {
		return 0
	}
	if s.rpcUser == "" || s.rpcPass == "" {
		return http.StatusUnauthorized
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return http.StatusUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.rpcUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.rpcPass)) == 1
	if !userOK || !passOK {
		return http.StatusForbidden
	}
	return 0
}

// ServeHTTP serves POST requests on "/" and websocket connections on "/ws".
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if status := s.authorize(r); status != 0 {
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Basic realm="ghostrec"`)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch r.URL.Path {
	case "/ws":
		s.handleWebsocketRequest(w, r)
	case "/":
		s.handlePostRequest(w, r)
	default:
		http.NotFound(w, r)
	}
}

// isExpectedCloseErr returns true for errors that happen during a normal
// connection close.
func isExpectedCloseErr(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return true
	}
	return false
}

// handlePostRequest handles a POST-based JSON-RPC request. The body may hold
// a sequence of requests.
func (s *Server) handlePostRequest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	p := newServerPostPeer(w, req, s.caller, s.log)
	err := p.run(req.Context())
	if !isExpectedCloseErr(err) {
		s.log.Warnf("POST request error: %v", err)
	}
}

// checkOrigin allows requests without an origin, from local resources and
// from the same host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}

	originURL, err := url.Parse(origin[0])
	if err != nil {
		return false
	}

	// Firefox sets it to "null", Chrome and Edge to "file://".
	if originURL.Scheme == "file" || originURL.Path == "null" {
		return true
	}

	originHost := originURL.Host
	requestHost := r.Host
	if host, _, err := net.SplitHostPort(originHost); err == nil {
		originHost = host
	}
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	return strings.EqualFold(originHost, requestHost)
}

func (s *Server) handleWebsocketRequest(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		var herr websocket.HandshakeError
		if !errors.As(err, &herr) {
			s.log.Errorf("Unexpected websocket error: %v", err)
		}
		return
	}

	p := newWSPeer(ws, s.caller, s.log)
	err = p.run(r.Context())
	if !isExpectedCloseErr(err) {
		s.log.Errorf("Error while handling websocket request from %s: %v",
			r.RemoteAddr, err)
	} else {
		s.log.Tracef("Websocket from %s closed: %v", r.RemoteAddr, err)
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s
}

// Server is a JSON-RPC 2.0 server for bridge calls. It supports both
// POST-based and websockets-based requests.
type Server struct {
	caller    Caller
	listeners []net.Listener
	log       slog.Logger
	rpcUser   string
	rpcPass   string
	authMode  string
}

// Run the server, responding to requests until the context is closed.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return gctx },
		ErrorLog:          stdlog.New(logWriter(s.log.Warn), "", 0),
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, l := range s.listeners {
		l := l
		g.Go(func() error {
			s.log.Infof("Listening for JSON-RPC requests on %s", l.Addr())
			err := httpServer.Serve(l)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait to shutdown listeners.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		return gctx.Err()
	})

	return g.Wait()
}

type serverConfig struct {
	caller    Caller
	listeners []net.Listener
	log       slog.Logger
	authMode  string
	rpcUser   string
	rpcPass   string
}

// ServerOption defines an option when configuring a JSON-RPC server.
type ServerOption func(*serverConfig)

// WithCaller defines the bridge that executes requests.
func WithCaller(c Caller) ServerOption {
	return func(cfg *serverConfig) {
		cfg.caller = c
	}
}

// WithListeners defines which listeners to bind the server to.
func WithListeners(listeners []net.Listener) ServerOption {
	return func(cfg *serverConfig) {
		cfg.listeners = listeners
	}
}

// WithServerLog defines the logger to use to log server debug messages.
func WithServerLog(log slog.Logger) ServerOption {
	return func(cfg *serverConfig) {
		cfg.log = log
	}
}

// WithAuth requires authentication when authMode is not empty.
func WithAuth(username, password, authMode string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.rpcUser = username
		cfg.rpcPass = password
		cfg.authMode = authMode
	}
}

// NewServer returns a new JSON-RPC server.
func NewServer(options ...ServerOption) *Server {
	cfg := &serverConfig{
		log: slog.Disabled,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return &Server{
		caller:    cfg.caller,
		listeners: cfg.listeners,
		log:       cfg.log,
		authMode:  cfg.authMode,
		rpcUser:   cfg.rpcUser,
		rpcPass:   cfg.rpcPass,
	}
}
