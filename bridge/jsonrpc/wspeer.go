package jsonrpc

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	websocketPingInterval = 30 * time.Second
	websocketPongTimeout  = 10 * time.Second
	websocketWriteTimeout = time.Second
)

// wsPeer is a peer over a websocket connection. It is used on both the
// server and client ends. Each JSON-RPC message is one text message.
type wsPeer struct {
	p    *peer
	conn *websocket.Conn
	log  slog.Logger

	pingInterval time.Duration
	writer       io.WriteCloser
}

func newWSPeer(conn *websocket.Conn, caller Caller, log slog.Logger) *wsPeer {
	wp := &wsPeer{
		conn:         conn,
		log:          log,
		pingInterval: websocketPingInterval,
	}
	wp.p = newPeer(caller, log, wp)
	return wp
}

func (wp *wsPeer) nextDecoder() (*json.Decoder, error) {
	_, r, err := wp.conn.NextReader()
	if err != nil {
		return nil, err
	}
	return json.NewDecoder(r), nil
}

func (wp *wsPeer) nextEncoder() (*json.Encoder, error) {
	w, err := wp.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return nil, err
	}
	wp.writer = w
	return json.NewEncoder(w), nil
}

func (wp *wsPeer) flush() error {
	return wp.writer.Close()
}

func (wp *wsPeer) close() error {
	return wp.conn.Close()
}

// keepalive pings the remote end and fails if a matching pong does not
// arrive in time.
func (wp *wsPeer) keepalive(ctx context.Context, pongs <-chan string) error {
	var seq uint64
	payload := make([]byte, 8)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wp.pingInterval):
		}

		seq++
		binary.BigEndian.PutUint64(payload, seq)
		deadline := time.Now().Add(websocketWriteTimeout)
		if err := wp.conn.WriteControl(websocket.PingMessage, payload, deadline); err != nil {
			return fmt.Errorf("unable to send ping: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(websocketPongTimeout):
			return errors.New("pong timeout")
		case pong := <-pongs:
			if pong != string(payload) {
				return fmt.Errorf("pong %x does not match ping %x", pong, payload)
			}
		}
	}
}

func (wp *wsPeer) run(ctx context.Context) error {
	defer wp.close()

	g, gctx := errgroup.WithContext(ctx)
	pongs := make(chan string, 1)
	wp.conn.SetPongHandler(func(payload string) error {
		wp.log.Tracef("Received pong %x", payload)
		select {
		case pongs <- payload:
		default:
		}
		return nil
	})

	g.Go(func() error { return wp.keepalive(gctx, pongs) })
	g.Go(func() error { return wp.p.run(gctx) })
	g.Go(func() error {
		// Closing the conn unblocks a pending read.
		<-gctx.Done()
		wp.close()
		return nil
	})
	return g.Wait()
}

// WSClient is a websockets-based JSON-RPC 2.0 client.
//
// The client is only connected while its [Run] method is executing. Requests
// made while disconnected wait for the next connection.
type WSClient struct {
	dial func(context.Context) (*websocket.Conn, error)
	log  slog.Logger

	mtx     sync.Mutex
	current *wsPeer
	ready   chan struct{}
}

// connectedPeer returns the current peer, waiting for a connection if needed.
func (c *WSClient) connectedPeer(ctx context.Context) (*wsPeer, error) {
	for {
		c.mtx.Lock()
		wp, ready := c.current, c.ready
		c.mtx.Unlock()
		if wp != nil {
			return wp, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *WSClient) setPeer(wp *wsPeer) {
	c.mtx.Lock()
	c.current = wp
	if wp != nil {
		close(c.ready)
	} else {
		c.ready = make(chan struct{})
	}
	c.mtx.Unlock()
}

// Request performs a request on the server and decodes its result into res
// (when res is not nil). A failed call returns an *Error whose Kind is the
// failure kind.
//
// The request fails if the connection drops before the response arrives.
func (c *WSClient) Request(ctx context.Context, method string, params, res interface{}) error {
	wp, err := c.connectedPeer(ctx)
	if err != nil {
		return err
	}
	return wp.p.request(ctx, method, params, res)
}

// Close drops the current connection, if any. Run reconnects afterwards.
func (c *WSClient) Close() error {
	c.mtx.Lock()
	wp := c.current
	c.mtx.Unlock()
	if wp == nil {
		return nil
	}
	return wp.close()
}

// Run keeps the client connected until ctx is done.
func (c *WSClient) Run(ctx context.Context) error {
	const (
		minRetryDelay = time.Second
		maxRetryDelay = 30 * time.Second
	)
	delay := minRetryDelay

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warnf("Unable to connect to RPC server: %v. Retrying in %s",
				err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRetryDelay)
			continue
		}
		delay = minRetryDelay

		wp := newWSPeer(conn, nil, c.log)
		c.setPeer(wp)
		err = wp.run(ctx)
		c.setPeer(nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Debugf("Connection to RPC server closed: %v", err)
	}
}

type clientConfig struct {
	log      slog.Logger
	url      string
	user     string
	password string
}

// ClientOption is a configuration option for JSON-RPC clients.
type ClientOption func(cfg *clientConfig)

// WithWebsocketURL defines the URL to use to connect to the server.
func WithWebsocketURL(url string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.url = url
	}
}

// WithClientLog defines the logger used by the client.
func WithClientLog(log slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.log = log
	}
}

// WithBasicAuth defines the credentials sent to servers that require basic
// authentication.
func WithBasicAuth(user, password string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.user = user
		cfg.password = password
	}
}

// NewWSClient creates a new websockets-based JSON-RPC 2.0 client.
func NewWSClient(options ...ClientOption) (*WSClient, error) {
	cfg := &clientConfig{
		log: slog.Disabled,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.url == "" {
		return nil, errors.New("websocket URL not specified")
	}

	var header http.Header
	if cfg.user != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(cfg.user + ":" + cfg.password))
		header = http.Header{"Authorization": []string{"Basic " + auth}}
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	return &WSClient{
		log:   cfg.log,
		ready: make(chan struct{}),
		dial: func(ctx context.Context) (*websocket.Conn, error) {
			//nolint:bodyclose
			conn, _, err := dialer.DialContext(ctx, cfg.url, header)
			return conn, err
		},
	}, nil
}
