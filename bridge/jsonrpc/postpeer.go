package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/decred/slog"
)

// postCodec reads requests from a POST body and writes responses to the
// response writer. A single body may hold several requests.
type postCodec struct {
	dec     *json.Decoder
	enc     *json.Encoder
	flusher http.Flusher
}

func (c *postCodec) nextDecoder() (*json.Decoder, error) { return c.dec, nil }
func (c *postCodec) nextEncoder() (*json.Encoder, error) { return c.enc, nil }

func (c *postCodec) flush() error {
	if c.flusher != nil {
		c.flusher.Flush()
	}
	return nil
}

// postPeer serves the requests of a single POST request. It only supports
// the server side.
type postPeer struct {
	p *peer
}

func (p *postPeer) run(ctx context.Context) error {
	return p.p.run(ctx)
}

func newServerPostPeer(w http.ResponseWriter, r *http.Request, caller Caller, log slog.Logger) *postPeer {
	c := &postCodec{
		dec: json.NewDecoder(r.Body),
		enc: json.NewEncoder(w),
	}
	c.flusher, _ = w.(http.Flusher)
	return &postPeer{p: newPeer(caller, log, c)}
}
