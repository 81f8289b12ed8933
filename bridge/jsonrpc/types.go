package jsonrpc

import (
	"context"
	"encoding/json"

	"github.com/companyzero/ghostrec/bridge"
)

const version string = "2.0"

// Caller executes bridge calls. It is implemented by *bridge.Bridge.
type Caller interface {
	Call(ctx context.Context, method string, params json.RawMessage) (*bridge.CallResult, error)
}

// inboundMsg is a JSON-RPC message decoded from a reader. It supports both
// requests and responses.
type inboundMsg struct {
	Version string          `json:"jsonrpc,"`
	ID      interface{}     `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Method  *string         `json:"method,omitempty"`
}

// outboundMsg is a message that is going to be written on a writer. It supports
// both requests and responses.
type outboundMsg struct {
	Version string      `json:"jsonrpc,"`
	ID      interface{} `json:"id,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	Method  *string     `json:"method,omitempty"`
}
