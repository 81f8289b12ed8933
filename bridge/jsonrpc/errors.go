package jsonrpc

import (
	"errors"
	"fmt"
	"io"
)

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

const (
	// ErrCallFailed is returned when a session operation fails. The error
	// data holds the failure kind.
	ErrCallFailed = -32000

	// ErrEOF is returned when a request could not be completed because its
	// stream ended.
	ErrEOF = 10000

	// Codes defined by JSON-RPC 2.0.
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var errorCodeDescs = map[ErrorCode]string{
	ErrCallFailed:     "call failed",
	ErrEOF:            "EOF",
	ErrParseError:     "JSON parsing error",
	ErrInvalidRequest: "invalid JSON-RPC request",
	ErrMethodNotFound: "method not found",
	ErrInvalidParams:  "invalid parameters",
	ErrInternal:       "internal error",
}

func (code ErrorCode) Error() string {
	if desc, ok := errorCodeDescs[code]; ok {
		return desc
	}
	return fmt.Sprintf("error code %d", int(code))
}

// Error is the error object of a JSON-RPC response.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (err Error) Error() string {
	if err.Message == "" {
		return err.Code.Error()
	}
	return err.Message
}

// Kind returns the failure kind carried in the error data, if any.
func (err Error) Kind() string {
	kind, _ := err.Data.(string)
	return kind
}

// MakeError creates an Error. An empty msg is replaced by the description of
// the code.
func MakeError(code ErrorCode, msg string) Error {
	if msg == "" {
		msg = code.Error()
	}
	return Error{Code: code, Message: msg}
}

func newError(code ErrorCode, msg string) *Error {
	err := MakeError(code, msg)
	return &err
}

// outboundFromError builds the response to request id that failed with err.
func outboundFromError(id interface{}, err error) outboundMsg {
	var rpcErr *Error
	var code ErrorCode
	var valErr Error
	switch {
	case errors.As(err, &rpcErr):
	case errors.As(err, &valErr):
		rpcErr = &valErr
	case errors.As(err, &code):
		rpcErr = newError(code, "")
	case errors.Is(err, io.EOF):
		rpcErr = newError(ErrEOF, "")
	default:
		rpcErr = newError(ErrInternal, err.Error())
	}
	return outboundMsg{Version: version, ID: id, Error: rpcErr}
}
