package bridge

import (
	"encoding/json"

	"github.com/companyzero/ghostrec/recsession"
)

// Method names accepted by the bridge.
const (
	MethodStartRecording = "startRecording"
	MethodStopRecording  = "stopRecording"
	MethodPlayRecording  = "playRecording"
	MethodStopPlayback   = "stopPlayback"
)

// Codes reported by the bridge in addition to the manager's error kinds.
const (
	CodeNotImplemented recsession.ErrorKind = "NOT_IMPLEMENTED"
	CodeBadArgs        recsession.ErrorKind = "BAD_ARGS"
)

const msgPermissionsNotGranted = "Required permissions not granted"

// ResultType identifies the kind of an entry in the result queue.
type ResultType uint32

const (
	RTCallReply ResultType = 0x00

	NTNOP           ResultType = 0x1001
	NTLogLine       ResultType = 0x1002
	NTBridgeStopped ResultType = 0x1003
)

// StartRecordingArgs are the params of startRecording.
type StartRecordingArgs struct {
	Dir string `json:"dir,omitempty"`
}

// PlayRecordingArgs are the params of playRecording.
type PlayRecordingArgs struct {
	FilePath string `json:"filePath"`
}

// CallResult is the reply to a call or a notification. Replies carry the
// outcome of the call. Notifications carry their payload.
type CallResult struct {
	ID     uint32     `json:"id"`
	Type   ResultType `json:"type"`
	Method string     `json:"method,omitempty"`
	recsession.Outcome
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CallResultLoopCB is called with every queued result.
type CallResultLoopCB interface {
	F(*CallResult)
}

// knownMethod returns method if it is one of the bridge methods or a fixed
// placeholder otherwise. Used to bound metric label values.
func knownMethod(method string) string {
	switch method {
	case MethodStartRecording, MethodStopRecording, MethodPlayRecording,
		MethodStopPlayback:
		return method
	default:
		return "unknown"
	}
}

// failureKind is the kind reported when a method fails unexpectedly.
func failureKind(method string) recsession.ErrorKind {
	switch method {
	case MethodStartRecording:
		return recsession.KindStartFailed
	case MethodStopRecording:
		return recsession.KindStopFailed
	case MethodPlayRecording:
		return recsession.KindPlayFailed
	case MethodStopPlayback:
		return recsession.KindStopPlayFailed
	default:
		return CodeNotImplemented
	}
}
