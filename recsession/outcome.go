package recsession

import "fmt"

// ErrorKind classifies a failed operation. The string values are the codes
// reported to UI callers.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "PERMISSION"
	KindNoFile           ErrorKind = "NO_FILE"
	KindStartFailed      ErrorKind = "START_FAILED"
	KindStopFailed       ErrorKind = "STOP_FAILED"
	KindPlayFailed       ErrorKind = "PLAY_FAILED"
	KindStopPlayFailed   ErrorKind = "STOP_PLAY_FAILED"
)

// Outcome is the result of every manager operation. An empty Kind means
// success, in which case Message is the success message. Otherwise Message
// is the human readable failure detail.
type Outcome struct {
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
}

// Success returns a successful outcome.
func Success(msg string) Outcome {
	return Outcome{Message: msg}
}

// Failure returns a failed outcome of the given kind.
func Failure(kind ErrorKind, detail string) Outcome {
	return Outcome{Kind: kind, Message: detail}
}

// OK returns true if this is a successful outcome.
func (o Outcome) OK() bool {
	return o.Kind == ""
}

func (o Outcome) String() string {
	if o.OK() {
		return o.Message
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}

// Err returns nil for successful outcomes and an *OutcomeError otherwise.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &OutcomeError{Kind: o.Kind, Detail: o.Message}
}

// OutcomeError is the error form of a failed Outcome.
type OutcomeError struct {
	Kind   ErrorKind
	Detail string
}

func (err *OutcomeError) Error() string {
	return fmt.Sprintf("%s: %s", err.Kind, err.Detail)
}

// Is returns true when target is an *OutcomeError of the same kind.
func (err *OutcomeError) Is(target error) bool {
	t, ok := target.(*OutcomeError)
	return ok && t.Kind == err.Kind
}
