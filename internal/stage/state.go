package stage

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of the stage.
type State int

const (
	// StateUnconfigured - no schema has been loaded yet.
	StateUnconfigured State = iota
	// StateReady - schema compiled, documents are accepted.
	StateReady
	// StateFailed - the last schema load failed, documents are refused
	// until a reload succeeds.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "UNCONFIGURED"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// AcceptsDocuments returns true if Process may take documents in this state.
func (s State) AcceptsDocuments() bool {
	return s == StateReady
}

func allStates() []string {
	return []string{StateUnconfigured.String(), StateReady.String(), StateFailed.String()}
}

// Errors returned by the stage.
var (
	ErrStageNotReady   = errors.New("stage is not ready")
	ErrNotConfigured   = errors.New("stage has no schema reference")
	ErrInvalidProperty = errors.New("invalid property")
)

// UnreadableError reports a document whose body could not be read. The
// document was not evaluated and was not transferred.
type UnreadableError struct {
	DocumentID string
	Err        error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("document %s unreadable: %v", e.DocumentID, e.Err)
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// TransferError reports a routed document the engine did not accept.
type TransferError struct {
	DocumentID string
	Path       string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer document %s to %s: %v", e.DocumentID, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// DocumentID returns the ID of the document an error refers to, or "" when
// the error is not tied to a taken document.
func DocumentID(err error) string {
	var unreadable *UnreadableError
	if errors.As(err, &unreadable) {
		return unreadable.DocumentID
	}
	var transfer *TransferError
	if errors.As(err, &transfer) {
		return transfer.DocumentID
	}
	return ""
}

// UnreadablePolicy decides what happens to documents whose body cannot be read.
type UnreadablePolicy string

const (
	// UnreadableFail hands the error back to the engine.
	UnreadableFail UnreadablePolicy = "fail"
	// UnreadableRouteInvalid routes the document to invalid with a diagnostic.
	UnreadableRouteInvalid UnreadablePolicy = "route-invalid"
)

// ParseUnreadablePolicy validates a policy name. Empty selects UnreadableFail.
func ParseUnreadablePolicy(s string) (UnreadablePolicy, error) {
	switch UnreadablePolicy(s) {
	case "", UnreadableFail:
		return UnreadableFail, nil
	case UnreadableRouteInvalid:
		return UnreadableRouteInvalid, nil
	default:
		return "", fmt.Errorf("unknown unreadable policy %q", s)
	}
}
