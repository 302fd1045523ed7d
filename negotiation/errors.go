package negotiation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned for intents issued after the Session was closed.
var ErrClosed = errors.New("negotiation: session closed")

// MediaError reports a failure to acquire local media. The call is aborted and
// the Session returns to idle.
type MediaError struct {
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("negotiation: media: %v", e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// NegotiationError reports a local operation that is illegal in the current
// signaling state.
type NegotiationError struct {
	Op    string
	State SignalingState
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation: %s not allowed in %s", e.Op, e.State)
}

// StateError reports an inbound message that arrived in a state where it is
// invalid.
type StateError struct {
	Op       string
	Current  SignalingState
	Expected []SignalingState
}

func (e *StateError) Error() string {
	want := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		want[i] = s.String()
	}
	return fmt.Sprintf("negotiation: %s in %s, expected %s", e.Op, e.Current, strings.Join(want, " or "))
}

// Is matches ErrClosed for messages rejected because the Session was closed.
func (e *StateError) Is(target error) bool {
	return target == ErrClosed && e.Current == SignalingClosed
}

// TransportError wraps a rejection from the underlying transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("negotiation: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
