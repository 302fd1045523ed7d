package negotiation

import "fmt"

// Role is the side a Session plays in the offer/answer exchange.
type Role int

const (
	RoleUndetermined Role = iota
	// sent the offer
	RoleCaller
	// answered a remote offer
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleUndetermined:
		return "undetermined"
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return fmt.Sprintf("%d", int(r))
	}
}

// SignalingState mirrors the description-exchange state of the transport.
type SignalingState int

const (
	SignalingStable SignalingState = iota
	SignalingHaveLocalOffer
	SignalingHaveRemoteOffer
	SignalingClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStable:
		return "stable"
	case SignalingHaveLocalOffer:
		return "have-local-offer"
	case SignalingHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingClosed:
		return "closed"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	// terminal until Close
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}
