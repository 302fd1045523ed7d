package negotiation

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Exchanger owns one Transport and tracks the signaling state of the
// description exchange running over it.
type Exchanger struct {
	factory    TransportFactory
	iceServers []webrtc.ICEServer
	events     TransportEvents

	mu        sync.Mutex
	transport Transport
	state     SignalingState
	remoteSet bool
	// remoteSet before the current remote offer, restored by Rollback
	remoteSetBeforeOffer bool
}

func NewExchanger(factory TransportFactory, iceServers []webrtc.ICEServer, events TransportEvents) *Exchanger {
	return &Exchanger{
		factory:    factory,
		iceServers: iceServers,
		events:     events,
	}
}

// EnsureTransport returns the transport, constructing it on first use. Any
// number of concurrent callers observe the same instance.
func (e *Exchanger) EnsureTransport() (Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == SignalingClosed {
		return nil, &NegotiationError{Op: "ensure transport", State: e.state}
	}
	if e.transport != nil {
		return e.transport, nil
	}
	t, err := e.factory.NewTransport(e.iceServers, e.events)
	if err != nil {
		return nil, &TransportError{Op: "create", Err: err}
	}
	e.transport = t
	return t, nil
}

func (e *Exchanger) SignalingState() SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Exchanger) RemoteDescriptionSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteSet
}

func (e *Exchanger) CreateLocalOffer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != SignalingStable || e.transport == nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "create offer", State: e.state}
	}
	offer, err := e.transport.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, &TransportError{Op: "create offer", Err: err}
	}
	return offer, nil
}

func (e *Exchanger) CreateLocalAnswer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != SignalingHaveRemoteOffer || e.transport == nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "create answer", State: e.state}
	}
	answer, err := e.transport.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, &TransportError{Op: "create answer", Err: err}
	}
	return answer, nil
}

func (e *Exchanger) ApplyLocalDescription(d webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var next SignalingState
	switch {
	case d.Type == webrtc.SDPTypeOffer && e.state == SignalingStable:
		next = SignalingHaveLocalOffer
	case d.Type == webrtc.SDPTypeAnswer && e.state == SignalingHaveRemoteOffer:
		next = SignalingStable
	default:
		return &NegotiationError{Op: "apply local " + d.Type.String(), State: e.state}
	}
	if e.transport == nil {
		return &NegotiationError{Op: "apply local " + d.Type.String(), State: e.state}
	}
	if err := e.transport.SetLocalDescription(d); err != nil {
		return &TransportError{Op: "set local description", Err: err}
	}
	e.state = next
	return nil
}

// ApplyRemoteDescription applies an offer (asRole callee) or an answer (asRole
// caller). An illegal transition is a *StateError and leaves the state as is.
func (e *Exchanger) ApplyRemoteDescription(d webrtc.SessionDescription, asRole Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := "apply remote " + d.Type.String()
	var next SignalingState
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if e.state != SignalingStable || asRole != RoleCallee {
			return &StateError{Op: op, Current: e.state, Expected: []SignalingState{SignalingStable}}
		}
		next = SignalingHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if e.state != SignalingHaveLocalOffer || asRole != RoleCaller {
			return &StateError{Op: op, Current: e.state, Expected: []SignalingState{SignalingHaveLocalOffer}}
		}
		next = SignalingStable
	default:
		return &StateError{Op: op, Current: e.state}
	}
	if e.transport == nil {
		return &NegotiationError{Op: op, State: e.state}
	}
	if err := e.transport.SetRemoteDescription(d); err != nil {
		return &TransportError{Op: "set remote description", Err: err}
	}
	if next == SignalingHaveRemoteOffer {
		e.remoteSetBeforeOffer = e.remoteSet
	}
	e.state = next
	e.remoteSet = true
	return nil
}

// AttachCandidate hands a remote candidate to the transport. Callers route
// candidates to a CandidateBuffer until RemoteDescriptionSet reports true.
func (e *Exchanger) AttachCandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.remoteSet || e.transport == nil {
		return &NegotiationError{Op: "attach candidate", State: e.state}
	}
	if err := e.transport.AddICECandidate(c); err != nil {
		return &TransportError{Op: "add candidate", Err: err}
	}
	return nil
}

func (e *Exchanger) AddTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil || e.state == SignalingClosed {
		return &NegotiationError{Op: "add track", State: e.state}
	}
	if err := e.transport.AddTrack(track); err != nil {
		return &TransportError{Op: "add track", Err: err}
	}
	return nil
}

// Rollback abandons a pending local or remote offer and returns to stable.
func (e *Exchanger) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	switch e.state {
	case SignalingHaveLocalOffer:
		if err := e.transport.SetLocalDescription(rollback); err != nil {
			return &TransportError{Op: "rollback local offer", Err: err}
		}
	case SignalingHaveRemoteOffer:
		if err := e.transport.SetRemoteDescription(rollback); err != nil {
			return &TransportError{Op: "rollback remote offer", Err: err}
		}
		e.remoteSet = e.remoteSetBeforeOffer
	case SignalingStable:
		return nil
	default:
		return &NegotiationError{Op: "rollback", State: e.state}
	}
	e.state = SignalingStable
	return nil
}

// Close releases the transport. It is safe to call more than once.
func (e *Exchanger) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == SignalingClosed {
		return nil
	}
	e.state = SignalingClosed
	if e.transport == nil {
		return nil
	}
	t := e.transport
	e.transport = nil
	if err := t.Close(); err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}
