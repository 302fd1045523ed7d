package negotiation

import "github.com/pion/webrtc/v4"

// Transport is the real-time transport engine a Session negotiates for. The
// rtc package provides one backed by a pion PeerConnection.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	Close() error
}

// RemoteTrack is the part of a received media track the core passes along.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// TransportEvents are the asynchronous outputs of a Transport. Callbacks may
// fire on any goroutine.
type TransportEvents struct {
	OnLocalCandidate        func(webrtc.ICECandidateInit)
	OnRemoteTrack           func(RemoteTrack)
	OnConnectionStateChange func(webrtc.PeerConnectionState)
}

// TransportFactory constructs transports configured with the given ICE servers
// and wired to events.
type TransportFactory interface {
	NewTransport(iceServers []webrtc.ICEServer, events TransportEvents) (Transport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(iceServers []webrtc.ICEServer, events TransportEvents) (Transport, error)

func (f TransportFactoryFunc) NewTransport(iceServers []webrtc.ICEServer, events TransportEvents) (Transport, error) {
	return f(iceServers, events)
}
