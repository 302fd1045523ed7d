package rtc

import (
	"github.com/pion/webrtc/v4"

	"rtcall/negotiation"
)

// PeerConnection adapts a *webrtc.PeerConnection to negotiation.Transport.
type PeerConnection struct {
	pc *webrtc.PeerConnection
}

var _ negotiation.Transport = (*PeerConnection)(nil)

func newPeerConnection(pc *webrtc.PeerConnection, events negotiation.TransportEvents) *PeerConnection {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || events.OnLocalCandidate == nil {
			return
		}
		events.OnLocalCandidate(c.ToJSON())
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(t)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if events.OnConnectionStateChange != nil {
			events.OnConnectionStateChange(s)
		}
	})
	return &PeerConnection{pc: pc}
}

func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *PeerConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(d)
}

func (p *PeerConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *PeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *PeerConnection) AddTrack(t webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(t)
	return err
}

func (p *PeerConnection) Close() error {
	return p.pc.Close()
}

// Raw exposes the underlying PeerConnection.
func (p *PeerConnection) Raw() *webrtc.PeerConnection {
	return p.pc
}
