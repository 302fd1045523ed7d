// Package signal defines the messages two peers exchange over the signaling
// channel while negotiating a call.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type tags a signaling message.
type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
)

// ErrChannelUnavailable is returned by senders when the signaling channel is
// not open.
var ErrChannelUnavailable = errors.New("signal: channel unavailable")

// ProtocolError reports a malformed or unknown inbound message.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "signal: protocol error: " + e.Reason
}

// Message is the structure used for all signaling communication. Exactly one
// of Offer, Answer or Candidate is set, matching Type.
type Message struct {
	Type      Type                       `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func NewOffer(d webrtc.SessionDescription) Message {
	return Message{Type: TypeOffer, Offer: &d}
}

func NewAnswer(d webrtc.SessionDescription) Message {
	return Message{Type: TypeAnswer, Answer: &d}
}

func NewCandidate(c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeCandidate, Candidate: &c}
}

// Validate checks that the payload matches the message type.
func (m Message) Validate() error {
	switch m.Type {
	case TypeOffer:
		return validDescription(m.Offer, webrtc.SDPTypeOffer)
	case TypeAnswer:
		return validDescription(m.Answer, webrtc.SDPTypeAnswer)
	case TypeCandidate:
		if m.Candidate == nil {
			return &ProtocolError{Reason: "candidate message without candidate"}
		}
		if m.Candidate.Candidate == "" {
			return &ProtocolError{Reason: "empty candidate"}
		}
		return nil
	case "":
		return &ProtocolError{Reason: "missing message type"}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", m.Type)}
	}
}

func validDescription(d *webrtc.SessionDescription, want webrtc.SDPType) error {
	if d == nil {
		return &ProtocolError{Reason: want.String() + " message without description"}
	}
	if d.Type != want {
		return &ProtocolError{Reason: fmt.Sprintf("%s message carries %s description", want, d.Type)}
	}
	if d.SDP == "" {
		return &ProtocolError{Reason: "empty sdp"}
	}
	return nil
}

// Decode parses one message. A description without its own type takes the
// message type. Every failure is a *ProtocolError.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &ProtocolError{Reason: "invalid json: " + err.Error()}
	}
	if m.Offer != nil && m.Offer.Type == webrtc.SDPTypeUnknown {
		m.Offer.Type = webrtc.SDPTypeOffer
	}
	if m.Answer != nil && m.Answer.Type == webrtc.SDPTypeUnknown {
		m.Answer.Type = webrtc.SDPTypeAnswer
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode validates m and returns its JSON form.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
