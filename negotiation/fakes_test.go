package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"rtcall/signal"
)

// recorder is the shared call log of a fake transport and sender, so tests
// can assert ordering across both.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func (r *recorder) index(entry string) int {
	for i, e := range r.all() {
		if e == entry {
			return i
		}
	}
	return -1
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.all() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	rec    *recorder
	events TransportEvents

	mu               sync.Mutex
	remoteSet        bool
	failSetRemote    error
	failAddCandidate map[string]error
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.rec.add("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local-offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.rec.add("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local-answer"}, nil
}

func (f *fakeTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	f.rec.add("set-local:%s", d.Type)
	return nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetRemote != nil {
		return f.failSetRemote
	}
	f.rec.add("set-remote:%s", d.Type)
	f.remoteSet = d.Type != webrtc.SDPTypeRollback
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remoteSet {
		f.rec.add("premature:%s", c.Candidate)
		return errors.New("remote description not set")
	}
	if err := f.failAddCandidate[c.Candidate]; err != nil {
		return err
	}
	f.rec.add("add-candidate:%s", c.Candidate)
	return nil
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) error {
	f.rec.add("add-track:%s", t.ID())
	return nil
}

func (f *fakeTransport) Close() error {
	f.rec.add("close")
	return nil
}

type fakeFactory struct {
	rec   *recorder
	err   error
	built atomic.Int32

	mu        sync.Mutex
	transport *fakeTransport
	configure func(*fakeTransport)
}

func (f *fakeFactory) NewTransport(_ []webrtc.ICEServer, events TransportEvents) (Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.built.Add(1)
	t := &fakeTransport{rec: f.rec, events: events}
	if f.configure != nil {
		f.configure(t)
	}
	f.mu.Lock()
	f.transport = t
	f.mu.Unlock()
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transport
}

type fakeSender struct {
	rec *recorder

	mu   sync.Mutex
	err  error
	msgs []signal.Message
}

func (f *fakeSender) Send(m signal.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	switch m.Type {
	case signal.TypeCandidate:
		f.rec.add("send:candidate:%s", m.Candidate.Candidate)
	default:
		f.rec.add("send:%s", m.Type)
	}
	return nil
}

func (f *fakeSender) sent() []signal.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signal.Message(nil), f.msgs...)
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeMedia returns one audio track. When gate is set, acquisition blocks
// until gate is closed or ctx ends.
type fakeMedia struct {
	gate     chan struct{}
	acquired atomic.Int32

	mu     sync.Mutex
	err    error
	remote []RemoteTrack
}

func (f *fakeMedia) AcquireLocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	f.acquired.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func (f *fakeMedia) OnRemoteTrack(t RemoteTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, t)
}

func (f *fakeMedia) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMedia) remoteTracks() []RemoteTrack {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RemoteTrack(nil), f.remote...)
}

type fakeRemoteTrack struct{ id string }

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return "remote" }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// has reports whether any recorded error matches target via errors.As.
func hasError[T error](l *errorLog) bool {
	for _, err := range l.all() {
		var target T
		if errors.As(err, &target) {
			return true
		}
	}
	return false
}

type harness struct {
	session *Session
	rec     *recorder
	factory *fakeFactory
	sender  *fakeSender
	media   *fakeMedia
	errs    *errorLog
}

func newHarness(t *testing.T, opts ...func(*Config, *harness)) *harness {
	t.Helper()
	rec := &recorder{}
	h := &harness{
		rec:     rec,
		factory: &fakeFactory{rec: rec},
		sender:  &fakeSender{rec: rec},
		media:   &fakeMedia{},
		errs:    &errorLog{},
	}
	cfg := Config{
		Transport: h.factory,
		Media:     h.media,
		Sender:    h.sender,
		OnError:   h.errs.add,
	}
	for _, o := range opts {
		o(&cfg, h)
	}
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	h.session = s
	return h
}

func gated(cfg *Config, h *harness) {
	h.media.gate = make(chan struct{})
}

func polite(cfg *Config, _ *harness) {
	cfg.Polite = true
}

func remoteOffer() signal.Message {
	return signal.NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote-offer"})
}

func remoteAnswer() signal.Message {
	return signal.NewAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote-answer"})
}

func candidate(name string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: name}
}
