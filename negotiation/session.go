// Package negotiation drives the offer/answer/candidate exchange of one call.
//
// A Session is a single actor: intents, inbound signaling messages and
// transport events are queued in arrival order and handled one at a time on
// the Session's own goroutine. Remote candidates that arrive before a remote
// description are held in a CandidateBuffer and attached, all of them and in
// arrival order, as soon as a remote description has been applied.
//
// Acquiring local media may block on a permission prompt, so it runs off the
// Session goroutine. While it is pending, inbound candidates are still buffered
// and everything else waits until the acquisition resolves.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"rtcall/signal"
)

// DefaultICEServers is used when Config.ICEServers is empty.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Sender delivers outbound messages to the signaling channel. It returns
// signal.ErrChannelUnavailable when the channel is not open.
type Sender interface {
	Send(signal.Message) error
}

// Media supplies local tracks and consumes remote ones.
type Media interface {
	// AcquireLocalTracks may block until the user grants access. It must
	// return once ctx is done.
	AcquireLocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error)
	OnRemoteTrack(RemoteTrack)
}

type Config struct {
	Transport  TransportFactory
	Media      Media
	Sender     Sender
	ICEServers []webrtc.ICEServer

	// Polite sessions give way when both sides offer at once: the local offer
	// is rolled back and the remote one answered. Impolite sessions ignore the
	// remote offer.
	Polite bool

	Logger *slog.Logger

	// Both callbacks run on the Session goroutine and must not block. They
	// may call Close, which then returns without waiting for teardown.
	OnStateChange func(State, Role)
	OnError       func(error)
}

func (c Config) Validate() error {
	if c.Transport == nil {
		return fmt.Errorf("transport factory is required")
	}
	if c.Media == nil {
		return fmt.Errorf("media is required")
	}
	if c.Sender == nil {
		return fmt.Errorf("sender is required")
	}
	return nil
}

// inbox events
type (
	startCall       struct{ reply chan error }
	inbound         struct{ msg signal.Message }
	localCandidate  struct{ candidate webrtc.ICECandidateInit }
	remoteTrack     struct{ track RemoteTrack }
	connectionState struct{ state webrtc.PeerConnectionState }
	mediaResult     struct {
		seq    uint64
		tracks []webrtc.TrackLocal
		err    error
	}
)

type suspension struct {
	seq    uint64
	cancel context.CancelFunc
	resume func([]webrtc.TrackLocal, error)
}

type Session struct {
	id    uuid.UUID
	cfg   Config
	log   *slog.Logger
	exch  *Exchanger
	queue *queue

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	// set while a Config or Media callback runs on the Session goroutine
	inCallback atomic.Bool

	// owned by the run goroutine
	buffer         CandidateBuffer
	suspended      *suspension
	seq            uint64
	deferred       []any
	tracksAttached bool
	pendingStart   chan error

	mu      sync.Mutex
	state   State
	role    Role
	pending atomic.Int32
}

// NewSession returns an idle Session and starts its goroutine.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:    id,
		cfg:   cfg,
		log:   cfg.Logger.With("session", id.String()),
		queue: newQueue(),
		done:  make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.exch = NewExchanger(cfg.Transport, cfg.ICEServers, TransportEvents{
		OnLocalCandidate: func(c webrtc.ICECandidateInit) {
			s.queue.push(localCandidate{candidate: c})
		},
		OnRemoteTrack: func(t RemoteTrack) {
			s.queue.push(remoteTrack{track: t})
		},
		OnConnectionStateChange: func(st webrtc.PeerConnectionState) {
			s.queue.push(connectionState{state: st})
		},
	})

	go s.run()
	return s, nil
}

func (s *Session) ID() string { return s.id.String() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) SignalingState() SignalingState {
	return s.exch.SignalingState()
}

// PendingCandidates is the number of remote candidates waiting for a remote
// description.
func (s *Session) PendingCandidates() int {
	return int(s.pending.Load())
}

// Done is closed once the Session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// StartCall makes this side the caller. It returns once the offer has been
// sent or the attempt failed. If ctx ends first the attempt keeps running and
// ctx.Err() is returned.
func (s *Session) StartCall(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.queue.push(startCall{reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver queues an inbound signaling message. Once the Session is closed it
// fails with an error matching ErrClosed; for descriptions that is a
// *StateError in SignalingClosed.
func (s *Session) Deliver(msg signal.Message) error {
	if err := msg.Validate(); err != nil {
		s.log.Warn("dropping malformed message", "err", err)
		return err
	}
	if !s.queue.push(inbound{msg: msg}) {
		switch msg.Type {
		case signal.TypeOffer:
			return &StateError{Op: "apply remote offer", Current: SignalingClosed, Expected: []SignalingState{SignalingStable}}
		case signal.TypeAnswer:
			return &StateError{Op: "apply remote answer", Current: SignalingClosed, Expected: []SignalingState{SignalingHaveLocalOffer}}
		}
		return ErrClosed
	}
	return nil
}

// Close tears the Session down. Queued messages are discarded and a pending
// media acquisition is cancelled; its result is ignored. Close waits for the
// teardown unless it is called from a callback, where waiting would deadlock.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.queue.close()
	})
	if s.inCallback.Load() {
		return nil
	}
	<-s.done
	return nil
}

func (s *Session) run() {
	for {
		ev, ok := s.queue.next()
		if !ok {
			s.teardown()
			return
		}
		s.handle(ev)
	}
}

func (s *Session) teardown() {
	s.cancel()
	if s.suspended != nil {
		s.suspended.cancel()
		s.suspended = nil
	}
	s.deferred = nil
	s.buffer.Clear()
	s.pending.Store(0)
	if err := s.exch.Close(); err != nil {
		s.log.Warn("close transport error", "err", err)
	}
	if s.pendingStart != nil {
		s.pendingStart <- ErrClosed
		s.pendingStart = nil
	}
	s.transition(StateClosed, s.Role())
	close(s.done)
}

func (s *Session) handle(ev any) {
	if res, ok := ev.(mediaResult); ok {
		s.resume(res)
		return
	}
	if s.suspended != nil {
		if in, ok := ev.(inbound); ok && in.msg.Type == signal.TypeCandidate {
			s.bufferCandidate(*in.msg.Candidate)
			return
		}
		s.deferred = append(s.deferred, ev)
		return
	}
	s.dispatch(ev)
}

func (s *Session) dispatch(ev any) {
	switch ev := ev.(type) {
	case startCall:
		s.handleStartCall(ev.reply)
	case inbound:
		switch ev.msg.Type {
		case signal.TypeOffer:
			s.handleOffer(*ev.msg.Offer)
		case signal.TypeAnswer:
			s.handleAnswer(*ev.msg.Answer)
		case signal.TypeCandidate:
			s.handleCandidate(*ev.msg.Candidate)
		}
	case localCandidate:
		s.send(signal.NewCandidate(ev.candidate))
	case remoteTrack:
		s.log.Info("remote track received", "id", ev.track.ID(), "stream", ev.track.StreamID(), "kind", ev.track.Kind())
		s.callback(func() { s.cfg.Media.OnRemoteTrack(ev.track) })
	case connectionState:
		s.handleConnectionState(ev.state)
	}
}

func (s *Session) resume(res mediaResult) {
	sp := s.suspended
	if sp == nil || sp.seq != res.seq {
		s.log.Debug("discarding stale media result", "seq", res.seq)
		return
	}
	s.suspended = nil
	sp.cancel()
	sp.resume(res.tracks, res.err)

	for len(s.deferred) > 0 && s.suspended == nil {
		ev := s.deferred[0]
		s.deferred[0] = nil
		s.deferred = s.deferred[1:]
		s.dispatch(ev)
	}
}

// acquireMedia suspends the Session until the Media capability answers, then
// calls next with the result on the Session goroutine.
func (s *Session) acquireMedia(next func([]webrtc.TrackLocal, error)) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.seq++
	seq := s.seq
	s.suspended = &suspension{seq: seq, cancel: cancel, resume: next}

	s.log.Debug("acquiring local media")
	go func() {
		tracks, err := s.cfg.Media.AcquireLocalTracks(ctx)
		s.queue.push(mediaResult{seq: seq, tracks: tracks, err: err})
	}()
}

// withLocalTracks attaches local media once per Session, then calls next.
func (s *Session) withLocalTracks(next func(error)) {
	if s.tracksAttached {
		next(nil)
		return
	}
	s.acquireMedia(func(tracks []webrtc.TrackLocal, err error) {
		if err != nil {
			next(&MediaError{Err: err})
			return
		}
		for _, t := range tracks {
			if err := s.exch.AddTrack(t); err != nil {
				next(err)
				return
			}
		}
		s.tracksAttached = true
		next(nil)
	})
}

func (s *Session) handleStartCall(reply chan error) {
	if st := s.State(); st != StateIdle {
		err := &NegotiationError{Op: "start call", State: s.exch.SignalingState()}
		s.log.Warn("start call rejected", "state", st, "err", err)
		reply <- err
		return
	}
	if _, err := s.exch.EnsureTransport(); err != nil {
		s.log.Error("create transport error", "err", err)
		s.report(err)
		reply <- err
		return
	}

	s.log.Debug("starting call")
	s.setRole(RoleCaller)
	s.pendingStart = reply
	s.withLocalTracks(func(err error) {
		reply := s.pendingStart
		s.pendingStart = nil

		var offer webrtc.SessionDescription
		if err == nil {
			offer, err = s.exch.CreateLocalOffer()
		}
		if err == nil {
			err = s.exch.ApplyLocalDescription(offer)
		}
		if err != nil {
			s.log.Error("start call error", "err", err)
			s.transition(StateIdle, RoleUndetermined)
			s.report(err)
			reply <- err
			return
		}

		s.transition(StateNegotiating, RoleCaller)
		s.log.Info("sending offer")
		s.send(signal.NewOffer(offer))
		reply <- nil
	})
}

func (s *Session) handleOffer(offer webrtc.SessionDescription) {
	if s.State() == StateFailed {
		s.log.Warn("discarding offer", "state", StateFailed)
		return
	}
	if st := s.exch.SignalingState(); st == SignalingHaveLocalOffer {
		if !s.cfg.Polite {
			err := &StateError{Op: "apply remote offer", Current: st, Expected: []SignalingState{SignalingStable}}
			s.log.Warn("ignoring colliding offer", "err", err)
			s.report(err)
			return
		}
		if err := s.exch.Rollback(); err != nil {
			s.log.Error("rollback error", "err", err)
			s.fail(err)
			return
		}
		s.log.Info("rolled back local offer for colliding remote offer")
	}

	if _, err := s.exch.EnsureTransport(); err != nil {
		s.log.Error("create transport error", "err", err)
		s.report(err)
		return
	}

	s.log.Info("setting remote description", "type", offer.Type)
	if err := s.exch.ApplyRemoteDescription(offer, RoleCallee); err != nil {
		s.rejectRemote(err)
		return
	}
	prev := s.State()
	s.setRole(RoleCallee)

	s.withLocalTracks(func(err error) {
		var mediaErr *MediaError
		if errors.As(err, &mediaErr) {
			s.log.Error("media error, rejecting offer", "err", err)
			if rbErr := s.exch.Rollback(); rbErr != nil {
				s.log.Error("rollback error", "err", rbErr)
				s.fail(rbErr)
				return
			}
			s.transition(prev, RoleUndetermined)
			s.report(err)
			return
		}

		var answer webrtc.SessionDescription
		if err == nil {
			answer, err = s.exch.CreateLocalAnswer()
		}
		if err == nil {
			err = s.exch.ApplyLocalDescription(answer)
		}
		if err != nil {
			s.log.Error("answer error", "err", err)
			s.escalate(err)
			return
		}

		s.log.Info("sending answer")
		s.send(signal.NewAnswer(answer))
		s.drainCandidates()
		if s.State() != StateConnected {
			s.transition(StateNegotiating, RoleCallee)
		}
	})
}

func (s *Session) handleAnswer(answer webrtc.SessionDescription) {
	if s.State() == StateFailed {
		s.log.Warn("discarding answer", "state", StateFailed)
		return
	}
	if st := s.exch.SignalingState(); st != SignalingHaveLocalOffer {
		err := &StateError{Op: "apply remote answer", Current: st, Expected: []SignalingState{SignalingHaveLocalOffer}}
		s.log.Warn("discarding answer", "err", err)
		s.report(err)
		return
	}

	s.log.Info("setting remote description", "type", answer.Type)
	if err := s.exch.ApplyRemoteDescription(answer, RoleCaller); err != nil {
		s.rejectRemote(err)
		return
	}
	s.drainCandidates()
}

func (s *Session) handleCandidate(c webrtc.ICECandidateInit) {
	if !s.exch.RemoteDescriptionSet() {
		s.bufferCandidate(c)
		return
	}
	s.attach(c)
}

func (s *Session) handleConnectionState(st webrtc.PeerConnectionState) {
	s.log.Debug("connection state changed", "state", st)
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.State() == StateNegotiating {
			s.transition(StateConnected, s.Role())
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		if cur := s.State(); cur == StateNegotiating || cur == StateConnected {
			s.fail(&TransportError{Op: "connectivity", Err: fmt.Errorf("connection %s", st)})
		}
	}
}

func (s *Session) bufferCandidate(c webrtc.ICECandidateInit) {
	s.buffer.Enqueue(c)
	s.pending.Store(int32(s.buffer.Len()))
	s.log.Debug("buffering candidate", "pending", s.buffer.Len())
}

func (s *Session) drainCandidates() {
	drained := s.buffer.DrainAll()
	s.pending.Store(0)
	if len(drained) == 0 {
		return
	}
	s.log.Debug("attaching buffered candidates", "count", len(drained))
	for _, c := range drained {
		s.attach(c)
	}
}

// attach drops the candidate on error; others may still connect.
func (s *Session) attach(c webrtc.ICECandidateInit) {
	if err := s.exch.AttachCandidate(c); err != nil {
		s.log.Warn("dropping candidate", "candidate", c.Candidate, "err", err)
		s.report(err)
	}
}

// rejectRemote handles a remote description that could not be applied.
func (s *Session) rejectRemote(err error) {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		s.log.Warn("discarding remote description", "err", err)
		s.report(err)
		return
	}
	s.log.Error("set remote description error", "err", err)
	s.escalate(err)
}

// escalate fails the Session on transport errors and absorbs the rest.
func (s *Session) escalate(err error) {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		s.fail(err)
		return
	}
	s.report(err)
}

func (s *Session) fail(err error) {
	s.transition(StateFailed, s.Role())
	s.report(err)
}

func (s *Session) send(msg signal.Message) {
	if err := s.cfg.Sender.Send(msg); err != nil {
		s.log.Error("send error, dropping message", "type", msg.Type, "err", err)
		s.report(err)
	}
}

func (s *Session) report(err error) {
	if s.cfg.OnError != nil {
		s.callback(func() { s.cfg.OnError(err) })
	}
}

func (s *Session) setRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

func (s *Session) transition(st State, r Role) {
	s.mu.Lock()
	changed := s.state != st || s.role != r
	s.state = st
	s.role = r
	s.mu.Unlock()

	if !changed {
		return
	}
	s.log.Info("session state changed", "state", st, "role", r)
	if s.cfg.OnStateChange != nil {
		s.callback(func() { s.cfg.OnStateChange(st, r) })
	}
}

func (s *Session) callback(f func()) {
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	f()
}
