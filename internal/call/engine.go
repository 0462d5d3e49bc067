package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/beacon/internal/wire"
)

// session is the state of the one active call. Snapshot values are exposed
// through Engine accessors; the negotiation object and media handles are
// owned by the engine for the session's whole lifetime.
type session struct {
	peer    string // remote peer id
	kind    wire.CallKind
	state   State
	caller  bool
	neg     Negotiator
	local   Stream
	remote  []RemoteTrack
	muted   bool
	vidOff  bool
	ringT   *time.Timer
	cleaned bool
}

// Engine negotiates and tears down at most one call session per client.
type Engine struct {
	emit        Emitter
	media       Provider
	newNeg      NegotiatorFactory
	selfID      func() string
	ringTimeout time.Duration

	mu   sync.Mutex
	sess *session

	onIncoming    func(caller string, kind wire.CallKind)
	onState       func(State)
	onRemoteTrack func(RemoteTrack)
	onNotice      func(kind, message string)
}

// NewEngine creates a call engine. selfID supplies the session identity at
// call time (it is not known until the profile lookup completes).
// ringTimeout of 0 disables the stuck-call timeout.
func NewEngine(emit Emitter, media Provider, factory NegotiatorFactory, selfID func() string, ringTimeout time.Duration) *Engine {
	return &Engine{
		emit:        emit,
		media:       media,
		newNeg:      factory,
		selfID:      selfID,
		ringTimeout: ringTimeout,
	}
}

// OnIncoming registers the callback that surfaces the incoming-call prompt.
// Accept/reject are user-driven from there.
func (e *Engine) OnIncoming(fn func(caller string, kind wire.CallKind)) { e.onIncoming = fn }

// OnState registers a state-transition callback.
func (e *Engine) OnState(fn func(State)) { e.onState = fn }

// OnRemoteTrack registers the callback that hands remote media to the UI.
func (e *Engine) OnRemoteTrack(fn func(RemoteTrack)) { e.onRemoteTrack = fn }

// OnNotice registers the callback for user-facing call notices
// ("rejected", "ended", "error") with a human-readable message.
func (e *Engine) OnNotice(fn func(kind, message string)) { e.onNotice = fn }

// State returns the current lifecycle state; idle when no call exists.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return StateIdle
	}
	return e.sess.state
}

// Peer returns the remote peer of the active call, or "".
func (e *Engine) Peer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.peer
}

// RemoteTracks returns the remote media handles received so far.
func (e *Engine) RemoteTracks() []RemoteTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	out := make([]RemoteTrack, len(e.sess.remote))
	copy(out, e.sess.remote)
	return out
}

// Place starts an outgoing call: acquire local media, create the
// negotiation object, attach tracks, send the offer. Any failure falls
// through to full cleanup — never a half-initialized session.
func (e *Engine) Place(ctx context.Context, callee string, kind wire.CallKind) error {
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return ErrCallActive
	}
	s := &session{peer: callee, kind: kind, state: StateOutgoing, caller: true}
	e.sess = s
	e.mu.Unlock()
	e.notifyState(StateOutgoing)
	log.Printf("CALL [%s]: placing %s call", callee, kind)

	stream, err := e.acquire(ctx, true, kind == wire.CallKindVideo)
	if err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	e.mu.Lock()
	s.local = stream
	e.mu.Unlock()

	neg, err := e.newNeg()
	if err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: create negotiator: %v", ErrSignaling, err)
	}
	e.mu.Lock()
	s.neg = neg
	e.mu.Unlock()

	self := e.selfID()
	e.wireNegotiator(neg, self, callee, true)

	for _, t := range stream.Tracks() {
		if err := neg.AddTrack(t); err != nil {
			e.cleanup(s)
			return fmt.Errorf("%w: add track: %v", ErrSignaling, err)
		}
	}

	offer, err := neg.CreateOffer()
	if err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: create offer: %v", ErrSignaling, err)
	}
	if err := neg.SetLocalDescription(offer); err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: set local description: %v", ErrSignaling, err)
	}
	if err := e.emit.Emit(wire.EvCallInitiate, wire.CallInitiate{
		CallerID: self,
		CalleeID: callee,
		Offer:    offer,
		CallKind: kind,
	}); err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: send offer: %v", ErrSignaling, err)
	}

	e.armRingTimer(s)
	return nil
}

// HandleIncoming processes a call-initiation event addressed to this client:
// fresh negotiation object, handlers registered, offer applied as the remote
// description. The UI surfaces the prompt via OnIncoming.
func (e *Engine) HandleIncoming(ev wire.IncomingCall) {
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		// Already in a call — tell the caller we're busy.
		_ = e.emit.Emit(wire.EvCallReject, wire.CallReject{
			CalleeID: e.selfID(),
			CallerID: ev.Caller,
			Reason:   "User is busy",
		})
		log.Printf("CALL [%s]: incoming call rejected, session active", ev.Caller)
		return
	}
	s := &session{peer: ev.Caller, kind: ev.CallType, state: StateIncoming}
	e.sess = s
	e.mu.Unlock()
	e.notifyState(StateIncoming)
	log.Printf("CALL [%s]: incoming %s call", ev.Caller, ev.CallType)

	neg, err := e.newNeg()
	if err != nil {
		log.Printf("CALL [%s]: create negotiator: %v", ev.Caller, err)
		e.cleanup(s)
		e.notice("error", "Could not set up the call.")
		return
	}
	e.mu.Lock()
	s.neg = neg
	e.mu.Unlock()

	e.wireNegotiator(neg, e.selfID(), ev.Caller, false)

	if err := neg.SetRemoteDescription(ev.Offer); err != nil {
		log.Printf("CALL [%s]: apply offer: %v", ev.Caller, err)
		e.cleanup(s)
		e.notice("error", "Could not set up the call.")
		return
	}

	e.armRingTimer(s)
	if e.onIncoming != nil {
		e.onIncoming(ev.Caller, ev.CallType)
	}
}

// Accept answers the incoming call: acquire media per the call's kind,
// attach tracks to the existing negotiation object, send the answer. The
// callee is connected as soon as the answer is sent.
func (e *Engine) Accept(ctx context.Context) error {
	e.mu.Lock()
	s := e.sess
	if s == nil || s.state != StateIncoming {
		e.mu.Unlock()
		return ErrNoCall
	}
	neg := s.neg
	kind := s.kind
	caller := s.peer
	e.mu.Unlock()

	stream, err := e.acquire(ctx, true, kind == wire.CallKindVideo)
	if err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	e.mu.Lock()
	s.local = stream
	e.mu.Unlock()

	for _, t := range stream.Tracks() {
		if err := neg.AddTrack(t); err != nil {
			e.cleanup(s)
			return fmt.Errorf("%w: add track: %v", ErrSignaling, err)
		}
	}

	answer, err := neg.CreateAnswer()
	if err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: create answer: %v", ErrSignaling, err)
	}
	if err := neg.SetLocalDescription(answer); err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: set local description: %v", ErrSignaling, err)
	}
	if err := e.emit.Emit(wire.EvCallAnswer, wire.CallAnswer{
		CalleeID: e.selfID(),
		CallerID: caller,
		Answer:   answer,
	}); err != nil {
		e.cleanup(s)
		return fmt.Errorf("%w: send answer: %v", ErrSignaling, err)
	}

	e.transition(s, StateConnected)
	log.Printf("CALL [%s]: accepted", caller)
	return nil
}

// Reject declines the incoming call with a human-readable reason. No media
// was acquired on this path, but the negotiation object created for the
// incoming offer is closed by cleanup.
func (e *Engine) Reject(reason string) error {
	e.mu.Lock()
	s := e.sess
	if s == nil || s.state != StateIncoming {
		e.mu.Unlock()
		return ErrNoCall
	}
	caller := s.peer
	e.mu.Unlock()

	_ = e.emit.Emit(wire.EvCallReject, wire.CallReject{
		CalleeID: e.selfID(),
		CallerID: caller,
		Reason:   reason,
	})
	log.Printf("CALL [%s]: rejected (%s)", caller, reason)
	e.cleanup(s)
	return nil
}

// End hangs up from any state. One peer announcing end is enough for both
// sides to converge: the peer is notified so it cleans up too. Safe to call
// with no active call.
func (e *Engine) End() {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return
	}
	_ = e.emit.Emit(wire.EvCallEnd, wire.CallEnd{FromID: e.selfID(), ToID: s.peer})
	log.Printf("CALL [%s]: hangup sent", s.peer)
	e.cleanup(s)
}

// HandleAnswered applies the callee's answer; the caller connects here
// unless remote track arrival already promoted it.
func (e *Engine) HandleAnswered(ev wire.CallAnswered) {
	e.mu.Lock()
	s := e.sess
	if s == nil || !s.caller {
		e.mu.Unlock()
		log.Printf("CALL: stray answer from %s dropped", ev.Callee)
		return
	}
	neg := s.neg
	e.mu.Unlock()

	if err := neg.SetRemoteDescription(ev.Answer); err != nil {
		log.Printf("CALL [%s]: apply answer: %v", s.peer, err)
		e.cleanup(s)
		e.notice("error", "Call negotiation failed.")
		return
	}
	e.transition(s, StateConnected)
	log.Printf("CALL [%s]: connected", s.peer)
}

// HandleRemoteCandidate applies a relayed ICE candidate. A candidate racing
// a call that is not set up (or already torn down) is silently dropped —
// accepted lossy behavior, not an error.
func (e *Engine) HandleRemoteCandidate(ev wire.RemoteCandidate) {
	e.mu.Lock()
	s := e.sess
	var neg Negotiator
	if s != nil {
		neg = s.neg
	}
	e.mu.Unlock()
	if neg == nil {
		return
	}
	if err := neg.AddICECandidate(ev.Candidate); err != nil {
		log.Printf("CALL [%s]: add candidate: %v", s.peer, err)
	}
}

// HandleRejected processes the callee's rejection.
func (e *Engine) HandleRejected(ev wire.CallRejected) {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return
	}
	log.Printf("CALL [%s]: rejected by peer: %s", s.peer, ev.Reason)
	e.cleanup(s)
	e.notice("rejected", ev.Reason)
}

// HandleEnded processes the peer's hangup.
func (e *Engine) HandleEnded() {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return
	}
	log.Printf("CALL [%s]: ended by peer", s.peer)
	e.cleanup(s)
	e.notice("ended", "The call has been ended.")
}

// HandleError processes a backend call error. Always aborts the call.
func (e *Engine) HandleError(ev wire.CallError) {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return
	}
	log.Printf("CALL [%s]: backend error: %s", s.peer, ev.Message)
	e.cleanup(s)
	e.notice("error", ev.Message)
}

// ToggleMute flips the local audio tracks. Returns the new muted state.
func (e *Engine) ToggleMute() bool {
	return e.toggleTracks("audio")
}

// ToggleVideo flips the local video tracks. Returns the new video-off state.
func (e *Engine) ToggleVideo() bool {
	return e.toggleTracks("video")
}

func (e *Engine) toggleTracks(kind string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || s.local == nil {
		return false
	}
	var off bool
	for _, t := range s.local.Tracks() {
		if t.Kind() != kind {
			continue
		}
		t.SetEnabled(!t.Enabled())
		off = !t.Enabled()
	}
	if kind == "audio" {
		s.muted = off
	} else {
		s.vidOff = off
	}
	log.Printf("CALL [%s]: %s disabled=%v", s.peer, kind, off)
	return off
}

// Muted reports whether local audio is muted.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.muted
}

// VideoOff reports whether local video is disabled.
func (e *Engine) VideoOff() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.vidOff
}

// Close tears down any active session without notifying the peer. Used on
// session shutdown where the socket may already be gone.
func (e *Engine) Close() {
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s != nil {
		e.cleanup(s)
	}
}

// wireNegotiator registers the per-call handlers: locally gathered ICE
// candidates relayed to the peer, remote tracks captured for the UI. Both
// fire asynchronously and may interleave with later state transitions.
func (e *Engine) wireNegotiator(neg Negotiator, self, peer string, caller bool) {
	neg.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if err := e.emit.Emit(wire.EvCallICECandidate, wire.CallICECandidate{
			SenderID:  self,
			TargetID:  peer,
			Candidate: c,
		}); err != nil {
			log.Printf("CALL [%s]: relay candidate: %v", peer, err)
		}
	})
	neg.OnTrack(func(t RemoteTrack) {
		e.mu.Lock()
		s := e.sess
		if s == nil || s.neg != neg {
			e.mu.Unlock()
			t.Stop()
			return
		}
		s.remote = append(s.remote, t)
		// Track arrival implies a live session: promote the caller to
		// connected even ahead of the explicit answered event.
		promote := caller && s.state == StateOutgoing
		e.mu.Unlock()

		log.Printf("CALL [%s]: remote %s track", peer, t.Kind())
		if promote {
			e.transition(s, StateConnected)
		}
		if e.onRemoteTrack != nil {
			e.onRemoteTrack(t)
		}
	})
}

// acquire races media acquisition against ctx. A grant arriving after
// cancellation is released immediately so closing the call UI mid-prompt
// never leaks capture.
func (e *Engine) acquire(ctx context.Context, audio, video bool) (Stream, error) {
	type result struct {
		s   Stream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := e.media.GetUserMedia(audio, video)
		ch <- result{s, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.s != nil {
				for _, t := range r.s.Tracks() {
					t.Stop()
				}
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.s, r.err
	}
}

func (e *Engine) armRingTimer(s *session) {
	if e.ringTimeout <= 0 {
		return
	}
	e.mu.Lock()
	s.ringT = time.AfterFunc(e.ringTimeout, func() {
		e.mu.Lock()
		stuck := e.sess == s && (s.state == StateOutgoing || s.state == StateIncoming)
		e.mu.Unlock()
		if !stuck {
			return
		}
		log.Printf("CALL [%s]: no answer after %s, giving up", s.peer, e.ringTimeout)
		e.End()
		e.notice("ended", "No answer.")
	})
	e.mu.Unlock()
}

func (e *Engine) transition(s *session, st State) {
	e.mu.Lock()
	if e.sess != s || s.state == st {
		e.mu.Unlock()
		return
	}
	s.state = st
	e.mu.Unlock()
	e.notifyState(st)
}

// cleanup releases everything a session acquired: local capture stopped,
// remote tracks stopped, negotiation object closed and discarded, media
// handles cleared, mute/video flags reset, state back to idle. Idempotent —
// every exit path funnels through here and racing paths may both arrive.
func (e *Engine) cleanup(s *session) {
	e.mu.Lock()
	if s.cleaned {
		e.mu.Unlock()
		return
	}
	s.cleaned = true
	local := s.local
	remote := s.remote
	neg := s.neg
	if s.ringT != nil {
		s.ringT.Stop()
	}
	s.local = nil
	s.remote = nil
	s.neg = nil
	s.muted = false
	s.vidOff = false
	s.state = StateIdle
	if e.sess == s {
		e.sess = nil
	}
	e.mu.Unlock()

	if local != nil {
		for _, t := range local.Tracks() {
			t.Stop()
		}
	}
	for _, t := range remote {
		t.Stop()
	}
	if neg != nil {
		if err := neg.Close(); err != nil {
			log.Printf("CALL [%s]: close negotiator: %v", s.peer, err)
		}
	}
	log.Printf("CALL [%s]: cleaned up", s.peer)
	e.notifyState(StateIdle)
}

func (e *Engine) notifyState(st State) {
	if e.onState != nil {
		e.onState(st)
	}
}

func (e *Engine) notice(kind, message string) {
	if e.onNotice != nil {
		e.onNotice(kind, message)
	}
}
