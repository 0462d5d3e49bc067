// Package call drives one peer-to-peer media session at a time through
// negotiation to teardown. It translates UI intents and inbound socket
// events into negotiation actions and guarantees resource cleanup on every
// exit path. Coupling to the rest of beacon is via the Emitter interface
// and the Negotiator/Provider seams only.
package call

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// State is the call session lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateOutgoing  State = "outgoing"
	StateIncoming  State = "incoming"
	StateConnected State = "connected"
)

var (
	// ErrMediaAcquisition means the platform denied or could not provide
	// local capture. Always user-facing; always follows full cleanup.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrSignaling means a malformed or unexpected negotiation step.
	ErrSignaling = errors.New("signaling failed")

	// ErrCallActive is returned when a call is placed while one is already
	// active. The core does not multiplex sessions.
	ErrCallActive = errors.New("a call is already active")

	// ErrNoCall is returned for accept/reject without an incoming call.
	ErrNoCall = errors.New("no call in progress")
)

// Emitter is the only surface the call package needs from the socket layer.
type Emitter interface {
	Emit(event string, payload any) error
}

// Track is one local capture track. Enable toggles are local-only: no
// renegotiation, no socket event.
type Track interface {
	Kind() string // "audio" or "video"
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// Stream is an acquired local media stream.
type Stream interface {
	Tracks() []Track
}

// RemoteTrack is a media track received from the peer. It is exposed to the
// UI read-only; stopping it is part of session cleanup.
type RemoteTrack interface {
	Kind() string
	Stop()
}

// Provider acquires local media. Acquisition may block indefinitely pending
// user permission; the engine races it against its context and releases a
// late grant.
type Provider interface {
	GetUserMedia(audio, video bool) (Stream, error)
}

// Negotiator is the negotiation object for one call: it holds local/remote
// descriptions and ICE state. Exclusively created and destroyed by the
// engine; never shared outside it.
type Negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(Track) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	Close() error
}

// NegotiatorFactory creates a fresh Negotiator per call.
type NegotiatorFactory func() (Negotiator, error)
