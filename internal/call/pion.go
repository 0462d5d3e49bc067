package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// pionNegotiator adapts a *webrtc.PeerConnection to the Negotiator seam.
type pionNegotiator struct {
	pc *webrtc.PeerConnection
}

func newPionNegotiator(pc *webrtc.PeerConnection) *pionNegotiator {
	return &pionNegotiator{pc: pc}
}

func (n *pionNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	return n.pc.CreateOffer(nil)
}

func (n *pionNegotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	return n.pc.CreateAnswer(nil)
}

func (n *pionNegotiator) SetLocalDescription(sd webrtc.SessionDescription) error {
	return n.pc.SetLocalDescription(sd)
}

func (n *pionNegotiator) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return n.pc.SetRemoteDescription(sd)
}

func (n *pionNegotiator) AddICECandidate(c webrtc.ICECandidateInit) error {
	return n.pc.AddICECandidate(c)
}

// AddTrack accepts tracks whose implementation can expose the underlying
// pion TrackLocal. The platform providers wrap device tracks that way.
func (n *pionNegotiator) AddTrack(t Track) error {
	u, ok := t.(interface{ Unwrap() webrtc.TrackLocal })
	if !ok {
		return fmt.Errorf("track %s has no transferable form", t.Kind())
	}
	_, err := n.pc.AddTrack(u.Unwrap())
	return err
}

func (n *pionNegotiator) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		fn(c.ToJSON())
	})
}

func (n *pionNegotiator) OnTrack(fn func(RemoteTrack)) {
	n.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&remoteTrack{tr: tr})
	})
}

func (n *pionNegotiator) Close() error {
	return n.pc.Close()
}

// remoteTrack wraps a received pion track. Consumption is up to the UI
// layer; Stop has nothing to release since pion owns the receiver.
type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (t *remoteTrack) Kind() string { return t.tr.Kind().String() }
func (t *remoteTrack) Stop()        {}

// Pion returns the underlying received track for consumers that read RTP.
func (t *remoteTrack) Pion() *webrtc.TrackRemote { return t.tr }
