// Package wire is the socket layer shared by chat and calls: the event
// surface of the messaging backend, the envelope codec, a websocket client
// that keeps one authenticated connection alive, and a typed event bus that
// replaces per-screen handler registration with cancellable subscriptions.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Outbound event names.
const (
	EvCallInitiate     = "call-initiate"
	EvCallAnswer       = "call-answer"
	EvCallICECandidate = "call-ice-candidate"
	EvCallReject       = "call-reject"
	EvCallEnd          = "call-end"
	EvSendDirect       = "send-direct-message"
	EvSendGroup        = "send-group-message"
	EvSendMedia        = "send-media"
)

// Inbound event names.
const (
	EvIncomingCall    = "call:incoming"
	EvCallAnswered    = "call:answered"
	EvRemoteCandidate = "call:iceCandidate"
	EvCallRejected    = "call:rejected"
	EvCallEnded       = "call:ended"
	EvCallError       = "call:error"
	EvMessage         = "message"
	EvGroupMessage    = "groupMessage"
	EvMediaMessage    = "mediaMessage"
	EvError           = "error"
)

// Envelope is the framing for every socket message in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CallKind distinguishes audio-only from video calls.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// CallInitiate starts the offer/answer exchange with a callee.
type CallInitiate struct {
	CallerID string                    `json:"callerId"`
	CalleeID string                    `json:"calleeId"`
	Offer    webrtc.SessionDescription `json:"offer"`
	CallKind CallKind                  `json:"callKind"`
}

// CallAnswer relays the callee's answer back to the caller.
type CallAnswer struct {
	CalleeID string                    `json:"calleeId"`
	CallerID string                    `json:"callerId"`
	Answer   webrtc.SessionDescription `json:"answer"`
}

// CallICECandidate relays one gathered candidate to the other peer.
type CallICECandidate struct {
	SenderID  string                  `json:"senderId"`
	TargetID  string                  `json:"targetId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// CallReject declines an incoming call with a human-readable reason.
type CallReject struct {
	CalleeID string `json:"calleeId"`
	CallerID string `json:"callerId"`
	Reason   string `json:"reason"`
}

// CallEnd announces teardown; one side announcing is enough for both to clean up.
type CallEnd struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// DirectMessage is an outbound 1-to-1 text message.
type DirectMessage struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
}

// GroupMessage is an outbound group text message.
type GroupMessage struct {
	Sender    string `json:"sender"`
	GroupName string `json:"groupName"`
	Text      string `json:"text"`
}

// MediaUpload carries a file as base64 to a peer or group.
type MediaUpload struct {
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver,omitempty"`
	GroupName  string `json:"groupName,omitempty"`
	Filename   string `json:"filename"`
	Mimetype   string `json:"mimetype"`
	Base64Data string `json:"base64Data"`
	Mode       string `json:"mode"` // "private" or "group"
}

// IncomingCall notifies this client that a peer is calling.
type IncomingCall struct {
	Caller   string                    `json:"caller"`
	Offer    webrtc.SessionDescription `json:"offer"`
	CallType CallKind                  `json:"callType"`
}

// CallAnswered carries the callee's answer to the caller.
type CallAnswered struct {
	Callee string                    `json:"callee"`
	Answer webrtc.SessionDescription `json:"answer"`
}

// RemoteCandidate is an ICE candidate relayed from the other peer.
type RemoteCandidate struct {
	Sender    string                  `json:"sender"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// CallRejected notifies the caller that the callee declined.
type CallRejected struct {
	Callee string `json:"callee"`
	Reason string `json:"reason"`
}

// CallError is a call-path failure reported by the backend.
type CallError struct {
	Message string `json:"message"`
}

// InboundMessage is a live chat event: direct, group, or media. Direct
// messages carry Receiver, group messages GroupName, media messages one of
// the two plus the media fields.
type InboundMessage struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver,omitempty"`
	GroupName string `json:"groupName,omitempty"`
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Mimetype  string `json:"mimetype,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"` // unix millis, server clock
}

// ServerError is the backend's error event. The backend emits either a bare
// string or a structured {message, code, requiresLogin} object; UnmarshalJSON
// accepts both.
type ServerError struct {
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
	RequiresLogin bool   `json:"requiresLogin,omitempty"`
}

func (e *ServerError) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = ServerError{Message: s}
		return nil
	}
	type alias ServerError
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("decode server error: %w", err)
	}
	*e = ServerError(a)
	return nil
}

func (e *ServerError) Error() string { return e.Message }

// marshalEnvelope builds the wire framing for one outbound event.
func marshalEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}
