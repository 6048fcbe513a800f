package ua

import "github.com/ultravideo/kvazzup/sip"

// Event is the single upward notification type the coordinator emits,
// mirroring the transport and transaction layers' own "one event sink,
// typed events" shape rather than a callback per condition (component
// 4.3's own design note on callback zoos).
type Event interface{ isUAEvent() }

// Ringing reports a 180 on a call this side originated.
type Ringing struct{ Session SessionID }

// PeerAccepted reports the far end answering a call this side originated
// (the 2xx arrived; the ACK and SDP negotiation that complete the call
// happen before CallNegotiated follows).
type PeerAccepted struct{ Session SessionID }

// CallNegotiated reports the SDP offer/answer exchange having completed
// and the dialog being confirmed: for the originating side this follows
// PeerAccepted once the ACK is sent, for the answering side it follows
// the ACK being received.
type CallNegotiated struct{ Session SessionID }

// EndCall reports the dialog ending, whichever side sent the BYE.
type EndCall struct{ Session SessionID }

// Failure reports a call-level failure: transaction timeout, rejection,
// transport loss, or SDP incompatibility.
type Failure struct {
	Session SessionID
	Reason  string
}

// RegisteredToServer and RegisteringFailed report REGISTER outcomes; a
// registration has no session-id since it is not a dialog.
type RegisteredToServer struct{}
type RegisteringFailed struct{ Reason string }

// IncomingCall reports an inbound INVITE that has created a new session,
// still awaiting AcceptCall or RejectCall.
type IncomingCall struct {
	Session SessionID
	Remote  sip.URI
}

// ChatMessage reports an inbound in-dialog MESSAGE.
type ChatMessage struct {
	Session SessionID
	Text    string
}

func (Ringing) isUAEvent()            {}
func (PeerAccepted) isUAEvent()       {}
func (CallNegotiated) isUAEvent()     {}
func (EndCall) isUAEvent()            {}
func (Failure) isUAEvent()            {}
func (RegisteredToServer) isUAEvent() {}
func (RegisteringFailed) isUAEvent()  {}
func (IncomingCall) isUAEvent()       {}
func (ChatMessage) isUAEvent()        {}

// TU is the transaction-user interface the coordinator reports to. A real
// application implements this once and pattern-matches on Event's
// concrete type; tests use a recording fake.
type TU interface {
	OnUAEvent(Event)
}
