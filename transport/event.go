// Package transport multiplexes SIP messages over TCP and UDP sockets. Each
// Manager is the transport layer described in the core: it owns one
// listening UDP socket and one TCP listener, creates outbound connections
// on demand, and reports everything upward through a single typed event
// sink instead of a zoo of parallel callbacks.
package transport

import "github.com/ultravideo/kvazzup/sip"

// ID identifies one transport instance: a peer address/protocol pin.
type ID uint64

// Event is the single upward notification type the transport layer emits.
// The TU-facing dispatcher type-switches on it rather than registering
// separate callbacks per condition.
type Event interface {
	isTransportEvent()
}

// Established reports a transport entering the Connected state.
type Established struct {
	ID         ID
	LocalAddr  string
	RemoteAddr string
}

// Failed reports a transport moving to Failed, either during connect or
// after an unrecoverable I/O error on an established connection.
type Failed struct {
	ID     ID
	Reason error
}

// IncomingRequest reports a fully decoded inbound request.
type IncomingRequest struct {
	ID      ID
	Request *sip.Request
}

// IncomingResponse reports a fully decoded inbound response.
type IncomingResponse struct {
	ID       ID
	Response *sip.Response
}

func (Established) isTransportEvent()      {}
func (Failed) isTransportEvent()           {}
func (IncomingRequest) isTransportEvent()  {}
func (IncomingResponse) isTransportEvent() {}

// EventSink receives transport events. Implementations must not block for
// long, since the call happens inline on the I/O goroutine reading the
// socket the event concerns.
type EventSink interface {
	OnTransportEvent(Event)
}
