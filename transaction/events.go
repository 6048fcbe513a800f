package transaction

import "github.com/ultravideo/kvazzup/sip"

// ClientEvent is the single upward notification type a client transaction
// emits to its transaction-user handler.
type ClientEvent interface{ isClientEvent() }

// ServerEvent is the single upward notification type a server transaction
// emits to its transaction-user handler.
type ServerEvent interface{ isServerEvent() }

type Provisional struct{ Response *sip.Response }
type Final struct{ Response *sip.Response }
type TimedOut struct{}
type ClientTransportErr struct{ Err error }

func (Provisional) isClientEvent()        {}
func (Final) isClientEvent()              {}
func (TimedOut) isClientEvent()           {}
func (ClientTransportErr) isClientEvent() {}

type AckReceived struct{ Request *sip.Request }
type RequestRetransmit struct{ Request *sip.Request }
type ServerTransportErr struct{ Err error }
type ServerTerminated struct{}

func (AckReceived) isServerEvent()        {}
func (RequestRetransmit) isServerEvent()  {}
func (ServerTransportErr) isServerEvent() {}
func (ServerTerminated) isServerEvent()   {}

// ClientHandler and ServerHandler are invoked synchronously from the
// coordinator goroutine that drives the transaction's FSM; they must not
// block.
type ClientHandler func(ClientEvent)
type ServerHandler func(ServerEvent)

// Sender abstracts the transport manager so the transaction package needs
// no import of transport: it only needs to write a message somewhere and
// learn whether that path is reliable (TCP) for timer selection.
type Sender interface {
	SendRequest(req *sip.Request) error
	SendResponse(resp *sip.Response) error
	Reliable() bool
}
