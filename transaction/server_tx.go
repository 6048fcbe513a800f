package transaction

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/ultravideo/kvazzup/sip"
)

type serverState int

const (
	serverProceeding serverState = iota
	serverCompleted
	serverConfirmed
	serverTerminated
)

func (s serverState) String() string {
	switch s {
	case serverProceeding:
		return "Proceeding"
	case serverCompleted:
		return "Completed"
	case serverConfirmed:
		return "Confirmed"
	case serverTerminated:
		return "Terminated"
	default:
		return "?"
	}
}

// ServerTx is a server transaction: Proceeding/Trying -> Completed ->
// [Confirmed for INVITE] -> Terminated, per RFC 3261 Section 17.2. Like
// ClientTx it covers both the INVITE and non-INVITE shapes, forking on
// request.IsInvite() at the handful of points the two disagree.
type ServerTx struct {
	mu       sync.Mutex
	key      Key
	request  *sip.Request
	sender   Sender
	reliable bool
	handler  ServerHandler
	log      zerolog.Logger

	state        serverState
	closed       bool
	lastResponse *sip.Response

	timer1xx             *time.Timer
	respondedAtLeastOnce bool

	timerG    *time.Timer
	timerGVal time.Duration
	timerH    *time.Timer
	timerI    *time.Timer
	timerJ    *time.Timer

	onTerminate func(Key)
}

// NewServerTx creates a server transaction for an inbound req. For INVITE
// requests it arms Timer1xx, the 200ms auto-100-Trying guard.
func NewServerTx(req *sip.Request, sender Sender, handler ServerHandler, onTerminate func(Key), log zerolog.Logger) *ServerTx {
	key, _ := keyOfRequest(req)
	tx := &ServerTx{
		key:         key,
		request:     req,
		sender:      sender,
		reliable:    sender.Reliable(),
		handler:     handler,
		log:         log.With().Str("tx", key.Branch).Str("method", string(req.Method)).Logger(),
		state:       serverProceeding,
		onTerminate: onTerminate,
	}
	if req.IsInvite() {
		tx.mu.Lock()
		tx.timer1xx = time.AfterFunc(Timer1xx, tx.onTimer1xx)
		tx.mu.Unlock()
	}
	return tx
}

func (tx *ServerTx) Key() Key { return tx.key }

// Request returns the request this transaction was created for. The
// value is immutable after construction, so no lock is needed.
func (tx *ServerTx) Request() *sip.Request { return tx.request }

// SetHandler attaches (or replaces) the event handler after construction,
// needed because the dialog layer creates server transactions before the
// coordinator has decided what dialog they belong to.
func (tx *ServerTx) SetHandler(h ServerHandler) {
	tx.mu.Lock()
	tx.handler = h
	tx.mu.Unlock()
}

func (tx *ServerTx) onTimer1xx() {
	tx.mu.Lock()
	if tx.respondedAtLeastOnce || tx.state != serverProceeding {
		tx.mu.Unlock()
		return
	}
	tx.respondedAtLeastOnce = true
	tx.mu.Unlock()

	trying := sip.NewResponse(tx.request, 100, "Trying")
	tx.sender.SendResponse(trying)
}

// Respond sends the TU's response. code<200 keeps the transaction in
// Proceeding; 2xx terminates it immediately (ACK is the TU's concern, per
// the 2xx-special rule shared with the client side); 3xx-6xx moves it to
// Completed and arms the retransmit/ACK-wait timers.
func (tx *ServerTx) Respond(resp *sip.Response) error {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()

	if state != serverProceeding {
		return nil
	}

	tx.mu.Lock()
	tx.respondedAtLeastOnce = true
	tx.lastResponse = resp
	if tx.timer1xx != nil {
		tx.timer1xx.Stop()
	}
	tx.mu.Unlock()

	if err := tx.sender.SendResponse(resp); err != nil {
		return err
	}

	switch {
	case resp.IsProvisional():
		return nil
	case resp.IsSuccess() && tx.request.IsInvite():
		tx.setState(serverTerminated)
		tx.cleanup()
		return nil
	default:
		if !tx.request.IsInvite() {
			tx.setState(serverCompleted)
			d := timerJDuration(tx.reliable)
			if d == 0 {
				tx.setState(serverTerminated)
				tx.cleanup()
				return nil
			}
			tx.mu.Lock()
			tx.timerJ = time.AfterFunc(d, tx.onTimerJ)
			tx.mu.Unlock()
			return nil
		}
		// INVITE 3xx-6xx
		tx.setState(serverCompleted)
		if !tx.reliable {
			tx.mu.Lock()
			tx.timerGVal = T1
			tx.timerG = time.AfterFunc(tx.timerGVal, tx.onTimerG)
			tx.mu.Unlock()
		}
		tx.mu.Lock()
		tx.timerH = time.AfterFunc(timerH(), tx.onTimerH)
		tx.mu.Unlock()
		return nil
	}
}

// Receive processes a retransmitted request (same branch arriving again)
// or, for INVITE transactions, the ACK confirming a non-2xx final.
func (tx *ServerTx) Receive(req *sip.Request) {
	if req.IsAck() && tx.request.IsInvite() {
		tx.receiveAck(req)
		return
	}
	tx.receiveRetransmit(req)
}

func (tx *ServerTx) receiveRetransmit(req *sip.Request) {
	tx.mu.Lock()
	state := tx.state
	last := tx.lastResponse
	tx.mu.Unlock()

	tx.emit(RequestRetransmit{Request: req})

	if state == serverCompleted && last != nil {
		tx.sender.SendResponse(last)
	}
	// Proceeding retransmits need no action: the original 1xx (or none yet)
	// already represents our current view; RFC 3261 does not require
	// resending it.
}

func (tx *ServerTx) receiveAck(ack *sip.Request) {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state != serverCompleted {
		return
	}

	tx.setState(serverConfirmed)
	tx.mu.Lock()
	if tx.timerG != nil {
		tx.timerG.Stop()
		tx.timerG = nil
	}
	if tx.timerH != nil {
		tx.timerH.Stop()
		tx.timerH = nil
	}
	tx.mu.Unlock()

	tx.emit(AckReceived{Request: ack})

	d := timerIDuration(tx.reliable)
	if d == 0 {
		tx.setState(serverTerminated)
		tx.cleanup()
		return
	}
	tx.mu.Lock()
	tx.timerI = time.AfterFunc(d, tx.onTimerI)
	tx.mu.Unlock()
}

func (tx *ServerTx) onTimerG() {
	tx.mu.Lock()
	if tx.state != serverCompleted || tx.closed {
		tx.mu.Unlock()
		return
	}
	tx.timerGVal = capRetransmit(tx.timerGVal * 2)
	last := tx.lastResponse
	tx.timerG = time.AfterFunc(tx.timerGVal, tx.onTimerG)
	tx.mu.Unlock()

	if last != nil {
		tx.sender.SendResponse(last)
	}
}

func (tx *ServerTx) onTimerH() {
	tx.setState(serverTerminated)
	tx.cleanup()
}

func (tx *ServerTx) onTimerI() {
	tx.setState(serverTerminated)
	tx.cleanup()
}

func (tx *ServerTx) onTimerJ() {
	tx.setState(serverTerminated)
	tx.cleanup()
}

func (tx *ServerTx) setState(s serverState) {
	tx.mu.Lock()
	tx.state = s
	tx.mu.Unlock()
}

func (tx *ServerTx) State() serverState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *ServerTx) emit(e ServerEvent) {
	if tx.handler != nil {
		tx.handler(e)
	}
}

func (tx *ServerTx) cleanup() {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return
	}
	tx.closed = true
	for _, t := range []*time.Timer{tx.timer1xx, tx.timerG, tx.timerH, tx.timerI, tx.timerJ} {
		if t != nil {
			t.Stop()
		}
	}
	tx.mu.Unlock()

	tx.emit(ServerTerminated{})
	if tx.onTerminate != nil {
		tx.onTerminate(tx.key)
	}
}

// Terminate forces the transaction to Terminated without further network
// activity, used on shutdown.
func (tx *ServerTx) Terminate() {
	tx.setState(serverTerminated)
	tx.cleanup()
}
