package transaction

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/ultravideo/kvazzup/sip"
)

type clientState int

const (
	clientCalling clientState = iota
	clientProceeding
	clientCompleted
	clientTerminated
)

func (s clientState) String() string {
	switch s {
	case clientCalling:
		return "Calling"
	case clientProceeding:
		return "Proceeding"
	case clientCompleted:
		return "Completed"
	case clientTerminated:
		return "Terminated"
	default:
		return "?"
	}
}

// ClientTx is a client transaction: the Calling/Trying -> Proceeding ->
// Completed -> Terminated state machine RFC 3261 Section 17.1 defines for
// whichever request created it. INVITE and non-INVITE requests share this
// type; the only behavioural fork is IsInvite(), checked at the handful of
// points where the two state machines genuinely differ (2xx handling,
// automatic ACK, Timer A vs Timer E cadence).
type ClientTx struct {
	mu       sync.Mutex
	key      Key
	request  *sip.Request
	sender   Sender
	reliable bool
	handler  ClientHandler
	log      zerolog.Logger

	state  clientState
	closed bool

	timerA    *time.Timer
	timerAVal time.Duration
	timerB    *time.Timer
	timerD    *time.Timer

	onTerminate func(Key)
}

// NewClientTx creates a client transaction for req. req must already carry
// a topmost Via with a generated branch. Init starts it: sending the
// request and arming the entry timers.
func NewClientTx(req *sip.Request, sender Sender, handler ClientHandler, onTerminate func(Key), log zerolog.Logger) *ClientTx {
	key, _ := keyOfRequest(req)
	return &ClientTx{
		key:         key,
		request:     req,
		sender:      sender,
		reliable:    sender.Reliable(),
		handler:     handler,
		log:         log.With().Str("tx", key.Branch).Str("method", string(req.Method)).Logger(),
		state:       clientCalling,
		onTerminate: onTerminate,
	}
}

func (tx *ClientTx) Key() Key { return tx.key }

// Init sends the initial request and arms Timer A/B (INVITE) or Timer E/F
// (non-INVITE).
func (tx *ClientTx) Init() error {
	if err := tx.sender.SendRequest(tx.request); err != nil {
		tx.handleTransportErr(err)
		return err
	}

	tx.mu.Lock()
	if !tx.reliable {
		tx.timerAVal = T1
		tx.timerA = time.AfterFunc(tx.timerAVal, tx.onTimerA)
	}
	timeout := timerB()
	if !tx.request.IsInvite() {
		timeout = timerF()
	}
	tx.timerB = time.AfterFunc(timeout, tx.onTimerB)
	tx.mu.Unlock()
	return nil
}

// Receive processes an inbound response matching this transaction.
func (tx *ClientTx) Receive(resp *sip.Response) {
	if tx.request.IsInvite() {
		tx.receiveInvite(resp)
		return
	}
	tx.receiveNonInvite(resp)
}

func (tx *ClientTx) receiveInvite(resp *sip.Response) {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()

	switch {
	case resp.IsProvisional():
		if state == clientCalling {
			tx.stopTimerA()
			tx.setState(clientProceeding)
		}
		if state == clientCalling || state == clientProceeding {
			tx.emit(Provisional{Response: resp})
		}
	case resp.IsSuccess():
		// Terminated immediately; ACK for 2xx is the TU's responsibility.
		if state == clientCalling || state == clientProceeding {
			tx.setState(clientTerminated)
			tx.emit(Final{Response: resp})
			tx.cleanup()
		}
	default: // 3xx-6xx
		if state == clientCalling || state == clientProceeding {
			tx.setState(clientCompleted)
			tx.stopTimerA()
			ack := sip.NewAckForNon2xx(tx.request, resp)
			if err := tx.sender.SendRequest(ack); err != nil {
				tx.log.Warn().Err(err).Msg("failed to send automatic ACK")
			}
			tx.emit(Final{Response: resp})
			d := timerDDuration(tx.reliable)
			if d == 0 {
				tx.setState(clientTerminated)
				tx.cleanup()
				return
			}
			tx.mu.Lock()
			tx.timerD = time.AfterFunc(d, tx.onTimerD)
			tx.mu.Unlock()
		} else if state == clientCompleted {
			// Retransmitted final response: resend the ACK, stay Completed.
			ack := sip.NewAckForNon2xx(tx.request, resp)
			tx.sender.SendRequest(ack)
		}
	}
}

func (tx *ClientTx) receiveNonInvite(resp *sip.Response) {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()

	switch {
	case resp.IsProvisional():
		if state == clientCalling {
			tx.setState(clientProceeding)
		}
		tx.emit(Provisional{Response: resp})
	default: // any final response
		if state == clientCalling || state == clientProceeding {
			tx.setState(clientCompleted)
			tx.stopTimerA()
			tx.emit(Final{Response: resp})
			d := timerKDuration(tx.reliable)
			if d == 0 {
				tx.setState(clientTerminated)
				tx.cleanup()
				return
			}
			tx.mu.Lock()
			tx.timerD = time.AfterFunc(d, tx.onTimerD)
			tx.mu.Unlock()
		}
		// retransmitted finals in Completed are silently absorbed
	}
}

func (tx *ClientTx) onTimerA() {
	tx.mu.Lock()
	if tx.state != clientCalling || tx.closed {
		tx.mu.Unlock()
		return
	}
	if tx.request.IsInvite() {
		// Timer A: uncapped doubling (RFC 3261 Section 17.1.1.2).
		tx.timerAVal *= 2
	} else {
		// Timer E: doubling capped at T2 (RFC 3261 Section 17.1.2.2).
		tx.timerAVal = capRetransmit(tx.timerAVal * 2)
	}
	next := tx.timerAVal
	tx.timerA = time.AfterFunc(next, tx.onTimerA)
	tx.mu.Unlock()

	if err := tx.sender.SendRequest(tx.request); err != nil {
		tx.handleTransportErr(err)
	}
}

func (tx *ClientTx) onTimerB() {
	tx.mu.Lock()
	if tx.state == clientTerminated || tx.closed {
		tx.mu.Unlock()
		return
	}
	tx.state = clientTerminated
	tx.mu.Unlock()

	tx.emit(TimedOut{})
	tx.cleanup()
}

func (tx *ClientTx) onTimerD() {
	tx.mu.Lock()
	tx.state = clientTerminated
	tx.mu.Unlock()
	tx.cleanup()
}

func (tx *ClientTx) handleTransportErr(err error) {
	tx.mu.Lock()
	if tx.state == clientTerminated {
		tx.mu.Unlock()
		return
	}
	tx.state = clientTerminated
	tx.mu.Unlock()

	tx.emit(ClientTransportErr{Err: err})
	tx.cleanup()
}

// Cancel generates a CANCEL request, legal only while the INVITE
// transaction is in Proceeding (it is a no-op in every other state and for
// non-INVITE transactions, per RFC 3261 Section 9.1).
func (tx *ClientTx) Cancel() *sip.Request {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.request.IsInvite() || tx.state != clientProceeding {
		return nil
	}
	return sip.NewCancel(tx.request)
}

func (tx *ClientTx) setState(s clientState) {
	tx.mu.Lock()
	tx.state = s
	tx.mu.Unlock()
}

func (tx *ClientTx) stopTimerA() {
	tx.mu.Lock()
	if tx.timerA != nil {
		tx.timerA.Stop()
		tx.timerA = nil
	}
	tx.mu.Unlock()
}

func (tx *ClientTx) State() clientState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *ClientTx) emit(e ClientEvent) {
	if tx.handler != nil {
		tx.handler(e)
	}
}

func (tx *ClientTx) cleanup() {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return
	}
	tx.closed = true
	if tx.timerA != nil {
		tx.timerA.Stop()
	}
	if tx.timerB != nil {
		tx.timerB.Stop()
	}
	if tx.timerD != nil {
		tx.timerD.Stop()
	}
	tx.mu.Unlock()

	if tx.onTerminate != nil {
		tx.onTerminate(tx.key)
	}
}

// Terminate forces the transaction to Terminated without further network
// activity, used on shutdown.
func (tx *ClientTx) Terminate() {
	tx.mu.Lock()
	tx.state = clientTerminated
	tx.mu.Unlock()
	tx.cleanup()
}
