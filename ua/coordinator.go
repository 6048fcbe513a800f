package ua

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ultravideo/kvazzup/dialog"
	"github.com/ultravideo/kvazzup/sdp"
	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/stun"
	"github.com/ultravideo/kvazzup/transaction"
	"github.com/ultravideo/kvazzup/transport"
)

// Coordinator is the transaction-user: it owns every dialog, transaction
// and transport table (the data model's single-owner rule) and is the
// one component both the wire side and the TU side call into. Each
// table below keeps its own lock, so the coordinator itself holds only
// the session map's lock rather than a single coarse mutex — matching
// the concurrency model's "single lock per table" guidance rather than
// introducing a second, redundant one.
type Coordinator struct {
	cfg Config
	tu  TU
	log zerolog.Logger

	transportMgr *transport.Manager
	txLayer      *transaction.Layer
	dialogs      *dialog.Table
	dispatcher   *dialog.Dispatcher
	stunFacility *stunFacility

	mu            sync.Mutex
	sessions      map[SessionID]*session
	nextSessionID uint64

	registrar *registration
}

// NewCoordinator wires the whole pipeline: transport manager -> dialog
// dispatcher -> transaction layer, with the coordinator as transport's
// EventSink and the dispatch callbacks' target. The STUN factory (4.6)
// is deliberately a standalone socket rather than sharing the SIP
// transport's: the spec keeps STUN as its own component, and without
// full ICE (an explicit Non-goal) there is no requirement to
// demultiplex STUN and SIP traffic on one port.
func NewCoordinator(cfg Config, tu TU, log zerolog.Logger) (*Coordinator, error) {
	log = log.With().Str("component", "ua").Logger()

	c := &Coordinator{
		cfg:      cfg,
		tu:       tu,
		log:      log,
		sessions: make(map[SessionID]*session),
	}

	c.txLayer = transaction.NewLayer(log)
	c.dialogs = dialog.NewTable()
	c.dispatcher = dialog.NewDispatcher(c.txLayer, c.dialogs, c.onNewDialog, c.onInDialogRequest, log)
	c.transportMgr = transport.NewManager(cfg.ListenPort, cfg.LocalIP, c, log)

	facility, err := newStunFacility(log)
	if err != nil {
		return nil, err
	}
	c.stunFacility = facility

	return c, nil
}

// ListenAndServe starts the transport manager's socket loops.
func (c *Coordinator) ListenAndServe(ctx context.Context) error {
	return c.transportMgr.ListenAndServe(ctx)
}

// Shutdown tears down every dialog in reverse-creation order and stops
// all live transactions, per the cancellation model's shutdown
// guarantee. It sends no further messages.
func (c *Coordinator) Shutdown() {
	if c.registrar != nil {
		c.registrar.stop()
	}
	c.dialogs.Shutdown()
	c.txLayer.Shutdown()
	c.stunFacility.close()
}

func (c *Coordinator) nextID() SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSessionID++
	return SessionID(c.nextSessionID)
}

func (c *Coordinator) addSession(s *session) {
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
}

func (c *Coordinator) getSession(id SessionID) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *Coordinator) removeSession(id SessionID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

func (c *Coordinator) allSessions() []*session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Coordinator) emit(e Event) {
	if c.tu != nil {
		c.tu.OnUAEvent(e)
	}
}

// OnTransportEvent implements transport.EventSink: it is the entry point
// for everything arriving off the wire.
func (c *Coordinator) OnTransportEvent(ev transport.Event) {
	switch v := ev.(type) {
	case transport.IncomingRequest:
		sender := c.transportMgr.SenderFor(v.ID)
		c.dispatcher.HandleRequest(sender, v.Request, c.cfg.Contact, c.cfg.Transport)
	case transport.IncomingResponse:
		c.dispatcher.HandleResponse(v.Response)
	case transport.Established:
		c.log.Debug().Str("remote", v.RemoteAddr).Msg("transport established")
	case transport.Failed:
		c.onTransportFailed(v)
	}
}

// onTransportFailed terminates every dialog bound to the failed
// transport with a failure event, per the error handling policy's
// "transport errors terminate all dialogs bound to that transport".
func (c *Coordinator) onTransportFailed(f transport.Failed) {
	reason := "transport failure"
	if f.Reason != nil {
		reason = f.Reason.Error()
	}
	for _, s := range c.allSessions() {
		if s.transportID != f.ID {
			continue
		}
		s.dialog.Terminate()
		c.removeSession(s.id)
		c.emit(Failure{Session: s.id, Reason: reason})
	}
}

// PingSTUN sends a binding request to server and blocks until a matching
// response arrives, ctx is cancelled, or the request times out, per the
// testable "STUN ping" property (component 4.6).
func (c *Coordinator) PingSTUN(ctx context.Context, server string) (stun.BindingResponse, error) {
	return c.stunFacility.ping(ctx, server)
}

// onNewDialog is the dialog dispatcher's callback for an inbound INVITE
// that just created a dialog with no matching session yet.
func (c *Coordinator) onNewDialog(d *dialog.Dialog, invite *sip.Request, tx *transaction.ServerTx) {
	sid := c.nextID()
	d.SessionID = uint64(sid)

	s := &session{id: sid, dialog: d, serverTx: tx, invite: invite}

	if len(invite.Body) > 0 {
		offer, err := sdp.Parse(invite.Body)
		if err != nil {
			c.log.Warn().Err(err).Str("call-id", invite.CallID).Msg("inbound offer failed to parse")
			c.respondAndTerminate(tx, d, 488, "Not Acceptable Here")
			return
		}
		s.remoteOffer = offer
		s.haveOffer = true
	}

	tx.SetHandler(func(e transaction.ServerEvent) { c.onServerTxEvent(s, e) })

	c.addSession(s)
	c.emit(IncomingCall{Session: sid, Remote: invite.From.URI})
}

// onInDialogRequest is the dialog dispatcher's callback for a request
// that matched an existing dialog (BYE, re-INVITE, MESSAGE, ...).
func (c *Coordinator) onInDialogRequest(d *dialog.Dialog, req *sip.Request, tx *transaction.ServerTx) {
	sid := SessionID(d.SessionID)
	s, ok := c.getSession(sid)
	if !ok {
		resp := sip.NewResponse(req, 481, "Call/Transaction Does Not Exist")
		tx.Respond(resp)
		return
	}

	switch req.Method {
	case sip.BYE:
		tx.Respond(sip.NewResponse(req, 200, "OK"))
		d.Terminate()
		c.removeSession(sid)
		c.emit(EndCall{Session: sid})
	case sip.MESSAGE:
		tx.Respond(sip.NewResponse(req, 200, "OK"))
		c.emit(ChatMessage{Session: sid, Text: string(req.Body)})
	case sip.INVITE:
		c.onReInvite(s, req, tx)
	default:
		tx.Respond(sip.NewResponse(req, 200, "OK"))
	}
}

func (c *Coordinator) onReInvite(s *session, req *sip.Request, tx *transaction.ServerTx) {
	offer, err := sdp.Parse(req.Body)
	if err != nil {
		// Re-INVITE failure preserves the previous session per the
		// error handling policy: reject, don't tear the dialog down.
		tx.Respond(sip.NewResponse(req, 488, "Not Acceptable Here"))
		return
	}
	answer, err := sdp.ReNegotiate(s.negotiated, offer, c.cfg.LocalIP, uint64(s.id), c.cfg.MediaSpecs)
	if err != nil {
		// Re-INVITE failure preserves the previous session per the
		// error handling policy.
		tx.Respond(sip.NewResponse(req, 488, "Not Acceptable Here"))
		return
	}
	s.negotiated = answer
	s.haveAnswer = true

	resp := sip.NewResponse(req, 200, "OK")
	body, _ := answer.Marshal()
	resp.Contact = &c.cfg.Contact
	resp.SetBody(sip.ContentTypeSDP, body)
	tx.Respond(resp)
	c.emit(CallNegotiated{Session: s.id})
}

func (c *Coordinator) respondAndTerminate(tx *transaction.ServerTx, d *dialog.Dialog, code int, reason string) {
	resp := sip.NewResponse(tx.Request(), code, reason)
	tx.Respond(resp)
	d.Terminate()
}

// onServerTxEvent handles events from the server transaction created for
// a new inbound INVITE. An ACK after a 2xx confirms negotiation; an ACK
// after the dispatcher auto-answered a CANCEL with 487 (s never got a
// chance to accept/reject) reports the call as cancelled instead.
func (c *Coordinator) onServerTxEvent(s *session, e transaction.ServerEvent) {
	switch e.(type) {
	case transaction.AckReceived:
		if s.haveAnswer {
			c.emit(CallNegotiated{Session: s.id})
			return
		}
		c.removeSession(s.id)
		c.emit(Failure{Session: s.id, Reason: "cancelled"})
	case transaction.ServerTerminated:
		// Nothing further: BYE (handled separately) or timeout already
		// drove any failure/end_call event.
	}
}

// ListenAddr returns the address this coordinator's SIP transport is
// bound to, primarily useful when Config.ListenPort is 0 (tests, or a
// TU that advertises whatever ephemeral port it actually got).
func (c *Coordinator) ListenAddr() string {
	return c.transportMgr.ListenAddr()
}

// SetMetricsHook wires a transport.MetricsHook (internal/metrics'
// Registry satisfies it) into the transport manager's send/receive
// path, without this package importing a metrics library itself.
func (c *Coordinator) SetMetricsHook(hook transport.MetricsHook) {
	c.transportMgr.SetMetricsHook(hook)
}

// DialogCount and TransactionCount expose the live table sizes for a
// metrics gauge updater to poll.
func (c *Coordinator) DialogCount() int { return c.dialogs.Len() }

func (c *Coordinator) TransactionCount() int {
	return c.txLayer.ClientTxCount() + c.txLayer.ServerTxCount()
}
