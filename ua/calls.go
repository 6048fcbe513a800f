package ua

import (
	"context"
	"errors"
	"fmt"

	"github.com/ultravideo/kvazzup/dialog"
	"github.com/ultravideo/kvazzup/sdp"
	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/transaction"
)

var ErrSessionNotFound = errors.New("ua: no such session")

func (c *Coordinator) localSentBy() string {
	return c.cfg.Contact.HostPort()
}

// StartCall is the downward start_call operation: it dials each contact
// and returns the session-id assigned to every one that got far enough
// to send an INVITE. A contact whose transport never connects is
// skipped (logged, not fatal to the batch) rather than aborting the
// whole list, since the other legs have no reason to fail with it.
func (c *Coordinator) StartCall(ctx context.Context, remotes []sip.URI) []SessionID {
	ids := make([]SessionID, 0, len(remotes))
	for _, remote := range remotes {
		sid, err := c.startOneCall(ctx, remote)
		if err != nil {
			c.log.Warn().Err(err).Str("remote", remote.String()).Msg("start_call failed for contact")
			continue
		}
		ids = append(ids, sid)
	}
	return ids
}

func (c *Coordinator) startOneCall(ctx context.Context, remote sip.URI) (SessionID, error) {
	transportID, err := c.transportMgr.CreateConnection(ctx, c.cfg.Transport, remote.HostPort())
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}

	remoteAddr := sip.NameAddr{URI: remote}
	d := dialog.NewOutbound(c.cfg.localNameAddr(), remoteAddr, c.cfg.Contact, c.cfg.Transport)

	sid := c.nextID()
	d.SessionID = uint64(sid)

	invite := d.NewInDialogRequest(sip.INVITE, c.localSentBy())
	invite.HasMaxFwd = true
	invite.MaxForwards = 70
	offer := sdp.BuildOffer(c.cfg.LocalIP, uint64(sid), c.cfg.MediaSpecs)
	body, err := offer.Marshal()
	if err != nil {
		return 0, fmt.Errorf("build offer: %w", err)
	}
	invite.SetBody(sip.ContentTypeSDP, body)

	s := &session{id: sid, dialog: d, outbound: true, transportID: transportID, invite: invite}

	sender := c.transportMgr.SenderFor(transportID)
	tx, err := c.txLayer.CreateClientTx(invite, sender, func(e transaction.ClientEvent) { c.onInviteClientEvent(s, e) })
	if err != nil {
		return 0, fmt.Errorf("send invite: %w", err)
	}
	s.inviteTx = tx

	c.dialogs.Insert(d)
	c.addSession(s)
	return sid, nil
}

func (c *Coordinator) onInviteClientEvent(s *session, e transaction.ClientEvent) {
	switch ev := e.(type) {
	case transaction.Provisional:
		if ev.Response.StatusCode == 180 {
			c.emit(Ringing{Session: s.id})
		}
	case transaction.Final:
		c.onInviteFinal(s, ev.Response)
	case transaction.TimedOut:
		c.removeSession(s.id)
		c.emit(Failure{Session: s.id, Reason: "timed out"})
	case transaction.ClientTransportErr:
		c.removeSession(s.id)
		c.emit(Failure{Session: s.id, Reason: ev.Err.Error()})
	}
}

func (c *Coordinator) onInviteFinal(s *session, resp *sip.Response) {
	if !resp.IsSuccess() {
		c.removeSession(s.id)
		c.emit(Failure{Session: s.id, Reason: rejectReason(resp)})
		return
	}

	if len(resp.Body) > 0 {
		answer, err := sdp.Parse(resp.Body)
		if err != nil {
			c.removeSession(s.id)
			c.emit(Failure{Session: s.id, Reason: "invalid sdp answer"})
			return
		}
		s.negotiated = answer
		s.haveAnswer = true
	}

	ack := sip.NewAckForDialog(s.invite, resp, nil)
	if err := c.transportMgr.SenderFor(s.transportID).SendRequest(ack); err != nil {
		c.log.Warn().Err(err).Msg("failed to send ACK for 2xx")
	}

	c.emit(PeerAccepted{Session: s.id})
	c.emit(CallNegotiated{Session: s.id})
}

func rejectReason(resp *sip.Response) string {
	switch resp.StatusCode {
	case 486:
		return "busy"
	case 487:
		return "cancelled"
	case 603:
		return "declined"
	default:
		return resp.Reason
	}
}

// AcceptCall is the downward accept_call operation: it negotiates an
// answer against the stored remote offer and sends the 200 OK. call_negotiated
// follows once the ACK arrives (onServerTxEvent).
func (c *Coordinator) AcceptCall(sid SessionID) error {
	s, ok := c.getSession(sid)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.haveOffer {
		return c.rejectCallWithCode(sid, 400, "Bad Request")
	}

	answer, err := sdp.Negotiate(s.remoteOffer, c.cfg.LocalIP, uint64(sid), c.cfg.MediaSpecs)
	if err != nil {
		return c.rejectCallWithCode(sid, 488, "Not Acceptable Here")
	}
	s.negotiated = answer
	s.haveAnswer = true

	resp := sip.NewResponse(s.invite, 200, "OK")
	resp.Contact = &c.cfg.Contact
	body, err := answer.Marshal()
	if err != nil {
		return fmt.Errorf("ua: marshal answer: %w", err)
	}
	resp.SetBody(sip.ContentTypeSDP, body)
	return s.serverTx.Respond(resp)
}

// RejectCall is the downward reject_call operation: 486 Busy Here.
func (c *Coordinator) RejectCall(sid SessionID) error {
	return c.rejectCallWithCode(sid, 486, "Busy Here")
}

func (c *Coordinator) rejectCallWithCode(sid SessionID, status int, reason string) error {
	s, ok := c.getSession(sid)
	if !ok {
		return ErrSessionNotFound
	}
	resp := sip.NewResponse(s.invite, status, reason)
	err := s.serverTx.Respond(resp)
	s.dialog.Terminate()
	c.removeSession(sid)
	return err
}

// EndCall is the downward end_call operation: CANCEL while the dialog is
// still early, BYE once it is confirmed, per the resolved CANCEL-vs-BYE
// open question.
func (c *Coordinator) EndCall(sid SessionID) error {
	s, ok := c.getSession(sid)
	if !ok {
		return ErrSessionNotFound
	}

	if s.outbound && s.dialog.State() == dialog.Early {
		cancelReq := s.inviteTx.Cancel()
		if cancelReq != nil {
			sender := c.transportMgr.SenderFor(s.transportID)
			c.txLayer.CreateClientTx(cancelReq, sender, func(transaction.ClientEvent) {})
		}
	} else if s.dialog.State() == dialog.Confirmed {
		req := s.dialog.NewInDialogRequest(sip.BYE, c.localSentBy())
		sender := c.transportMgr.SenderFor(s.transportID)
		c.txLayer.CreateClientTx(req, sender, func(transaction.ClientEvent) {})
	} else if !s.outbound {
		// Inbound call not yet answered: the equivalent of hanging up
		// before accepting is a rejection.
		return c.RejectCall(sid)
	}

	s.dialog.Terminate()
	c.removeSession(sid)
	return nil
}

// EndAllCalls is the downward end_all_calls operation.
func (c *Coordinator) EndAllCalls() {
	for _, s := range c.allSessions() {
		c.EndCall(s.id)
	}
}

// SendChatMessage sends an in-dialog MESSAGE request carrying text, the
// supplemented wire counterpart to the chat_message upward event.
func (c *Coordinator) SendChatMessage(sid SessionID, text string) error {
	s, ok := c.getSession(sid)
	if !ok {
		return ErrSessionNotFound
	}
	req := s.dialog.NewInDialogRequest(sip.MESSAGE, c.localSentBy())
	req.SetBody(sip.ContentTypeText, []byte(text))
	sender := c.transportMgr.SenderFor(s.transportID)
	_, err := c.txLayer.CreateClientTx(req, sender, func(e transaction.ClientEvent) {
		if f, ok := e.(transaction.Final); ok && !f.Response.IsSuccess() {
			c.emit(Failure{Session: sid, Reason: "chat message rejected"})
		}
	})
	return err
}
