package dialog

import (
	"github.com/rs/zerolog"
	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/transaction"
)

// NewDialogFunc is invoked when an inbound INVITE creates a new dialog.
// The handler decides, synchronously or later via tx, how to respond;
// the dispatcher has already created the server transaction and the
// dialog record.
type NewDialogFunc func(d *Dialog, invite *sip.Request, tx *transaction.ServerTx)

// InDialogRequestFunc is invoked for an inbound request that matched an
// existing dialog and passed CSeq validation.
type InDialogRequestFunc func(d *Dialog, req *sip.Request, tx *transaction.ServerTx)

// Dispatcher implements the inbound dispatch algorithm (component 4.4):
// route responses to client transactions, route requests to existing
// dialogs or spawn new ones for INVITE, and reject everything else with
// 481.
type Dispatcher struct {
	layer   *transaction.Layer
	table   *Table
	log     zerolog.Logger
	onNew   NewDialogFunc
	onInDlg InDialogRequestFunc
}

func NewDispatcher(layer *transaction.Layer, table *Table, onNew NewDialogFunc, onInDlg InDialogRequestFunc, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		layer:   layer,
		table:   table,
		onNew:   onNew,
		onInDlg: onInDlg,
		log:     log.With().Str("component", "dialog").Logger(),
	}
}

// HandleRequest is step 2-5 of the dispatch algorithm. sender is the
// transport-bound Sender for the connection the request arrived on;
// localContact/localTransport describe how to route responses/requests
// this dialog originates.
func (disp *Dispatcher) HandleRequest(sender transaction.Sender, req *sip.Request, localContact sip.URI, localTransport sip.TransportProto) {
	if _, isNew := disp.layer.HandleRequest(req); !isNew {
		// An existing transaction already claimed this message (a
		// retransmit, or the ACK it was waiting for); nothing further to do.
		return
	}

	if req.Method == sip.ACK {
		// An ACK matching no INVITE transaction gets no response of any
		// kind, matched or not (RFC 3261 has nothing to retry here).
		disp.log.Debug().Str("call-id", req.CallID).Msg("ACK matched no transaction, dropping")
		return
	}

	if req.Method == sip.CANCEL {
		disp.handleCancel(sender, req)
		return
	}

	if d, found := disp.table.FindByRequest(req); found {
		if err := d.CheckRemoteCSeq(req.CSeq.Number); err != nil {
			disp.respondDirect(sender, req, 500, "Server Internal Error")
			return
		}
		tx, err := disp.layer.CreateServerTx(req, sender, nil)
		if err != nil {
			disp.log.Warn().Err(err).Msg("failed to create server transaction for in-dialog request")
			return
		}
		if disp.onInDlg != nil {
			disp.onInDlg(d, req, tx)
		}
		return
	}

	if req.IsInvite() {
		d := NewInbound(req, localContact, localTransport)
		disp.table.Insert(d)
		tx, err := disp.layer.CreateServerTx(req, sender, nil)
		if err != nil {
			disp.log.Warn().Err(err).Msg("failed to create server transaction for new INVITE")
			return
		}
		if disp.onNew != nil {
			disp.onNew(d, req, tx)
		}
		return
	}

	disp.log.Info().Str("method", string(req.Method)).Str("call-id", req.CallID).
		Msg("out-of-dialog request for unknown Call-ID, rejecting with 481")
	disp.respondDirect(sender, req, 481, "Call/Transaction Does Not Exist")
}

// handleCancel implements RFC 3261 9.2: CANCEL is its own transaction
// (same branch as the INVITE it targets, different method, so it never
// matches the INVITE's transaction key) that always gets a 200 OK, and,
// if a matching INVITE server transaction is still waiting on a final
// response, that transaction is answered 487 Request Terminated.
func (disp *Dispatcher) handleCancel(sender transaction.Sender, req *sip.Request) {
	disp.respondDirect(sender, req, 200, "OK")

	via, ok := req.TopVia()
	if !ok {
		return
	}
	inviteTx, found := disp.layer.FindServerTx(transaction.KeyOf(via.Branch, sip.INVITE))
	if !found {
		return
	}
	resp := sip.NewResponse(inviteTx.Request(), 487, "Request Terminated")
	if err := inviteTx.Respond(resp); err != nil {
		disp.log.Debug().Err(err).Str("call-id", req.CallID).Msg("cancel raced invite transaction's own final response")
	}
}

func (disp *Dispatcher) respondDirect(sender transaction.Sender, req *sip.Request, code int, reason string) {
	tx, err := disp.layer.CreateServerTx(req, sender, nil)
	if err != nil {
		disp.log.Warn().Err(err).Msg("failed to create server transaction for direct response")
		return
	}
	resp := sip.NewResponse(req, code, reason)
	if err := tx.Respond(resp); err != nil {
		disp.log.Warn().Err(err).Msg("failed to send direct response")
	}
}

// HandleResponse is step 1 (response branch) of the dispatch algorithm:
// route to the matching client transaction, then, if the response
// belongs to a dialog-creating INVITE whose remote tag is not yet fixed,
// fix it and re-key the dialog table.
func (disp *Dispatcher) HandleResponse(resp *sip.Response) {
	if matched := disp.layer.HandleResponse(resp); !matched {
		disp.log.Debug().Str("call-id", resp.CallID).Int("status", resp.StatusCode).
			Msg("response matched no client transaction, dropping")
		return
	}

	d, found := disp.table.FindByResponse(resp)
	if !found {
		return
	}
	oldKey := d.Key()
	toTag, _ := resp.To.Tag()
	if toTag == "" {
		return
	}
	if err := d.ConfirmRemoteTag(toTag); err != nil {
		disp.log.Warn().Err(err).Str("call-id", resp.CallID).Msg("tag mismatch on dialog response")
		return
	}
	disp.table.Rekey(oldKey, d)
}
