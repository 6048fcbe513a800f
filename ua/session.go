package ua

import (
	"github.com/ultravideo/kvazzup/dialog"
	"github.com/ultravideo/kvazzup/sdp"
	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/transaction"
	"github.com/ultravideo/kvazzup/transport"
)

// SessionID is the TU-facing handle into the coordinator's session table.
// The TU never sees a *dialog.Dialog directly (data model's ownership
// rule); it only ever holds this number.
type SessionID uint64

// session is the coordinator's private record behind a SessionID: the
// dialog it wraps, whichever transaction is currently in flight for it,
// and the negotiated media state.
type session struct {
	id       SessionID
	dialog   *dialog.Dialog
	outbound bool // true if this side sent the original INVITE (UAC)

	transportID transport.ID

	// inviteTx is set while a client INVITE transaction this session
	// originated is still live, needed so EndCall can CANCEL it.
	inviteTx *transaction.ClientTx

	// serverTx is set while an inbound INVITE's server transaction is
	// still awaiting AcceptCall/RejectCall.
	serverTx *transaction.ServerTx

	invite *sip.Request

	remoteOffer sdp.Session
	haveOffer   bool
	negotiated  sdp.Session
	haveAnswer  bool
}
