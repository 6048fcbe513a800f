package dialog

import (
	"sync"

	"github.com/ultravideo/kvazzup/sip"
)

// State is a dialog's lifecycle stage: early -> confirmed -> terminated.
type State int

const (
	Early State = iota
	Confirmed
	Terminated
)

func (s State) String() string {
	switch s {
	case Early:
		return "early"
	case Confirmed:
		return "confirmed"
	case Terminated:
		return "terminated"
	default:
		return "?"
	}
}

// Key identifies a dialog by Call-ID plus both tags, per the data model's
// dialog identity triple. LocalTag and RemoteTag are always "ours" and
// "theirs" respectively, regardless of whether this side is the UAC or
// the UAS for the dialog-creating transaction.
type Key struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// Dialog groups the transactions of one call leg under a Call-ID and tag
// pair, per RFC 3261 Section 12 as distilled by the data model's
// "Dialog identity" entry.
type Dialog struct {
	mu sync.Mutex

	callID    string
	localTag  string
	remoteTag string

	localURI  sip.NameAddr
	remoteURI sip.NameAddr
	contact   sip.URI
	transport sip.TransportProto

	state State

	localCSeq      uint32
	remoteCSeq     uint32
	haveRemoteCSeq bool

	// SessionID is the TU-facing handle; the ua package assigns it and
	// never lets the TU see a dialog pointer directly (ownership model,
	// spec Section 3).
	SessionID uint64
}

// NewOutbound creates a dialog for a call this side originates: the local
// tag is fixed now, the remote tag is unknown until a response or request
// carries one.
func NewOutbound(localURI, remoteURI sip.NameAddr, contact sip.URI, transport sip.TransportProto) *Dialog {
	d := &Dialog{
		callID:    sip.GenerateCallID(contact.Host),
		localTag:  sip.GenerateTag(),
		localURI:  localURI,
		remoteURI: remoteURI,
		contact:   contact,
		transport: transport,
		state:     Early,
		localCSeq: 0,
	}
	d.localURI.SetTag(d.localTag)
	return d
}

// NewInbound creates a dialog from an inbound INVITE: Call-ID and remote
// tag (if the From header carries one) come from the request; the local
// tag is freshly generated.
func NewInbound(req *sip.Request, contact sip.URI, transport sip.TransportProto) *Dialog {
	remoteTag, _ := req.From.Tag()
	d := &Dialog{
		callID:         req.CallID,
		localTag:       sip.GenerateTag(),
		remoteTag:      remoteTag,
		localURI:       req.To,
		remoteURI:      req.From,
		contact:        contact,
		transport:      transport,
		state:          Early,
		remoteCSeq:     req.CSeq.Number,
		haveRemoteCSeq: true,
	}
	d.localURI.SetTag(d.localTag)
	return d
}

func (d *Dialog) Key() Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Key{CallID: d.callID, LocalTag: d.localTag, RemoteTag: d.remoteTag}
}

func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dialog) CallID() string { return d.callID }

// ConfirmRemoteTag fixes the remote tag the first time it is observed,
// either from a 2xx response (UAC) or the first in-dialog request (UAS
// dialogs already have it from the creating INVITE). A second call with a
// different, non-empty tag is a protocol violation the caller must map to
// a 481 rather than silently accept — it returns ErrTagMismatch rather
// than overwriting, per the tag invariance property.
func (d *Dialog) ConfirmRemoteTag(tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tag == "" {
		return nil
	}
	if d.remoteTag == "" {
		d.remoteTag = tag
		if d.state == Early {
			d.state = Confirmed
		}
		return nil
	}
	if d.remoteTag != tag {
		return ErrTagMismatch
	}
	if d.state == Early {
		d.state = Confirmed
	}
	return nil
}

func (d *Dialog) Terminate() {
	d.mu.Lock()
	d.state = Terminated
	d.mu.Unlock()
}

// NextLocalCSeq increments and returns the CSeq number for a new request
// this side originates in the dialog.
func (d *Dialog) NextLocalCSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localCSeq++
	return d.localCSeq
}

// CheckRemoteCSeq enforces monotonicity on an inbound in-dialog request:
// seq must be strictly greater than the last one seen. Gaps are allowed.
// On acceptance it records seq as the new high-water mark.
func (d *Dialog) CheckRemoteCSeq(seq uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.haveRemoteCSeq && seq <= d.remoteCSeq {
		return ErrCSeqTooLow
	}
	d.remoteCSeq = seq
	d.haveRemoteCSeq = true
	return nil
}

// NewInDialogRequest builds a request routed within this dialog: From is
// the local URI with local tag, To is the remote URI with remote tag (if
// fixed), Contact is the local transport address, CSeq is the next local
// number for method, and a fresh Via hop with a new branch is pushed.
func (d *Dialog) NewInDialogRequest(method sip.Method, localSentBy string) *sip.Request {
	d.mu.Lock()
	to := d.remoteURI
	to.SetTag(d.remoteTag)
	from := d.localURI
	callID := d.callID
	contact := d.contact
	transport := d.transport
	d.mu.Unlock()

	req := sip.NewRequest(method, d.remoteURI.URI)
	req.From = from
	req.To = to
	req.CallID = callID
	req.Contact = &contact
	req.CSeq = sip.CSeq{Number: d.NextLocalCSeq(), Method: method}
	req.HasMaxFwd = true
	req.MaxForwards = 70
	req.PushVia(sip.ViaHop{Transport: transport, SentBy: localSentBy, Branch: sip.GenerateBranch()})
	return req
}
