package stun

import (
	"encoding/binary"
	"net"

	pionstun "github.com/pion/stun/v3"
)

// ICE attribute types component 4.6 names alongside XOR-MAPPED-ADDRESS.
// pion/stun only predefines the generic STUN attribute set; these four
// belong to ICE (RFC 8445) and are added as raw TLVs, matching the
// spec's explicit Non-goal scope of "priority exchange" without full
// ICE connectivity checks.
const (
	attrPriority       = pionstun.AttrType(0x0024)
	attrUseCandidate   = pionstun.AttrType(0x0025)
	attrIceControlled  = pionstun.AttrType(0x8029)
	attrIceControlling = pionstun.AttrType(0x802A)
)

// BindingRequestOptions carries the ICE attributes a binding request may
// optionally carry; Priority is always written, the role/tiebreaker
// attribute and USE-CANDIDATE are conditional on the agent's ICE role.
type BindingRequestOptions struct {
	Priority     uint32
	Controlling  bool
	Tiebreaker   uint64
	UseCandidate bool
}

// BuildBindingRequest encodes a STUN binding request with a fresh
// time-seeded transaction id, returning both the wire bytes and the id
// so the caller can track it against the destination.
func BuildBindingRequest(gen idGenerator, opts BindingRequestOptions) ([]byte, [pionstun.TransactionIDSize]byte) {
	id := gen.next()

	msg := new(pionstun.Message)
	msg.Type = pionstun.BindingRequest
	msg.TransactionID = id

	var priority [4]byte
	binary.BigEndian.PutUint32(priority[:], opts.Priority)
	msg.Add(attrPriority, priority[:])

	var tie [8]byte
	binary.BigEndian.PutUint64(tie[:], opts.Tiebreaker)
	if opts.Controlling {
		msg.Add(attrIceControlling, tie[:])
		if opts.UseCandidate {
			msg.Add(attrUseCandidate, nil)
		}
	} else {
		msg.Add(attrIceControlled, tie[:])
	}

	msg.Encode()
	return append([]byte(nil), msg.Raw...), id
}

// BindingResponse is the decoded result of a successful binding
// response: the reflexive address the server observed this side at.
type BindingResponse struct {
	TransactionID [pionstun.TransactionIDSize]byte
	XorMappedIP   net.IP
	XorMappedPort int
}

// ParseBindingResponse decodes raw and extracts XOR-MAPPED-ADDRESS. It
// does not validate the transaction id against any outstanding request;
// callers use Table.Match for that.
func ParseBindingResponse(raw []byte) (BindingResponse, error) {
	msg := new(pionstun.Message)
	msg.Raw = append([]byte(nil), raw...)
	if err := msg.Decode(); err != nil {
		return BindingResponse{}, err
	}
	if msg.Type != pionstun.BindingSuccess {
		return BindingResponse{}, ErrNotBindingResponse
	}

	var xorAddr pionstun.XORMappedAddress
	if err := xorAddr.GetFrom(msg); err != nil {
		return BindingResponse{}, ErrNoXorMappedAddress
	}

	return BindingResponse{
		TransactionID: msg.TransactionID,
		XorMappedIP:   xorAddr.IP,
		XorMappedPort: xorAddr.Port,
	}, nil
}
