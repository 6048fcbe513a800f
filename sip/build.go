package sip

// NewRequest builds a bare request with no headers. The caller fills in
// From/To/Via/CSeq/CallID before handing it to the transaction layer.
func NewRequest(method Method, requestURI URI) *Request {
	return &Request{
		Method:     method,
		RequestURI: requestURI,
		Common:     Common{Version: "2.0"},
	}
}

// NewResponse builds a response for req, copying Via (all hops, unmodified),
// From, To, Call-ID and CSeq verbatim as RFC 3261 requires of any response
// a transaction generates.
func NewResponse(req *Request, code int, reason string) *Response {
	resp := &Response{
		StatusCode: code,
		Reason:     reason,
		Common: Common{
			Version: "2.0",
			Via:     append([]ViaHop(nil), req.Via...),
			From:    req.From,
			To:      req.To,
			CallID:  req.CallID,
			CSeq:    req.CSeq,
		},
	}
	return resp
}

// NewAckForNon2xx builds the ACK that a client INVITE transaction sends
// automatically upon receiving a 3xx-6xx final response. Per RFC 3261
// Section 17.1.1.3 this ACK reuses the INVITE's branch and Via, unlike the
// ACK for a 2xx response which the TU must construct as a new transaction.
func NewAckForNon2xx(invite *Request, resp *Response) *Request {
	ack := &Request{
		Method:     ACK,
		RequestURI: invite.RequestURI,
		Common: Common{
			Version: "2.0",
			Via:     append([]ViaHop(nil), invite.Via...),
			From:    invite.From,
			To:      resp.To,
			CallID:  invite.CallID,
			CSeq:    CSeq{Number: invite.CSeq.Number, Method: ACK},
		},
	}
	return ack
}

// NewAckForDialog builds the ACK the TU sends for a 2xx response, which is
// its own transaction with a fresh branch.
func NewAckForDialog(invite *Request, resp *Response, routeSet []URI) *Request {
	ack := NewAckForNon2xx(invite, resp)
	top, ok := invite.TopVia()
	if !ok {
		top = ViaHop{Transport: ProtoUDP}
	}
	top.Branch = GenerateBranch()
	ack.Via = []ViaHop{top}
	if len(routeSet) > 0 {
		ack.RequestURI = routeSet[0]
	}
	return ack
}

// NewCancel builds the CANCEL matching an outstanding INVITE, per RFC 3261
// Section 9.1: same Request-URI, Call-ID, To, From and CSeq number, single
// Via hop equal to the INVITE's top Via with the *same* branch.
func NewCancel(invite *Request) *Request {
	top, _ := invite.TopVia()
	cancel := &Request{
		Method:     CANCEL,
		RequestURI: invite.RequestURI,
		Common: Common{
			Version: "2.0",
			Via:     []ViaHop{top},
			From:    invite.From,
			To:      invite.To,
			CallID:  invite.CallID,
			CSeq:    CSeq{Number: invite.CSeq.Number, Method: CANCEL},
		},
	}
	cancel.HasMaxFwd = true
	cancel.MaxForwards = 70
	return cancel
}

// Clone performs a shallow copy of a request, safe to use when a retransmit
// or ACK must not alias the original's mutable fields.
func (r *Request) Clone() *Request {
	c := *r
	c.Via = append([]ViaHop(nil), r.Via...)
	c.Body = append([]byte(nil), r.Body...)
	return &c
}
