package transaction

import "github.com/ultravideo/kvazzup/sip"

// Key identifies a transaction: the branch of its topmost Via plus the
// CSeq method, per the data model's transaction key definition. ACK to a
// non-2xx response is the one case that does NOT get its own key — it
// reuses the INVITE's branch, and the Layer routes it to the matching
// INVITE transaction rather than looking it up by (branch, ACK).
type Key struct {
	Branch string
	Method sip.Method
}

func KeyOf(branch string, method sip.Method) Key {
	return Key{Branch: branch, Method: method}
}

func keyOfRequest(req *sip.Request) (Key, bool) {
	via, ok := req.TopVia()
	if !ok {
		return Key{}, false
	}
	return KeyOf(via.Branch, req.Method), true
}

func keyOfResponse(resp *sip.Response) (Key, bool) {
	via, ok := resp.TopVia()
	if !ok {
		return Key{}, false
	}
	return KeyOf(via.Branch, resp.CSeq.Method), true
}
