package transport

import "github.com/ultravideo/kvazzup/sip"

// ConnSender binds a Manager to one transport ID, giving the transaction
// layer a narrow SendRequest/SendResponse/Reliable view without that
// package needing to know about transport IDs or the Manager itself. It
// satisfies transaction.Sender structurally; this package does not import
// transaction to get there.
type ConnSender struct {
	m  *Manager
	id ID
}

func (m *Manager) SenderFor(id ID) ConnSender {
	return ConnSender{m: m, id: id}
}

func (s ConnSender) SendRequest(req *sip.Request) error  { return s.m.SendRequest(s.id, req) }
func (s ConnSender) SendResponse(resp *sip.Response) error { return s.m.SendResponse(s.id, resp) }
func (s ConnSender) Reliable() bool                        { return s.m.protoOf(s.id) == sip.ProtoTCP }
