package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultravideo/kvazzup/sip"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) OnTransportEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) waitFor(t *testing.T, pred func(Event) bool, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, e := range s.events {
			if pred(e) {
				s.mu.Unlock()
				return e
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for expected transport event")
	return nil
}

func newTestManager(t *testing.T) (*Manager, *recordingSink) {
	sink := &recordingSink{}
	m := NewManager(0, "127.0.0.1", sink, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.ListenAndServe(ctx))
	return m, sink
}

func testRequest() *sip.Request {
	req := sip.NewRequest(sip.OPTIONS, sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1"})
	req.Via = []sip.ViaHop{{ProtocolVersion: "2.0", Transport: sip.ProtoUDP, SentBy: "127.0.0.1:1", Branch: sip.GenerateBranch()}}
	req.From = sip.NameAddr{URI: sip.URI{Scheme: sip.SchemeSIP, User: "alice", Host: "127.0.0.1"}}
	req.From.SetTag(sip.GenerateTag())
	req.To = sip.NameAddr{URI: sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1"}}
	req.CallID = sip.GenerateCallID("127.0.0.1")
	req.CSeq = sip.CSeq{Number: 1, Method: sip.OPTIONS}
	req.HasMaxFwd = true
	req.MaxForwards = 70
	return req
}

func TestUDPSendAndReceive(t *testing.T) {
	server, serverSink := newTestManager(t)
	client, clientSink := newTestManager(t)

	serverAddr := server.udpConn.LocalAddr().String()

	id, err := client.CreateConnection(context.Background(), sip.ProtoUDP, serverAddr)
	require.NoError(t, err)
	clientSink.waitFor(t, func(e Event) bool { _, ok := e.(Established); return ok }, time.Second)

	req := testRequest()
	require.NoError(t, client.SendRequest(id, req))

	ev := serverSink.waitFor(t, func(e Event) bool { _, ok := e.(IncomingRequest); return ok }, time.Second)
	got := ev.(IncomingRequest)
	assert.Equal(t, sip.OPTIONS, got.Request.Method)
	assert.Equal(t, req.CallID, got.Request.CallID)
}

func TestTCPSendAndReceive(t *testing.T) {
	server, serverSink := newTestManager(t)
	client, _ := newTestManager(t)

	serverAddr := server.tcpListn.Addr().String()

	id, err := client.CreateConnection(context.Background(), sip.ProtoTCP, serverAddr)
	require.NoError(t, err)

	req := testRequest()
	req.Via[0].Transport = sip.ProtoTCP
	require.NoError(t, client.SendRequest(id, req))

	ev := serverSink.waitFor(t, func(e Event) bool { _, ok := e.(IncomingRequest); return ok }, time.Second)
	got := ev.(IncomingRequest)
	assert.Equal(t, sip.OPTIONS, got.Request.Method)
}

func TestSendOnUnconnectedTransportFails(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SendRequest(ID(999), testRequest())
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestTLSCreateConnectionUnsupported(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateConnection(context.Background(), sip.ProtoTLS, "127.0.0.1:5061")
	assert.ErrorIs(t, err, ErrUnsupported)
}
