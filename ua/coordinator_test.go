package ua

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	pionstun "github.com/pion/stun/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultravideo/kvazzup/sdp"
	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/transaction"
)

// recordingTU is a TU fake that records every event it receives, used to
// assert on the upward half of the spec's call/register/chat scenarios
// without a real media stack or user interface behind it.
type recordingTU struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTU) OnUAEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingTU) count(pred func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if pred(e) {
			n++
		}
	}
	return n
}

func (r *recordingTU) waitForCount(t *testing.T, pred func(Event) bool, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.count(pred) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for expected ua event count")
}

func (r *recordingTU) waitFor(t *testing.T, pred func(Event) bool, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, e := range r.events {
			if pred(e) {
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for expected ua event")
	return nil
}

func testMediaSpecs() []sdp.MediaSpec {
	return []sdp.MediaSpec{{
		Kind:      sdp.Audio,
		Port:      30000,
		Mandatory: true,
		Codecs:    []sdp.Codec{{PayloadType: 0, Name: "PCMU", ClockRate: 8000}},
	}}
}

// newTestCoordinator binds to a fixed loopback port rather than an
// ephemeral one: Coordinator hides its transport manager, so a caller
// has no way to learn the bound port after the fact short of asking the
// manager directly, which only ListenAddr (added for exactly this)
// exposes once ListenAndServe has already run.
func newTestCoordinator(t *testing.T, port int, user string) (*Coordinator, *recordingTU) {
	t.Helper()
	tu := &recordingTU{}
	self := sip.URI{Scheme: sip.SchemeSIP, User: user, Host: "127.0.0.1", Port: port}
	cfg := Config{
		DisplayName: user,
		LocalURI:    self,
		Contact:     self,
		Transport:   sip.ProtoUDP,
		ListenPort:  port,
		LocalIP:     "127.0.0.1",
		MediaSpecs:  testMediaSpecs(),
	}
	c, err := NewCoordinator(cfg, tu, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.ListenAndServe(ctx))
	t.Cleanup(func() {
		cancel()
		c.Shutdown()
	})
	return c, tu
}

func TestHappyCallEndToEnd(t *testing.T) {
	bob, bobTU := newTestCoordinator(t, 19601, "bob")
	alice, aliceTU := newTestCoordinator(t, 19602, "alice")

	bobURI := sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1", Port: 19601}
	ids := alice.StartCall(context.Background(), []sip.URI{bobURI})
	require.Len(t, ids, 1)
	sid := ids[0]

	ev := bobTU.waitFor(t, func(e Event) bool { _, ok := e.(IncomingCall); return ok }, time.Second)
	incoming := ev.(IncomingCall)
	assert.Equal(t, "alice", incoming.Remote.User)

	require.NoError(t, bob.AcceptCall(incoming.Session))

	aliceTU.waitFor(t, func(e Event) bool { _, ok := e.(PeerAccepted); return ok }, time.Second)
	aliceTU.waitFor(t, func(e Event) bool { _, ok := e.(CallNegotiated); return ok }, time.Second)
	bobTU.waitFor(t, func(e Event) bool { _, ok := e.(CallNegotiated); return ok }, time.Second)

	require.NoError(t, alice.EndCall(sid))
	bobTU.waitFor(t, func(e Event) bool { _, ok := e.(EndCall); return ok }, time.Second)
}

func TestRejectedCallReportsBusy(t *testing.T) {
	bob, bobTU := newTestCoordinator(t, 19605, "bob")
	alice, aliceTU := newTestCoordinator(t, 19606, "alice")

	bobURI := sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1", Port: 19605}
	ids := alice.StartCall(context.Background(), []sip.URI{bobURI})
	require.Len(t, ids, 1)

	ev := bobTU.waitFor(t, func(e Event) bool { _, ok := e.(IncomingCall); return ok }, time.Second)
	incoming := ev.(IncomingCall)
	require.NoError(t, bob.RejectCall(incoming.Session))

	failEv := aliceTU.waitFor(t, func(e Event) bool { _, ok := e.(Failure); return ok }, time.Second)
	assert.Equal(t, "busy", failEv.(Failure).Reason)
}

func TestEndCallDuringEarlyDialogSendsCancel(t *testing.T) {
	bob, bobTU := newTestCoordinator(t, 19607, "bob")
	alice, aliceTU := newTestCoordinator(t, 19608, "alice")

	bobURI := sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1", Port: 19607}
	ids := alice.StartCall(context.Background(), []sip.URI{bobURI})
	require.Len(t, ids, 1)
	sid := ids[0]

	bobTU.waitFor(t, func(e Event) bool { _, ok := e.(IncomingCall); return ok }, time.Second)

	// Give bob's server transaction time to fire its automatic 100
	// Trying (Timer1xx, 200ms): a CANCEL is only meaningful once
	// alice's client transaction has left Calling for Proceeding.
	time.Sleep(250 * time.Millisecond)

	// The dialog is still early (bob has neither accepted nor rejected):
	// end_call must CANCEL the INVITE, not send a BYE that has nothing
	// to terminate.
	require.NoError(t, alice.EndCall(sid))

	aliceEv := aliceTU.waitFor(t, func(e Event) bool { _, ok := e.(Failure); return ok }, time.Second)
	assert.Equal(t, "cancelled", aliceEv.(Failure).Reason)

	bobEv := bobTU.waitFor(t, func(e Event) bool { _, ok := e.(Failure); return ok }, time.Second)
	assert.Equal(t, "cancelled", bobEv.(Failure).Reason)
}

func TestChatMessageRoundTrip(t *testing.T) {
	bob, bobTU := newTestCoordinator(t, 19609, "bob")
	alice, aliceTU := newTestCoordinator(t, 19610, "alice")

	bobURI := sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1", Port: 19609}
	ids := alice.StartCall(context.Background(), []sip.URI{bobURI})
	require.Len(t, ids, 1)
	sid := ids[0]

	ev := bobTU.waitFor(t, func(e Event) bool { _, ok := e.(IncomingCall); return ok }, time.Second)
	incoming := ev.(IncomingCall)
	require.NoError(t, bob.AcceptCall(incoming.Session))
	aliceTU.waitFor(t, func(e Event) bool { _, ok := e.(CallNegotiated); return ok }, time.Second)

	require.NoError(t, alice.SendChatMessage(sid, "hello bob"))
	msgEv := bobTU.waitFor(t, func(e Event) bool { _, ok := e.(ChatMessage); return ok }, time.Second)
	assert.Equal(t, "hello bob", msgEv.(ChatMessage).Text)
}

func TestReInviteRenegotiatesMedia(t *testing.T) {
	bob, bobTU := newTestCoordinator(t, 19611, "bob")
	alice, aliceTU := newTestCoordinator(t, 19612, "alice")

	bobURI := sip.URI{Scheme: sip.SchemeSIP, User: "bob", Host: "127.0.0.1", Port: 19611}
	ids := alice.StartCall(context.Background(), []sip.URI{bobURI})
	require.Len(t, ids, 1)
	sid := ids[0]

	ev := bobTU.waitFor(t, func(e Event) bool { _, ok := e.(IncomingCall); return ok }, time.Second)
	incoming := ev.(IncomingCall)
	require.NoError(t, bob.AcceptCall(incoming.Session))
	aliceTU.waitFor(t, func(e Event) bool { _, ok := e.(CallNegotiated); return ok }, time.Second)
	bobTU.waitFor(t, func(e Event) bool { _, ok := e.(CallNegotiated); return ok }, time.Second)

	s, ok := alice.getSession(sid)
	require.True(t, ok)

	isNegotiated := func(e Event) bool { _, ok := e.(CallNegotiated); return ok }
	before := bobTU.count(isNegotiated)

	reinvite := s.dialog.NewInDialogRequest(sip.INVITE, alice.localSentBy())
	offer := sdp.BuildOffer(alice.cfg.LocalIP, uint64(sid), alice.cfg.MediaSpecs)
	body, err := offer.Marshal()
	require.NoError(t, err)
	reinvite.SetBody(sip.ContentTypeSDP, body)

	sender := alice.transportMgr.SenderFor(s.transportID)
	_, err = alice.txLayer.CreateClientTx(reinvite, sender, func(transaction.ClientEvent) {})
	require.NoError(t, err)

	bobTU.waitForCount(t, isNegotiated, before+1, time.Second)
}

func TestPingSTUNReturnsXorMappedAddress(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1500)
		n, raddr, err := serverConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := new(pionstun.Message)
		req.Raw = append([]byte(nil), buf[:n]...)
		if err := req.Decode(); err != nil {
			return
		}

		resp := new(pionstun.Message)
		resp.Type = pionstun.BindingSuccess
		resp.TransactionID = req.TransactionID
		addr := pionstun.XORMappedAddress{IP: net.ParseIP("203.0.113.5").To4(), Port: 49152}
		_ = addr.AddTo(resp)
		resp.Encode()
		serverConn.WriteToUDP(resp.Raw, raddr)
	}()

	coord, _ := newTestCoordinator(t, 19613, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := coord.PingSTUN(ctx, serverConn.LocalAddr().String())
	require.NoError(t, err)
	assert.Equal(t, 49152, resp.XorMappedPort)
	assert.True(t, net.ParseIP("203.0.113.5").Equal(resp.XorMappedIP))

	<-done
}
