package transaction

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ultravideo/kvazzup/sip"
)

// fakeSender records every message handed to it instead of touching the
// network, and lets tests flip reliability to exercise the UDP vs TCP timer
// branches.
type fakeSender struct {
	mu        sync.Mutex
	reliable  bool
	requests  []*sip.Request
	responses []*sip.Response
	failNext  error
}

func (f *fakeSender) SendRequest(req *sip.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeSender) SendResponse(resp *sip.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSender) Reliable() bool { return f.reliable }

func (f *fakeSender) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSender) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses)
}

func testInvite() *sip.Request {
	req := sip.NewRequest(sip.INVITE, sip.URI{Scheme: sip.SchemeSIP, Host: "biloxi.com"})
	req.CallID = "call-1@atlanta.com"
	req.From = sip.NameAddr{URI: sip.URI{Scheme: sip.SchemeSIP, Host: "atlanta.com", User: "alice"}}
	req.From.SetTag("fromtag")
	req.To = sip.NameAddr{URI: sip.URI{Scheme: sip.SchemeSIP, Host: "biloxi.com", User: "bob"}}
	req.CSeq = sip.CSeq{Number: 1, Method: sip.INVITE}
	req.HasMaxFwd = true
	req.MaxForwards = 70
	req.PushVia(sip.ViaHop{Transport: sip.ProtoUDP, SentBy: "atlanta.com:5060", Branch: sip.GenerateBranch()})
	return req
}

func testRegister() *sip.Request {
	req := testInvite()
	req.Method = sip.REGISTER
	req.CSeq = sip.CSeq{Number: 1, Method: sip.REGISTER}
	return req
}

func useFastTimers(t *testing.T) {
	t.Helper()
	origT1, origT2, origT4 := T1, T2, T4
	SetTimers(10*time.Millisecond, 40*time.Millisecond, 20*time.Millisecond)
	Timer1xx = 5 * time.Millisecond
	t.Cleanup(func() { SetTimers(origT1, origT2, origT4) })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestClientInviteTerminatesOn2xx(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()

	var events []ClientEvent
	var mu sync.Mutex
	layer := NewLayer(zerolog.Nop())
	tx, err := layer.CreateClientTx(req, sender, func(e ClientEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, clientCalling, tx.State())

	ok := sip.NewResponse(req, 200, "OK")
	tx.Receive(ok)

	assert.Equal(t, clientTerminated, tx.State())
	waitFor(t, time.Second, func() bool { return layer.ClientTxCount() == 0 })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	_, isFinal := events[0].(Final)
	assert.True(t, isFinal)
}

func TestClientInviteSendsAckOnNon2xxAndReachesTerminatedViaTimerD(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	tx, err := layer.CreateClientTx(req, sender, nil)
	require.NoError(t, err)

	busy := sip.NewResponse(req, 486, "Busy Here")
	tx.Receive(busy)

	assert.Equal(t, clientCompleted, tx.State())
	require.Equal(t, 2, sender.requestCount()) // INVITE + ACK
	assert.Equal(t, sip.ACK, sender.requests[1].Method)

	waitFor(t, time.Second, func() bool { return tx.State() == clientTerminated })
}

func TestClientInviteRetransmitsOnTimerAWhenUnreliable(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	_, err := layer.CreateClientTx(req, sender, nil)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return sender.requestCount() >= 3 })
}

func TestClientInviteNoRetransmitWhenReliable(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: true}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	_, err := layer.CreateClientTx(req, sender, nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, sender.requestCount())
}

func TestClientNonInviteCompletesAndTerminates(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testRegister()
	layer := NewLayer(zerolog.Nop())

	var events []ClientEvent
	tx, err := layer.CreateClientTx(req, sender, func(e ClientEvent) { events = append(events, e) })
	require.NoError(t, err)

	ok := sip.NewResponse(req, 200, "OK")
	tx.Receive(ok)
	assert.Equal(t, clientCompleted, tx.State())

	waitFor(t, time.Second, func() bool { return tx.State() == clientTerminated })
	require.Len(t, events, 1)
}

func TestClientCancelOnlyLegalWhileProceeding(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	tx, err := layer.CreateClientTx(req, sender, nil)
	require.NoError(t, err)

	assert.Nil(t, tx.Cancel(), "CANCEL illegal before a provisional arrives")

	ringing := sip.NewResponse(req, 180, "Ringing")
	tx.Receive(ringing)
	cancel := tx.Cancel()
	require.NotNil(t, cancel)
	assert.Equal(t, sip.CANCEL, cancel.Method)

	ok := sip.NewResponse(req, 200, "OK")
	tx.Receive(ok)
	assert.Nil(t, tx.Cancel(), "CANCEL illegal once a 2xx has terminated the transaction")
}

func TestServerInviteAutoSends100TryingAfterTimer1xx(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	tx, err := layer.CreateServerTx(req, sender, nil)
	require.NoError(t, err)
	_ = tx

	waitFor(t, time.Second, func() bool { return sender.responseCount() >= 1 })
	assert.Equal(t, 100, sender.responses[0].StatusCode)
}

func TestServerInviteSkipsAuto100WhenTUAnswersFirst(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	tx, err := layer.CreateServerTx(req, sender, nil)
	require.NoError(t, err)

	ringing := sip.NewResponse(req, 180, "Ringing")
	require.NoError(t, tx.Respond(ringing))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, sender.responseCount())
	assert.Equal(t, 180, sender.responses[0].StatusCode)
}

func TestServerInviteTerminatesImmediatelyOn2xx(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	tx, err := layer.CreateServerTx(req, sender, nil)
	require.NoError(t, err)

	ok := sip.NewResponse(req, 200, "OK")
	require.NoError(t, tx.Respond(ok))
	assert.Equal(t, serverTerminated, tx.State())
	waitFor(t, time.Second, func() bool { return layer.ServerTxCount() == 0 })
}

func TestServerInviteRetransmitsOnRequestRetransmitAndConfirmsOnAck(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testInvite()
	layer := NewLayer(zerolog.Nop())

	var events []ServerEvent
	tx, err := layer.CreateServerTx(req, sender, func(e ServerEvent) { events = append(events, e) })
	require.NoError(t, err)

	busy := sip.NewResponse(req, 486, "Busy Here")
	require.NoError(t, tx.Respond(busy))
	assert.Equal(t, serverCompleted, tx.State())

	// Retransmitted INVITE should get the final response resent.
	before := sender.responseCount()
	newTx, isNew := layer.HandleRequest(req)
	assert.False(t, isNew)
	assert.Same(t, tx, newTx)
	assert.Greater(t, sender.responseCount(), before)

	ack := sip.NewAckForNon2xx(req, busy)
	matched, isNewAck := layer.HandleRequest(ack)
	assert.False(t, isNewAck)
	assert.Same(t, tx, matched)
	assert.Equal(t, serverConfirmed, tx.State())

	waitFor(t, time.Second, func() bool { return tx.State() == serverTerminated })

	var sawAck bool
	for _, e := range events {
		if _, ok := e.(AckReceived); ok {
			sawAck = true
		}
	}
	assert.True(t, sawAck)
}

func TestServerNonInviteCompletesAndTerminates(t *testing.T) {
	useFastTimers(t)
	sender := &fakeSender{reliable: false}
	req := testRegister()
	layer := NewLayer(zerolog.Nop())

	tx, err := layer.CreateServerTx(req, sender, nil)
	require.NoError(t, err)

	ok := sip.NewResponse(req, 200, "OK")
	require.NoError(t, tx.Respond(ok))
	assert.Equal(t, serverCompleted, tx.State())

	waitFor(t, time.Second, func() bool { return tx.State() == serverTerminated })
}

func TestLayerHandleResponseDropsUnmatched(t *testing.T) {
	layer := NewLayer(zerolog.Nop())
	req := testInvite()
	resp := sip.NewResponse(req, 200, "OK")
	assert.False(t, layer.HandleResponse(resp))
}

// TestClientInviteFSMFuzzReachesTerminatedQuickly feeds a client INVITE
// transaction every response shape RFC 3261 Section 17.1.1 distinguishes,
// in every order, and checks each reaches Terminated well inside 64*T1.
func TestClientInviteFSMFuzzReachesTerminatedQuickly(t *testing.T) {
	useFastTimers(t)
	sequences := [][]int{
		{180, 200},
		{100, 180, 486},
		{486},
		{180, 180, 200},
		{503},
		{100, 200},
	}

	for _, seq := range sequences {
		sender := &fakeSender{reliable: false}
		req := testInvite()
		layer := NewLayer(zerolog.Nop())
		tx, err := layer.CreateClientTx(req, sender, nil)
		require.NoError(t, err)

		for _, code := range seq {
			reason := "Provisional"
			if code >= 200 {
				reason = "Final"
			}
			tx.Receive(sip.NewResponse(req, code, reason))
		}

		waitFor(t, 64*T1, func() bool { return tx.State() == clientTerminated })
	}
}
