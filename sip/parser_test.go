package sip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvite() *Request {
	req := NewRequest(INVITE, URI{Scheme: SchemeSIP, User: "bob", Host: "biloxi.com"})
	req.Via = []ViaHop{{
		ProtocolVersion: "2.0",
		Transport:       ProtoUDP,
		SentBy:          "pc33.atlanta.com:5060",
		Branch:          GenerateBranch(),
	}}
	req.From = NameAddr{DisplayName: "Alice", URI: URI{Scheme: SchemeSIP, User: "alice", Host: "atlanta.com"}}
	req.From.SetTag(GenerateTag())
	req.To = NameAddr{DisplayName: "Bob", URI: URI{Scheme: SchemeSIP, User: "bob", Host: "biloxi.com"}}
	req.CallID = GenerateCallID("atlanta.com")
	req.CSeq = CSeq{Number: 1, Method: INVITE}
	req.HasMaxFwd = true
	req.MaxForwards = 70
	contact := NameAddr{URI: URI{Scheme: SchemeSIP, User: "alice", Host: "192.0.2.4", Port: 5060}}
	req.Contact = &contact
	req.SetBody(ContentTypeSDP, []byte("v=0\r\n"))
	return req
}

func TestRoundTripRequest(t *testing.T) {
	req := sampleInvite()
	encoded, err := Encode(req)
	require.NoError(t, err)

	decoded, leftover, err := Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, leftover)

	got, ok := decoded.(*Request)
	require.True(t, ok)
	assert.Equal(t, req.Method, got.Method)
	assert.Equal(t, req.RequestURI, got.RequestURI)
	assert.Equal(t, req.CallID, got.CallID)
	assert.Equal(t, req.CSeq, got.CSeq)
	assert.Equal(t, req.Via, got.Via)
	assert.Equal(t, req.Body, got.Body)
	fromTag, _ := req.From.Tag()
	gotTag, _ := got.From.Tag()
	assert.Equal(t, fromTag, gotTag)
}

func TestRoundTripResponse(t *testing.T) {
	req := sampleInvite()
	resp := NewResponse(req, 200, "OK")
	resp.To.SetTag(GenerateTag())
	resp.Contact = req.Contact
	resp.SetBody(ContentTypeSDP, []byte("v=0\r\n"))

	encoded, err := Encode(resp)
	require.NoError(t, err)

	decoded, leftover, err := Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, leftover)

	got, ok := decoded.(*Response)
	require.True(t, ok)
	assert.Equal(t, resp.StatusCode, got.StatusCode)
	assert.Equal(t, resp.Reason, got.Reason)
	assert.Equal(t, resp.CallID, got.CallID)
	assert.Equal(t, resp.CSeq, got.CSeq)
}

func TestDecodeNeedsMoreDataOnTruncatedHeaders(t *testing.T) {
	req := sampleInvite()
	encoded, err := Encode(req)
	require.NoError(t, err)

	for cut := 1; cut < len(encoded); cut++ {
		prefix := encoded[:cut]
		_, leftover, err := Decode(prefix)
		require.Errorf(t, err, "cut=%d should not decode a truncated message", cut)
		assert.True(t, errors.Is(err, ErrNeedMoreData) || errors.Is(err, ErrMalformed),
			"cut=%d produced unexpected error: %v", cut, err)
		if errors.Is(err, ErrNeedMoreData) {
			assert.Equal(t, prefix, leftover, "NeedMoreData must return input untouched, cut=%d", cut)
		}
	}
}

func TestDecodePipelinedMessagesLeavesResidue(t *testing.T) {
	req := sampleInvite()
	encoded, err := Encode(req)
	require.NoError(t, err)

	doubled := append(append([]byte(nil), encoded...), encoded...)
	_, leftover, err := Decode(doubled)
	require.NoError(t, err)
	assert.Equal(t, encoded, leftover)
}

func TestDecodeMalformedMissingRequiredHeader(t *testing.T) {
	raw := "INVITE sip:bob@biloxi.com SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	_, _, err := Decode([]byte(raw))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParseViaBranchMagicCookie(t *testing.T) {
	branch := GenerateBranch()
	assert.Len(t, branch, len(RFC3261BranchMagicCookie)+25)
	assert.Equal(t, RFC3261BranchMagicCookie, branch[:len(RFC3261BranchMagicCookie)])
}
