package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pcma = Codec{PayloadType: 8, Name: "PCMA", ClockRate: 8000}
var pcmu = Codec{PayloadType: 0, Name: "PCMU", ClockRate: 8000}
var h264 = Codec{PayloadType: 97, Name: "H264", ClockRate: 90000}

func TestBuildOfferRoundTrips(t *testing.T) {
	offer := BuildOffer("192.168.1.5", 42, []MediaSpec{
		{Kind: Audio, Port: 21500, Codecs: []Codec{pcma, pcmu}, Mandatory: true},
	})

	raw, err := offer.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Desc.MediaDescriptions, 1)
	assert.Equal(t, "audio", parsed.Desc.MediaDescriptions[0].MediaName.Media)
	assert.Equal(t, []string{"8", "0"}, parsed.Desc.MediaDescriptions[0].MediaName.Formats)
}

func TestNegotiateSelectsOneCommonCodec(t *testing.T) {
	offer := BuildOffer("203.0.113.5", 1, []MediaSpec{
		{Kind: Audio, Port: 30000, Codecs: []Codec{pcmu, pcma}, Mandatory: true},
	})

	answer, err := Negotiate(offer, "198.51.100.9", 2, []MediaSpec{
		{Kind: Audio, Port: 21500, Codecs: []Codec{pcma, h264}, Mandatory: true},
	})
	require.NoError(t, err)
	require.Len(t, answer.Desc.MediaDescriptions, 1)
	assert.Equal(t, []string{"8"}, answer.Desc.MediaDescriptions[0].MediaName.Formats)
}

func TestNegotiateRejectsEmptyMandatoryIntersection(t *testing.T) {
	offer := BuildOffer("203.0.113.5", 1, []MediaSpec{
		{Kind: Audio, Port: 30000, Codecs: []Codec{pcmu}, Mandatory: true},
	})

	_, err := Negotiate(offer, "198.51.100.9", 2, []MediaSpec{
		{Kind: Audio, Port: 21500, Codecs: []Codec{h264}, Mandatory: true},
	})
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestNegotiateOmitsNonMandatoryUnmatchedMedia(t *testing.T) {
	offer := BuildOffer("203.0.113.5", 1, []MediaSpec{
		{Kind: Audio, Port: 30000, Codecs: []Codec{pcma}, Mandatory: true},
	})

	answer, err := Negotiate(offer, "198.51.100.9", 2, []MediaSpec{
		{Kind: Audio, Port: 21500, Codecs: []Codec{pcma}, Mandatory: true},
		{Kind: Video, Port: 22000, Codecs: []Codec{h264}, Mandatory: false},
	})
	require.NoError(t, err)
	require.Len(t, answer.Desc.MediaDescriptions, 1, "video has no match in the offer and is optional")
}

func TestReNegotiatePreservesUnchangedMedia(t *testing.T) {
	offer1 := BuildOffer("203.0.113.5", 1, []MediaSpec{
		{Kind: Audio, Port: 30000, Codecs: []Codec{pcma}, Mandatory: true},
	})
	answer1, err := Negotiate(offer1, "198.51.100.9", 2, []MediaSpec{
		{Kind: Audio, Port: 21500, Codecs: []Codec{pcma}, Mandatory: true},
	})
	require.NoError(t, err)

	// Re-INVITE narrows the codec set to the same codec (PCMA).
	offer2 := BuildOffer("203.0.113.5", 3, []MediaSpec{
		{Kind: Audio, Port: 30000, Codecs: []Codec{pcma}, Mandatory: true},
	})
	answer2, err := ReNegotiate(answer1, offer2, "198.51.100.9", 4, []MediaSpec{
		{Kind: Audio, Port: 21500, Codecs: []Codec{pcma}, Mandatory: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 21500, answer2.Desc.MediaDescriptions[0].MediaName.Port.Value)
}

func TestRemoteConnectionAddressFallsBackToSessionLevel(t *testing.T) {
	offer := BuildOffer("203.0.113.5", 1, []MediaSpec{
		{Kind: Audio, Port: 30000, Codecs: []Codec{pcma}, Mandatory: true},
	})
	offer.Desc.MediaDescriptions[0].ConnectionInformation = nil

	addr, port, ok := RemoteConnectionAddress(offer, Audio)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.5", addr)
	assert.Equal(t, 30000, port)
}
