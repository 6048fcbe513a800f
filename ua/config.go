package ua

import (
	"github.com/ultravideo/kvazzup/sdp"
	"github.com/ultravideo/kvazzup/sip"
)

// Config is the TU-supplied startup configuration (component 6:
// "the TU supplies local name/username at startup; the core neither
// reads nor writes config").
type Config struct {
	DisplayName string
	LocalURI    sip.URI
	Contact     sip.URI
	Transport   sip.TransportProto
	ListenPort  int
	LocalIP     string

	// MediaSpecs describes what the media subsystem can send/receive,
	// used both to build outbound offers and to answer inbound ones.
	MediaSpecs []sdp.MediaSpec
}

func (c Config) localNameAddr() sip.NameAddr {
	return sip.NameAddr{DisplayName: c.DisplayName, URI: c.LocalURI}
}
