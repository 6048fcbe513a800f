package sdp

import (
	"strconv"

	pionsdp "github.com/pion/sdp/v3"
)

// Codec names one RTP payload a media line offers, the data model's
// RTP-map triple.
type Codec struct {
	PayloadType int
	Name        string
	ClockRate   int
}

func (c Codec) format() string { return strconv.Itoa(c.PayloadType) }

func (c Codec) rtpmapAttribute() pionsdp.Attribute {
	return pionsdp.Attribute{
		Key:   "rtpmap",
		Value: c.format() + " " + c.Name + "/" + strconv.Itoa(c.ClockRate),
	}
}

// MediaKind is one of the two media types the data model names.
type MediaKind string

const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
)

// MediaSpec is what the TU (really, the media subsystem per spec Section
// 6) declares it is able to send/receive on one media line: the codecs
// it supports, in preference order, and the port to advertise.
type MediaSpec struct {
	Kind      MediaKind
	Port      int
	Codecs    []Codec
	Mandatory bool
}

func findCodec(codecs []Codec, payloadType int) (Codec, bool) {
	for _, c := range codecs {
		if c.PayloadType == payloadType {
			return c, true
		}
	}
	return Codec{}, false
}

func findCodecByName(codecs []Codec, name string) (Codec, bool) {
	for _, c := range codecs {
		if c.Name == name {
			return c, true
		}
	}
	return Codec{}, false
}

// intersect returns the first local codec (in local preference order)
// also present in remoteFormats by payload-type number, matched against
// localCodecs by PayloadType and, failing that, by codec name against
// the already-agreed rtpmap in the offer media (offerRtpNames keyed by
// payload-type string).
func intersect(localCodecs []Codec, remoteFormats []string, offerRtpNames map[string]string) (Codec, bool) {
	for _, local := range localCodecs {
		for _, rf := range remoteFormats {
			pt, err := strconv.Atoi(rf)
			if err != nil {
				continue
			}
			if pt == local.PayloadType {
				return local, true
			}
			if name, ok := offerRtpNames[rf]; ok {
				if c, ok := findCodecByName(localCodecs, name); ok {
					return c, true
				}
			}
		}
	}
	return Codec{}, false
}
