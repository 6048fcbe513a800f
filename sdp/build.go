package sdp

import (
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

// Session wraps the pion session description with the handful of pieces
// the rest of the package needs named directly, matching the data
// model's own "SDP session" entry.
type Session struct {
	Desc *pionsdp.SessionDescription
}

// BuildOffer generates a local offer from the TU's declared media specs,
// local address and a caller-supplied monotonic session id/version
// (the data model's Origin fields), per component 4.5.
func BuildOffer(localIP string, sessionID uint64, specs []MediaSpec) Session {
	desc := &pionsdp.SessionDescription{
		Version: 0,
		Origin: pionsdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "kvazzup",
		ConnectionInformation: &pionsdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &pionsdp.Address{Address: localIP},
		},
		TimeDescriptions: []pionsdp.TimeDescription{{Timing: pionsdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	for _, spec := range specs {
		desc.MediaDescriptions = append(desc.MediaDescriptions, buildMediaLine(spec, localIP))
	}
	return Session{Desc: desc}
}

func buildMediaLine(spec MediaSpec, localIP string) *pionsdp.MediaDescription {
	formats := make([]string, 0, len(spec.Codecs))
	attrs := make([]pionsdp.Attribute, 0, len(spec.Codecs)+1)
	for _, c := range spec.Codecs {
		formats = append(formats, c.format())
		attrs = append(attrs, c.rtpmapAttribute())
	}
	attrs = append(attrs, pionsdp.Attribute{Key: "sendrecv"})

	return &pionsdp.MediaDescription{
		MediaName: pionsdp.MediaName{
			Media:   string(spec.Kind),
			Port:    pionsdp.RangedPort{Value: spec.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		ConnectionInformation: &pionsdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &pionsdp.Address{Address: localIP},
		},
		Attributes: attrs,
	}
}

// Marshal serializes the session per RFC 4566.
func (s Session) Marshal() ([]byte, error) { return s.Desc.Marshal() }

// Parse decodes an RFC 4566 SDP body.
func Parse(body []byte) (Session, error) {
	desc := &pionsdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return Session{}, err
	}
	return Session{Desc: desc}, nil
}

// rtpmapNamesByFormat extracts, from a media line's a=rtpmap attributes,
// a format-number -> codec-name map, so the negotiator can match a local
// codec by name against a remote dynamic payload-type assignment it
// never agreed on the number for.
func rtpmapNamesByFormat(media *pionsdp.MediaDescription) map[string]string {
	out := make(map[string]string, len(media.Attributes))
	for _, a := range media.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		fields := strings.SplitN(a.Value, " ", 2)
		if len(fields) != 2 {
			continue
		}
		name := fields[1]
		if slash := strings.IndexByte(name, '/'); slash >= 0 {
			name = name[:slash]
		}
		out[fields[0]] = name
	}
	return out
}

func mediaKindOf(m *pionsdp.MediaDescription) MediaKind { return MediaKind(m.MediaName.Media) }

func portOf(m *pionsdp.MediaDescription) int { return m.MediaName.Port.Value }

func formatsOf(m *pionsdp.MediaDescription) []string { return m.MediaName.Formats }

func connectionAddress(m *pionsdp.MediaDescription, sessionLevel *pionsdp.ConnectionInformation) string {
	if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
		return m.ConnectionInformation.Address.Address
	}
	if sessionLevel != nil && sessionLevel.Address != nil {
		return sessionLevel.Address.Address
	}
	return ""
}

func payloadTypeOf(format string) (int, bool) {
	pt, err := strconv.Atoi(format)
	if err != nil {
		return 0, false
	}
	return pt, true
}
