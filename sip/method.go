package sip

// Method is a SIP request method. The core only ever generates or accepts
// the six methods the dialog/transaction layers understand; anything else
// parses fine (codec is method-agnostic) but has no transaction behaviour.
type Method string

const (
	INVITE   Method = "INVITE"
	ACK      Method = "ACK"
	BYE      Method = "BYE"
	CANCEL   Method = "CANCEL"
	OPTIONS  Method = "OPTIONS"
	REGISTER Method = "REGISTER"
	MESSAGE  Method = "MESSAGE"
)

func (m Method) String() string { return string(m) }

// TransportProto is the wire transport a Via hop travelled over.
type TransportProto string

const (
	ProtoTCP TransportProto = "TCP"
	ProtoUDP TransportProto = "UDP"
	ProtoTLS TransportProto = "TLS"
	ProtoAny TransportProto = "ANY"
)

// ContentType enumerates the two body formats the core understands, plus
// "none" for bodiless messages.
type ContentType int

const (
	ContentTypeNone ContentType = iota
	ContentTypeSDP
	ContentTypeText
	ContentTypeOther
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeSDP:
		return "application/sdp"
	case ContentTypeText:
		return "text/plain"
	case ContentTypeNone:
		return ""
	default:
		return "unknown"
	}
}

func parseContentType(raw string) (ContentType, string) {
	switch raw {
	case "application/sdp":
		return ContentTypeSDP, raw
	case "text/plain":
		return ContentTypeText, raw
	case "":
		return ContentTypeNone, ""
	default:
		return ContentTypeOther, raw
	}
}

// RFC3261BranchMagicCookie prefixes every branch token this core generates,
// letting it recognise its own loops per RFC 3261 Section 8.1.1.7.
const RFC3261BranchMagicCookie = "z9hG4bK"
