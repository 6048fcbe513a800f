package sip

import (
	"strconv"
	"strings"
)

// NameAddr is the value shape shared by To, From and Contact: an optional
// display name around a URI, plus trailing parameters (most notably "tag").
type NameAddr struct {
	DisplayName string
	URI         URI
	Params      Params
}

func (n NameAddr) Tag() (string, bool) {
	return n.Params.Get("tag")
}

func (n *NameAddr) SetTag(tag string) {
	n.Params.Set("tag", tag)
}

func (n NameAddr) StringWrite(b *strings.Builder) {
	if n.DisplayName != "" {
		b.WriteString(`"`)
		b.WriteString(n.DisplayName)
		b.WriteString(`" `)
	}
	b.WriteString("<")
	n.URI.StringWrite(b)
	b.WriteString(">")
	if n.Params.Len() > 0 {
		b.WriteString(";")
		n.Params.StringWrite(b)
	}
}

func (n NameAddr) String() string {
	var b strings.Builder
	n.StringWrite(&b)
	return b.String()
}

// ViaHop is one hop of a Via header. Via hops accumulate in arrival order;
// index 0 of Common.Via is the topmost (most recently added) hop.
type ViaHop struct {
	ProtocolVersion string // "2.0"
	Transport       TransportProto
	SentBy          string // host[:port]
	Branch          string
	Params          Params
}

func (v ViaHop) StringWrite(b *strings.Builder) {
	b.WriteString("SIP/")
	if v.ProtocolVersion == "" {
		b.WriteString("2.0")
	} else {
		b.WriteString(v.ProtocolVersion)
	}
	b.WriteString("/")
	b.WriteString(string(v.Transport))
	b.WriteString(" ")
	b.WriteString(v.SentBy)
	if v.Branch != "" {
		b.WriteString(";branch=")
		b.WriteString(v.Branch)
	}
	if v.Params.Len() > 0 {
		b.WriteString(";")
		v.Params.StringWrite(b)
	}
}

func (v ViaHop) String() string {
	var b strings.Builder
	v.StringWrite(&b)
	return b.String()
}

// CSeq is the numbered-method pair that orders requests within a dialog.
type CSeq struct {
	Number uint32 // must fit 31 bits, enforced by the parser
	Method Method
}

// ExtraHeader preserves an unrecognised header verbatim, in arrival order.
type ExtraHeader struct {
	Name  string
	Value string
}

// Common holds the header fields shared by every SIP request and response.
type Common struct {
	Version       string // "2.0"
	MaxForwards   uint32
	HasMaxFwd     bool
	CallID        string
	From          NameAddr
	To            NameAddr
	Via           []ViaHop
	Contact       *NameAddr
	CSeq          CSeq
	ContentType   ContentType
	ContentTypeRaw string
	Body          []byte
	Extra         []ExtraHeader

	// internal routing metadata, never serialized
	Transport  string
	SourceAddr string
	DestAddr   string
}

func (c *Common) ContentLength() uint32 { return uint32(len(c.Body)) }

// TopVia returns the most recently added Via hop, or zero value if none.
func (c *Common) TopVia() (ViaHop, bool) {
	if len(c.Via) == 0 {
		return ViaHop{}, false
	}
	return c.Via[0], true
}

// PushVia prepends a Via hop, making it the new topmost hop.
func (c *Common) PushVia(v ViaHop) {
	c.Via = append([]ViaHop{v}, c.Via...)
}

// PopVia removes the topmost Via hop, as done when forwarding a request.
func (c *Common) PopVia() {
	if len(c.Via) > 0 {
		c.Via = c.Via[1:]
	}
}

func (c *Common) SetBody(ct ContentType, body []byte) {
	c.ContentType = ct
	c.ContentTypeRaw = ct.String()
	c.Body = body
}

// Request is a SIP request message.
type Request struct {
	Common
	Method     Method
	RequestURI URI
}

func (r *Request) IsInvite() bool { return r.Method == INVITE }
func (r *Request) IsAck() bool    { return r.Method == ACK }
func (r *Request) IsCancel() bool { return r.Method == CANCEL }

func (r *Request) StartLine() string {
	var b strings.Builder
	r.StartLineWrite(&b)
	return b.String()
}

func (r *Request) StartLineWrite(b *strings.Builder) {
	b.WriteString(string(r.Method))
	b.WriteString(" ")
	r.RequestURI.StringWrite(b)
	b.WriteString(" SIP/2.0")
}

func (r *Request) Short() string {
	return r.StartLine() + " (" + r.CallID + ")"
}

// Response is a SIP response message.
type Response struct {
	Common
	StatusCode int
	Reason     string
}

func (r *Response) IsProvisional() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }
func (r *Response) IsSuccess() bool     { return r.StatusCode >= 200 && r.StatusCode < 300 }
func (r *Response) IsFinal() bool       { return r.StatusCode >= 200 }

func (r *Response) StartLine() string {
	var b strings.Builder
	r.StartLineWrite(&b)
	return b.String()
}

func (r *Response) StartLineWrite(b *strings.Builder) {
	b.WriteString("SIP/2.0 ")
	b.WriteString(strconv.Itoa(r.StatusCode))
	b.WriteString(" ")
	b.WriteString(r.Reason)
}

func (r *Response) Short() string {
	return r.StartLine() + " (" + r.CallID + ")"
}
