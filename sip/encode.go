package sip

import (
	"strconv"
	"strings"
)

// Encode serializes a *Request or *Response into wire bytes. Header order
// is canonical (Via hops first in topmost-first order, then From/To/CSeq/
// Call-ID/Max-Forwards/Contact/Content-Type/Content-Length, then any
// preserved unknown headers) regardless of how the message was built or
// decoded; Decode(Encode(m)) reproduces the same field values even though
// byte-for-byte header ordering is not preserved.
func Encode(msg any) ([]byte, error) {
	var b strings.Builder

	switch m := msg.(type) {
	case *Request:
		m.StartLineWrite(&b)
		b.WriteString("\r\n")
		encodeCommon(&b, &m.Common, true)
	case *Response:
		m.StartLineWrite(&b)
		b.WriteString("\r\n")
		encodeCommon(&b, &m.Common, false)
	default:
		return nil, newMalformed("encode: unsupported message type %T", msg)
	}

	out := []byte(b.String())
	return out, nil
}

func encodeCommon(b *strings.Builder, c *Common, isRequest bool) {
	for _, via := range c.Via {
		b.WriteString("Via: ")
		via.StringWrite(b)
		b.WriteString("\r\n")
	}

	b.WriteString("From: ")
	c.From.StringWrite(b)
	b.WriteString("\r\n")

	b.WriteString("To: ")
	c.To.StringWrite(b)
	b.WriteString("\r\n")

	b.WriteString("CSeq: ")
	b.WriteString(strconv.FormatUint(uint64(c.CSeq.Number), 10))
	b.WriteString(" ")
	b.WriteString(string(c.CSeq.Method))
	b.WriteString("\r\n")

	b.WriteString("Call-ID: ")
	b.WriteString(c.CallID)
	b.WriteString("\r\n")

	if isRequest {
		b.WriteString("Max-Forwards: ")
		b.WriteString(strconv.FormatUint(uint64(c.MaxForwards), 10))
		b.WriteString("\r\n")
	}

	if c.Contact != nil {
		b.WriteString("Contact: ")
		c.Contact.StringWrite(b)
		b.WriteString("\r\n")
	}

	if c.ContentType != ContentTypeNone {
		b.WriteString("Content-Type: ")
		b.WriteString(c.ContentType.String())
		b.WriteString("\r\n")
	}

	b.WriteString("Content-Length: ")
	b.WriteString(strconv.FormatUint(uint64(c.ContentLength()), 10))
	b.WriteString("\r\n")

	for _, h := range c.Extra {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	b.Write(c.Body)
}
