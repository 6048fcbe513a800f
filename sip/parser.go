package sip

import (
	"strconv"
	"strings"
)

const headerTerminator = "\r\n\r\n"

// Decode parses exactly one SIP message (request or response) from the
// front of buf and returns the remaining bytes, which may contain the start
// of a subsequent pipelined message (TCP framing) or be empty (UDP).
//
// Decode never blocks and never panics on truncated input: a message that
// isn't fully buffered yet reports ErrNeedMoreData with buf returned
// untouched, so the caller can retry once more bytes arrive.
func Decode(buf []byte) (msg any, leftover []byte, err error) {
	idx := strings.Index(string(buf), headerTerminator)
	if idx < 0 {
		return nil, buf, ErrNeedMoreData
	}

	head := string(buf[:idx])
	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, nil, newMalformed("empty start line")
	}

	common := Common{}
	var req *Request
	var resp *Response

	if strings.HasPrefix(lines[0], "SIP/") {
		r, err := parseStatusLine(lines[0])
		if err != nil {
			return nil, nil, err
		}
		resp = r
	} else {
		r, err := parseRequestLine(lines[0])
		if err != nil {
			return nil, nil, err
		}
		req = r
	}

	var contentLength uint32
	haveContentLength := false

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, nil, newMalformed("malformed header line: %q", line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])

		switch canonicalHeaderName(name) {
		case "via":
			via, err := parseVia(value)
			if err != nil {
				return nil, nil, err
			}
			common.Via = append(common.Via, via)
		case "from":
			na, err := parseNameAddr(value)
			if err != nil {
				return nil, nil, err
			}
			common.From = na
		case "to":
			na, err := parseNameAddr(value)
			if err != nil {
				return nil, nil, err
			}
			common.To = na
		case "contact":
			na, err := parseNameAddr(value)
			if err != nil {
				return nil, nil, err
			}
			common.Contact = &na
		case "call-id":
			common.CallID = value
		case "cseq":
			cseq, err := parseCSeq(value)
			if err != nil {
				return nil, nil, err
			}
			common.CSeq = cseq
		case "max-forwards":
			mf, err := parseMaxForwards(value)
			if err != nil {
				return nil, nil, err
			}
			common.MaxForwards = mf
			common.HasMaxFwd = true
		case "content-type":
			ct, raw := parseContentType(value)
			common.ContentType = ct
			common.ContentTypeRaw = raw
		case "content-length":
			cl, err := parseContentLength(value)
			if err != nil {
				return nil, nil, err
			}
			contentLength = cl
			haveContentLength = true
		default:
			common.Extra = append(common.Extra, ExtraHeader{Name: name, Value: value})
		}
	}

	if req != nil {
		if err := validateRequestHeaders(&common); err != nil {
			return nil, nil, err
		}
	} else {
		if err := validateResponseHeaders(&common); err != nil {
			return nil, nil, err
		}
	}

	bodyStart := idx + len(headerTerminator)
	if !haveContentLength {
		contentLength = 0
	}
	bodyEnd := bodyStart + int(contentLength)
	if len(buf) < bodyEnd {
		return nil, buf, ErrNeedMoreData
	}

	common.Body = append([]byte(nil), buf[bodyStart:bodyEnd]...)
	leftover = buf[bodyEnd:]

	if req != nil {
		req.Common = common
		return req, leftover, nil
	}
	resp.Common = common
	return resp, leftover, nil
}

func canonicalHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "via", "v":
		return "via"
	case "from", "f":
		return "from"
	case "to", "t":
		return "to"
	case "contact", "m":
		return "contact"
	case "call-id", "i":
		return "call-id"
	case "cseq":
		return "cseq"
	case "max-forwards":
		return "max-forwards"
	case "content-type", "c":
		return "content-type"
	case "content-length", "l":
		return "content-length"
	default:
		return strings.ToLower(name)
	}
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, newMalformed("malformed request line: %q", line)
	}
	uri, err := ParseURI(parts[1])
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(parts[2], "SIP/") {
		return nil, newMalformed("malformed sip version: %q", parts[2])
	}
	return &Request{
		Method:     Method(parts[0]),
		RequestURI: uri,
		Common:     Common{Version: strings.TrimPrefix(parts[2], "SIP/")},
	}, nil
}

func parseStatusLine(line string) (*Response, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, newMalformed("malformed status line: %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 699 {
		return nil, newMalformed("malformed status code: %q", parts[1])
	}
	return &Response{
		StatusCode: code,
		Reason:     parts[2],
		Common:     Common{Version: strings.TrimPrefix(parts[0], "SIP/")},
	}, nil
}

func validateRequestHeaders(c *Common) error {
	var missing []string
	if c.CallID == "" {
		missing = append(missing, "Call-ID")
	}
	if c.From.URI.Host == "" && c.From.URI.User == "" {
		missing = append(missing, "From")
	}
	if c.To.URI.Host == "" && c.To.URI.User == "" {
		missing = append(missing, "To")
	}
	if c.CSeq.Method == "" {
		missing = append(missing, "CSeq")
	}
	if len(c.Via) == 0 {
		missing = append(missing, "Via")
	}
	if !c.HasMaxFwd {
		missing = append(missing, "Max-Forwards")
	}
	if len(missing) > 0 {
		return newMalformed("missing required header(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func validateResponseHeaders(c *Common) error {
	var missing []string
	if c.CallID == "" {
		missing = append(missing, "Call-ID")
	}
	if c.From.URI.Host == "" && c.From.URI.User == "" {
		missing = append(missing, "From")
	}
	if c.To.URI.Host == "" && c.To.URI.User == "" {
		missing = append(missing, "To")
	}
	if c.CSeq.Method == "" {
		missing = append(missing, "CSeq")
	}
	if len(c.Via) == 0 {
		missing = append(missing, "Via")
	}
	if len(missing) > 0 {
		return newMalformed("missing required header(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
