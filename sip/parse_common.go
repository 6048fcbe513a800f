package sip

import (
	"strconv"
	"strings"
)

// parseNameAddr parses the value of a To/From/Contact header:
// `"realname"? <scheme:user@host>[;params]` or the bare-URI shorthand
// `scheme:user@host[;params]` that RFC 3261 also permits without brackets.
func parseNameAddr(value string) (NameAddr, error) {
	value = strings.TrimSpace(value)
	var display string

	if strings.HasPrefix(value, `"`) {
		end := strings.Index(value[1:], `"`)
		if end < 0 {
			return NameAddr{}, newMalformed("unterminated display name: %q", value)
		}
		display = value[1 : end+1]
		value = strings.TrimSpace(value[end+2:])
	}

	var uriPart, paramPart string
	if strings.HasPrefix(value, "<") {
		end := strings.IndexByte(value, '>')
		if end < 0 {
			return NameAddr{}, newMalformed("unterminated uri brackets: %q", value)
		}
		uriPart = value[1:end]
		paramPart = value[end+1:]
	} else {
		// bare URI form: split at first ';' for params
		if i := strings.IndexByte(value, ';'); i >= 0 {
			uriPart = value[:i]
			paramPart = value[i:]
		} else {
			uriPart = value
		}
		if display == "" {
			// plain token before the URI with no brackets is not legal without
			// brackets; nothing to strip here since uriPart is the whole value.
		}
	}

	uri, err := ParseURI(strings.TrimSpace(uriPart))
	if err != nil {
		return NameAddr{}, err
	}

	return NameAddr{
		DisplayName: display,
		URI:         uri,
		Params:      parseParams(strings.TrimSpace(paramPart)),
	}, nil
}

// parseVia parses one "SIP/2.0/UDP host:port;branch=...;..." Via value.
// Multiple Via headers in one message are parsed as separate header lines
// (comma-separated Via values within a single line are not produced by this
// core and are rejected as malformed).
func parseVia(value string) (ViaHop, error) {
	value = strings.TrimSpace(value)
	sp := strings.IndexAny(value, " \t")
	if sp < 0 {
		return ViaHop{}, newMalformed("malformed via: %q", value)
	}
	sentProtocol := value[:sp]
	rest := strings.TrimSpace(value[sp+1:])

	parts := strings.Split(sentProtocol, "/")
	if len(parts) != 3 || !strings.EqualFold(parts[0], "SIP") {
		return ViaHop{}, newMalformed("malformed via protocol: %q", sentProtocol)
	}

	sentBy := rest
	paramPart := ""
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		sentBy = rest[:i]
		paramPart = rest[i:]
	}
	params := parseParams(paramPart)
	branch, _ := params.Get("branch")

	return ViaHop{
		ProtocolVersion: parts[1],
		Transport:       TransportProto(strings.ToUpper(parts[2])),
		SentBy:          strings.TrimSpace(sentBy),
		Branch:          branch,
		Params:          params,
	}, nil
}

// parseCSeq parses "number SP method"; number must fit in 31 bits.
func parseCSeq(value string) (CSeq, error) {
	value = strings.TrimSpace(value)
	sp := strings.IndexAny(value, " \t")
	if sp < 0 {
		return CSeq{}, newMalformed("malformed cseq: %q", value)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(value[:sp]), 10, 32)
	if err != nil || n > 0x7FFFFFFF {
		return CSeq{}, newMalformed("malformed cseq number: %q", value)
	}
	method := strings.TrimSpace(value[sp+1:])
	return CSeq{Number: uint32(n), Method: Method(method)}, nil
}

func parseMaxForwards(value string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, newMalformed("malformed max-forwards: %q", value)
	}
	return uint32(n), nil
}

func parseContentLength(value string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, newMalformed("malformed content-length: %q", value)
	}
	return uint32(n), nil
}
