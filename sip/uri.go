package sip

import (
	"strconv"
	"strings"
)

// Scheme is the URI scheme of a SIP address.
type Scheme string

const (
	SchemeSIP  Scheme = "sip"
	SchemeSIPS Scheme = "sips"
	SchemeTel  Scheme = "tel"
)

// URI is a SIP, SIPS or tel URI as used in request lines and address headers.
//
// Host may carry an embedded port (host:port); Port is split out separately
// once parsed so routing code never has to re-split it.
type URI struct {
	Scheme Scheme
	User   string
	Host   string
	Port   int
}

func (u URI) String() string {
	var b strings.Builder
	u.StringWrite(&b)
	return b.String()
}

func (u URI) StringWrite(b *strings.Builder) {
	if u.Scheme == "" {
		b.WriteString(string(SchemeSIP))
	} else {
		b.WriteString(string(u.Scheme))
	}
	b.WriteString(":")
	if u.User != "" {
		b.WriteString(u.User)
		if u.Scheme != SchemeTel {
			b.WriteString("@")
		} else {
			// tel URIs have no host part; user is the whole number
			return
		}
	}
	b.WriteString(u.Host)
	if u.Port > 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(u.Port))
	}
}

// HostPort returns Host and Port combined, "host:port" or just "host".
func (u URI) HostPort() string {
	if u.Port > 0 {
		return u.Host + ":" + strconv.Itoa(u.Port)
	}
	return u.Host
}

// ParseURI parses "scheme:user@host:port" (tel URIs are "tel:number").
func ParseURI(raw string) (URI, error) {
	raw = strings.TrimSpace(raw)
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return URI{}, newMalformed("uri missing scheme: %q", raw)
	}
	scheme := Scheme(strings.ToLower(raw[:colon]))
	switch scheme {
	case SchemeSIP, SchemeSIPS, SchemeTel:
	default:
		return URI{}, newMalformed("unsupported uri scheme: %q", scheme)
	}
	rest := raw[colon+1:]

	if scheme == SchemeTel {
		return URI{Scheme: scheme, User: rest}, nil
	}

	user := ""
	hostport := rest
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		user = rest[:at]
		hostport = rest[at+1:]
	}

	host := hostport
	port := 0
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		if p, err := strconv.Atoi(hostport[i+1:]); err == nil {
			host = hostport[:i]
			port = p
		}
	}
	if host == "" {
		return URI{}, newMalformed("uri missing host: %q", raw)
	}
	return URI{Scheme: scheme, User: user, Host: host, Port: port}, nil
}
