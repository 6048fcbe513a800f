package transport

import (
	"bytes"
	"net"
	"sync"

	"github.com/ultravideo/kvazzup/sip"
)

type connState int

const (
	stateConnecting connState = iota
	stateConnected
	stateFailed
	stateClosed
)

// conn is one transport instance: a peer address/protocol pin, per the
// spec's "each transport instance is pinned to one peer address/port pair
// and one protocol" rule. TCP connections own a dedicated net.Conn; UDP
// "connections" share the manager's single listening socket and are
// distinguished only by remoteAddr.
type conn struct {
	id        ID
	proto     sip.TransportProto
	localAddr string
	remote    *net.UDPAddr // set for UDP entries only
	remoteStr string

	mu    sync.Mutex
	state connState

	tcp    net.Conn   // set for TCP entries only
	tcpBuf bytes.Buffer
}

func (c *conn) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
