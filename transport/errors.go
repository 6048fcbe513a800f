package transport

import (
	"errors"
	"time"
)

var (
	// ErrUnconnected is returned by SendRequest/SendResponse when the named
	// transport is not currently in the Connected state.
	ErrUnconnected = errors.New("transport: unconnected")
	// ErrSerialization is returned when sip.Encode fails for an outbound
	// message.
	ErrSerialization = errors.New("transport: serialization failed")
	// ErrUnknownTransport is returned when the caller names a transport ID
	// the manager has no record of.
	ErrUnknownTransport = errors.New("transport: unknown transport id")
	// ErrUnsupported is returned for TLS, which the wire schema reserves a
	// slot for but which this core does not implement.
	ErrUnsupported = errors.New("transport: unsupported protocol")
)

const (
	// connectTimeout bounds how long CreateConnection waits for a TCP
	// handshake before reporting Failed.
	connectTimeout = 5 * time.Second
	// readTimeout is long enough that transaction-layer timers fire first;
	// it exists only to recycle stuck sockets, not to bound protocol time.
	readTimeout = 5 * time.Minute
	// maxUDPDatagram is RFC 3261 Section 18.1.1's recommended ceiling before
	// a UDP send should really have gone over TCP.
	maxUDPDatagram = 1300
	// udpRecvBufferSize is large enough for any legal UDP payload; receivers
	// must never truncate.
	udpRecvBufferSize = 65535
)
