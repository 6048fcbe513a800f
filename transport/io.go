package transport

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/ultravideo/kvazzup/sip"
)

func (m *Manager) readUDPLoop(ctx context.Context) {
	buf := make([]byte, udpRecvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.udpConn.SetReadDeadline(deadlineFromNow(readTimeout))
		n, raddr, err := m.udpConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if isTimeout(err) {
				continue
			}
			m.log.Warn().Err(err).Msg("udp read error")
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		remote := raddr.String()
		id, createErr := m.createUDP(remote)
		if createErr != nil {
			m.log.Warn().Err(createErr).Str("remote", remote).Msg("failed to register inbound udp peer")
			continue
		}

		m.decodeAndDispatch(id, datagram)
	}
}

func (m *Manager) acceptTCPLoop(ctx context.Context) {
	for {
		nc, err := m.tcpListn.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.log.Warn().Err(err).Msg("tcp accept error")
			continue
		}

		remote := nc.RemoteAddr().String()
		id := m.allocID()
		c := &conn{
			id:        id,
			proto:     sip.ProtoTCP,
			remoteStr: remote,
			localAddr: nc.LocalAddr().String(),
			tcp:       nc,
		}
		c.setState(stateConnected)

		m.mu.Lock()
		m.conns[id] = c
		m.byRemote[m.remoteKey(sip.ProtoTCP, remote)] = id
		m.mu.Unlock()

		m.sink.OnTransportEvent(Established{ID: id, LocalAddr: c.localAddr, RemoteAddr: remote})
		go m.readTCPConn(ctx, c)
	}
}

// readTCPConn implements the SIP-over-TCP framing rule: buffer bytes until
// the header terminator and declared Content-Length are both present,
// yield exactly one message, and retain any residue for the next message
// (pipelining).
func (m *Manager) readTCPConn(ctx context.Context, c *conn) {
	readBuf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.tcp.SetReadDeadline(deadlineFromNow(readTimeout))
		n, err := c.tcp.Read(readBuf)
		if n > 0 {
			c.tcpBuf.Write(readBuf[:n])
			m.drainTCPBuffer(c)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				m.fail(c, err)
				return
			}
			m.fail(c, err)
			return
		}
	}
}

func (m *Manager) drainTCPBuffer(c *conn) {
	for {
		data := c.tcpBuf.Bytes()
		if len(data) == 0 {
			return
		}
		msg, leftover, err := sip.Decode(data)
		if err != nil {
			if errors.Is(err, sip.ErrNeedMoreData) {
				return
			}
			// Malformed message on a byte stream: we cannot safely resync
			// without a length prefix, so the connection is dropped.
			m.log.Warn().Err(err).Str("remote", c.remoteStr).Msg("malformed sip message on tcp stream, closing connection")
			m.fail(c, err)
			c.tcp.Close()
			return
		}

		consumed := len(data) - len(leftover)
		remaining := append([]byte(nil), c.tcpBuf.Bytes()[consumed:]...)
		c.tcpBuf.Reset()
		c.tcpBuf.Write(remaining)

		m.dispatch(c.id, msg)
	}
}

func (m *Manager) decodeAndDispatch(id ID, datagram []byte) {
	msg, _, err := sip.Decode(datagram)
	if err != nil {
		m.log.Info().Err(err).Msg("dropping malformed udp datagram")
		return
	}
	m.dispatch(id, msg)
}

func (m *Manager) dispatch(id ID, msg any) {
	m.observeReceived()
	switch v := msg.(type) {
	case *sip.Request:
		m.sink.OnTransportEvent(IncomingRequest{ID: id, Request: v})
	case *sip.Response:
		m.sink.OnTransportEvent(IncomingResponse{ID: id, Response: v})
	}
}
