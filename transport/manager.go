package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/ultravideo/kvazzup/sip"
)

// Manager is the transport layer: it owns the listening UDP socket and TCP
// listener for one local port, multiplexes every inbound message to the
// dispatcher's EventSink, and creates outbound connections on demand.
type Manager struct {
	listenPort int
	localIP    string
	sink       EventSink
	log        zerolog.Logger

	udpConn  *net.UDPConn
	tcpListn net.Listener

	mu       sync.Mutex
	conns    map[ID]*conn
	byRemote map[string]ID // "proto|remoteAddr" -> ID, for connection reuse
	nextID   atomic.Uint64

	metrics MetricsHook
}

// MetricsHook lets a caller outside this package (internal/metrics, via
// the coordinator) observe every wire-level send/receive without this
// package importing a metrics library itself.
type MetricsHook interface {
	OnSent()
	OnReceived()
}

// SetMetricsHook installs hook; nil is valid and disables observation.
func (m *Manager) SetMetricsHook(hook MetricsHook) {
	m.metrics = hook
}

func (m *Manager) observeSent() {
	if m.metrics != nil {
		m.metrics.OnSent()
	}
}

func (m *Manager) observeReceived() {
	if m.metrics != nil {
		m.metrics.OnReceived()
	}
}

// NewManager constructs a transport manager bound to listenPort (0 picks an
// ephemeral port, mainly useful in tests). localIP is advertised in
// Established events and via headers; it is not used to pick a bind
// address.
func NewManager(listenPort int, localIP string, sink EventSink, log zerolog.Logger) *Manager {
	return &Manager{
		listenPort: listenPort,
		localIP:    localIP,
		sink:       sink,
		log:        log.With().Str("component", "transport").Logger(),
		conns:      make(map[ID]*conn),
		byRemote:   make(map[string]ID),
	}
}

// ListenAndServe binds the UDP socket and TCP listener and starts their
// accept/read loops. It returns once both sockets are bound; the read loops
// run in background goroutines until ctx is cancelled.
func (m *Manager) ListenAndServe(ctx context.Context) error {
	udpAddr := &net.UDPAddr{Port: m.listenPort}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("transport: listen udp: %w", err)
	}
	m.udpConn = udpConn

	tcpListn, err := net.Listen("tcp", fmt.Sprintf(":%d", m.listenPort))
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("transport: listen tcp: %w", err)
	}
	m.tcpListn = tcpListn

	go m.readUDPLoop(ctx)
	go m.acceptTCPLoop(ctx)

	go func() {
		<-ctx.Done()
		m.udpConn.Close()
		m.tcpListn.Close()
	}()

	m.log.Info().Int("port", m.listenPort).Msg("transport manager listening")
	return nil
}

func (m *Manager) remoteKey(proto sip.TransportProto, remote string) string {
	return string(proto) + "|" + remote
}

// CreateConnection initiates (or reuses) a transport to remote over proto.
// UDP "connects" immediately since the shared socket is already bound; TCP
// dials with a 5 second timeout. Either path ends by emitting Established
// or Failed to the sink.
func (m *Manager) CreateConnection(ctx context.Context, proto sip.TransportProto, remote string) (ID, error) {
	switch proto {
	case sip.ProtoUDP:
		return m.createUDP(remote)
	case sip.ProtoTCP:
		return m.createTCP(ctx, remote)
	case sip.ProtoTLS:
		return 0, ErrUnsupported
	default:
		return 0, fmt.Errorf("transport: %w: %s", ErrUnsupported, proto)
	}
}

func (m *Manager) allocID() ID {
	return ID(m.nextID.Add(1))
}

func (m *Manager) createUDP(remote string) (ID, error) {
	key := m.remoteKey(sip.ProtoUDP, remote)

	m.mu.Lock()
	if id, ok := m.byRemote[key]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return 0, fmt.Errorf("transport: resolve %q: %w", remote, err)
	}

	id := m.allocID()
	c := &conn{id: id, proto: sip.ProtoUDP, remote: raddr, remoteStr: remote, localAddr: m.localAddrString()}
	c.setState(stateConnected)

	m.mu.Lock()
	m.conns[id] = c
	m.byRemote[key] = id
	m.mu.Unlock()

	m.sink.OnTransportEvent(Established{ID: id, LocalAddr: c.localAddr, RemoteAddr: remote})
	return id, nil
}

func (m *Manager) createTCP(ctx context.Context, remote string) (ID, error) {
	key := m.remoteKey(sip.ProtoTCP, remote)

	m.mu.Lock()
	if id, ok := m.byRemote[key]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	id := m.allocID()
	c := &conn{id: id, proto: sip.ProtoTCP, remoteStr: remote}
	c.setState(stateConnecting)

	m.mu.Lock()
	m.conns[id] = c
	m.byRemote[key] = id
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	dialer := net.Dialer{}
	nc, err := dialer.DialContext(dialCtx, "tcp", remote)
	if err != nil {
		c.setState(stateFailed)
		m.sink.OnTransportEvent(Failed{ID: id, Reason: err})
		return id, err
	}

	c.mu.Lock()
	c.tcp = nc
	c.localAddr = nc.LocalAddr().String()
	c.state = stateConnected
	c.mu.Unlock()

	go m.readTCPConn(ctx, c)

	m.sink.OnTransportEvent(Established{ID: id, LocalAddr: c.localAddr, RemoteAddr: remote})
	return id, nil
}

// ListenAddr returns the address this manager's UDP socket is bound to,
// primarily useful when ListenPort 0 picked an ephemeral one (tests, or a
// TU that advertises whatever it actually got).
func (m *Manager) ListenAddr() string {
	return m.localAddrString()
}

func (m *Manager) localAddrString() string {
	if m.udpConn == nil {
		return net.JoinHostPort(m.localIP, strconv.Itoa(m.listenPort))
	}
	la := m.udpConn.LocalAddr().(*net.UDPAddr)
	return net.JoinHostPort(m.localIP, strconv.Itoa(la.Port))
}

// SendRequest serializes req and writes it over the named transport.
func (m *Manager) SendRequest(id ID, req *sip.Request) error {
	req.Transport = string(m.protoOf(id))
	return m.send(id, req)
}

// SendResponse serializes resp and writes it over the named transport.
func (m *Manager) SendResponse(id ID, resp *sip.Response) error {
	return m.send(id, resp)
}

func (m *Manager) protoOf(id ID) sip.TransportProto {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return sip.ProtoAny
	}
	return c.proto
}

func (m *Manager) send(id ID, msg any) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTransport
	}
	if c.getState() != stateConnected {
		return ErrUnconnected
	}

	buf, err := sip.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	switch c.proto {
	case sip.ProtoUDP:
		if len(buf) > maxUDPDatagram {
			m.log.Warn().Int("size", len(buf)).Str("remote", c.remoteStr).
				Msg("outbound UDP datagram exceeds RFC 3261 18.1.1 recommended size, sending anyway")
		}
		_, err := m.udpConn.WriteToUDP(buf, c.remote)
		if err != nil {
			m.fail(c, err)
			return err
		}
		m.observeSent()
		return nil
	case sip.ProtoTCP:
		_, err := c.tcp.Write(buf)
		if err != nil {
			m.fail(c, err)
			return err
		}
		m.observeSent()
		return nil
	default:
		return ErrUnsupported
	}
}

func (m *Manager) fail(c *conn, err error) {
	c.setState(stateFailed)
	m.sink.OnTransportEvent(Failed{ID: c.id, Reason: err})
}

// Close shuts down one transport. UDP transports simply drop their
// bookkeeping entry (the shared socket stays open for other peers); TCP
// transports close their dedicated connection.
func (m *Manager) Close(id ID) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
		delete(m.byRemote, m.remoteKey(c.proto, c.remoteStr))
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTransport
	}
	c.setState(stateClosed)
	if c.tcp != nil {
		return c.tcp.Close()
	}
	return nil
}
