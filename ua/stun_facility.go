package ua

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ultravideo/kvazzup/stun"
)

// stunFacility owns the dedicated UDP socket the binding-request factory
// (component 4.6) sends and receives on, plus the bookkeeping that turns
// its request/response pair into a blocking call for PingSTUN.
type stunFacility struct {
	conn   *net.UDPConn
	client *stun.Client
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan stun.BindingResponse // keyed by source address

	closed bool
}

func newStunFacility(log zerolog.Logger) (*stunFacility, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("ua: stun socket: %w", err)
	}

	f := &stunFacility{
		conn:    conn,
		log:     log.With().Str("component", "stun-facility").Logger(),
		pending: make(map[string]chan stun.BindingResponse),
	}
	f.client = stun.NewClient(f.writeTo, log)
	go f.readLoop()
	return f, nil
}

func (f *stunFacility) writeTo(dest string, data []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return fmt.Errorf("ua: stun: resolve %q: %w", dest, err)
	}
	_, err = f.conn.WriteToUDP(data, raddr)
	return err
}

func (f *stunFacility) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, raddr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		resp, err := f.client.HandleResponse(raddr.String(), append([]byte(nil), buf[:n]...))
		if err != nil {
			f.log.Debug().Err(err).Str("source", raddr.String()).Msg("discarding stun datagram")
			continue
		}

		f.mu.Lock()
		ch, ok := f.pending[raddr.String()]
		if ok {
			delete(f.pending, raddr.String())
		}
		f.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// ping sends a binding request to server and waits for its response,
// context cancellation, or the library's own internal retry/timeout
// policy (none: a single binding request with no answer blocks until
// ctx is done, matching the spec's scope of "generates binding
// requests" without a retransmission schedule of its own).
func (f *stunFacility) ping(ctx context.Context, server string) (stun.BindingResponse, error) {
	ch := make(chan stun.BindingResponse, 1)

	f.mu.Lock()
	f.pending[server] = ch
	f.mu.Unlock()

	if err := f.client.SendBindingRequest(server, stun.BindingRequestOptions{}); err != nil {
		f.mu.Lock()
		delete(f.pending, server)
		f.mu.Unlock()
		return stun.BindingResponse{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.pending, server)
		f.mu.Unlock()
		return stun.BindingResponse{}, ctx.Err()
	}
}

func (f *stunFacility) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.conn.Close()
}
