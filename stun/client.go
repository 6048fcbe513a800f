package stun

import (
	"sync"

	pionstun "github.com/pion/stun/v3"
	"github.com/rs/zerolog"
)

// Table tracks the one outstanding transaction id per destination this
// side is waiting on, with a fallback to whichever request was sent most
// recently when no per-destination entry exists, per component 4.6.
type Table struct {
	mu       sync.Mutex
	byDest   map[string][pionstun.TransactionIDSize]byte
	lastDest string
}

func NewTable() *Table {
	return &Table{byDest: make(map[string][pionstun.TransactionIDSize]byte)}
}

func (t *Table) Track(dest string, id [pionstun.TransactionIDSize]byte) {
	t.mu.Lock()
	t.byDest[dest] = id
	t.lastDest = dest
	t.mu.Unlock()
}

// Match reports whether id is the outstanding request for dest, falling
// back to the last request sent to any destination if dest has none
// tracked.
func (t *Table) Match(dest string, id [pionstun.TransactionIDSize]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if want, ok := t.byDest[dest]; ok {
		return want == id
	}
	if t.lastDest != "" {
		if want, ok := t.byDest[t.lastDest]; ok {
			return want == id
		}
	}
	return false
}

func (t *Table) Forget(dest string) {
	t.mu.Lock()
	delete(t.byDest, dest)
	t.mu.Unlock()
}

// Client is the STUN binding-request facility: it builds and tracks
// outbound requests and validates/decodes inbound responses.
type Client struct {
	gen   idGenerator
	table *Table
	send  func(dest string, data []byte) error
	log   zerolog.Logger
}

func NewClient(send func(dest string, data []byte) error, log zerolog.Logger) *Client {
	return &Client{
		gen:   newIDGenerator(),
		table: NewTable(),
		send:  send,
		log:   log.With().Str("component", "stun").Logger(),
	}
}

// SendBindingRequest builds and sends a binding request to dest,
// recording its transaction id for later response matching.
func (c *Client) SendBindingRequest(dest string, opts BindingRequestOptions) error {
	raw, id := BuildBindingRequest(c.gen, opts)
	c.table.Track(dest, id)
	return c.send(dest, raw)
}

// HandleResponse decodes raw as a binding response from source and
// validates its transaction id against the outstanding request for that
// destination (or the last request sent, as a fallback).
func (c *Client) HandleResponse(source string, raw []byte) (BindingResponse, error) {
	resp, err := ParseBindingResponse(raw)
	if err != nil {
		return BindingResponse{}, err
	}
	if !c.table.Match(source, resp.TransactionID) {
		return BindingResponse{}, ErrTransactionMismatch
	}
	c.table.Forget(source)
	return resp, nil
}
