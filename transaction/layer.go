package transaction

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/ultravideo/kvazzup/sip"
)

// Layer owns the client and server transaction tables and implements the
// dispatch algorithm: every inbound message is routed to an existing
// transaction if one matches its Key, and ACK to a non-2xx response is
// special-cased to the INVITE transaction it acknowledges rather than
// looked up under its own (nonexistent) key.
type Layer struct {
	mu        sync.Mutex
	clientTxs map[Key]*ClientTx
	serverTxs map[Key]*ServerTx
	log       zerolog.Logger
}

func NewLayer(log zerolog.Logger) *Layer {
	return &Layer{
		clientTxs: make(map[Key]*ClientTx),
		serverTxs: make(map[Key]*ServerTx),
		log:       log.With().Str("component", "transaction").Logger(),
	}
}

// CreateClientTx starts a new client transaction for req and returns it.
// req must already carry a topmost Via with a branch (the dialog layer, or
// the caller for out-of-dialog requests, is responsible for generating
// one with sip.GenerateBranch).
func (l *Layer) CreateClientTx(req *sip.Request, sender Sender, handler ClientHandler) (*ClientTx, error) {
	key, ok := keyOfRequest(req)
	if !ok {
		return nil, sip.ErrMalformed
	}

	tx := NewClientTx(req, sender, handler, l.removeClientTx, l.log)

	l.mu.Lock()
	l.clientTxs[key] = tx
	l.mu.Unlock()

	if err := tx.Init(); err != nil {
		return tx, err
	}
	return tx, nil
}

// CreateServerTx starts a new server transaction for an inbound request
// the dialog layer has decided deserves one (i.e. HandleRequest returned
// isNew == true).
func (l *Layer) CreateServerTx(req *sip.Request, sender Sender, handler ServerHandler) (*ServerTx, error) {
	key, ok := keyOfRequest(req)
	if !ok {
		return nil, sip.ErrMalformed
	}

	tx := NewServerTx(req, sender, handler, l.removeServerTx, l.log)

	l.mu.Lock()
	l.serverTxs[key] = tx
	l.mu.Unlock()
	return tx, nil
}

// HandleRequest routes an inbound request to an existing server
// transaction. It returns (tx, false) when the request matched one
// (a retransmit, or the ACK to a non-2xx final the transaction is
// already waiting for); it returns (nil, true) when no transaction
// claims the request, meaning the dialog layer must decide whether to
// create one.
func (l *Layer) HandleRequest(req *sip.Request) (*ServerTx, bool) {
	if req.Method == sip.ACK {
		via, ok := req.TopVia()
		if !ok {
			return nil, false
		}
		inviteKey := KeyOf(via.Branch, sip.INVITE)
		l.mu.Lock()
		tx, found := l.serverTxs[inviteKey]
		l.mu.Unlock()
		if found {
			tx.Receive(req)
		}
		// An ACK matching no INVITE transaction is passed through to the
		// dialog layer (it may still be valid for a 2xx, which this layer
		// never tracks).
		return tx, !found
	}

	key, ok := keyOfRequest(req)
	if !ok {
		return nil, false
	}
	l.mu.Lock()
	tx, found := l.serverTxs[key]
	l.mu.Unlock()
	if found {
		tx.Receive(req)
		return tx, false
	}
	return nil, true
}

// FindServerTx looks up a live server transaction by key without
// delivering any message to it, used by the dialog layer to locate the
// INVITE transaction a CANCEL refers to (CANCEL never shares a
// transaction key with the INVITE it cancels).
func (l *Layer) FindServerTx(key Key) (*ServerTx, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.serverTxs[key]
	return tx, ok
}

// HandleResponse routes an inbound response to its client transaction, if
// one is still live. It reports whether a transaction was found.
func (l *Layer) HandleResponse(resp *sip.Response) bool {
	key, ok := keyOfResponse(resp)
	if !ok {
		return false
	}
	l.mu.Lock()
	tx, found := l.clientTxs[key]
	l.mu.Unlock()
	if !found {
		return false
	}
	tx.Receive(resp)
	return true
}

func (l *Layer) removeClientTx(key Key) {
	l.mu.Lock()
	delete(l.clientTxs, key)
	l.mu.Unlock()
}

func (l *Layer) removeServerTx(key Key) {
	l.mu.Lock()
	delete(l.serverTxs, key)
	l.mu.Unlock()
}

// ClientTxCount and ServerTxCount expose the live transaction counts,
// primarily for metrics gauges and tests.
func (l *Layer) ClientTxCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clientTxs)
}

func (l *Layer) ServerTxCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.serverTxs)
}

// Shutdown terminates every live transaction without further network
// activity.
func (l *Layer) Shutdown() {
	l.mu.Lock()
	clients := make([]*ClientTx, 0, len(l.clientTxs))
	for _, tx := range l.clientTxs {
		clients = append(clients, tx)
	}
	servers := make([]*ServerTx, 0, len(l.serverTxs))
	for _, tx := range l.serverTxs {
		servers = append(servers, tx)
	}
	l.mu.Unlock()

	for _, tx := range clients {
		tx.Terminate()
	}
	for _, tx := range servers {
		tx.Terminate()
	}
}
