package dialog

import (
	"sync"

	"github.com/ultravideo/kvazzup/sip"
)

// Table is the coordinator's dialog index: a single-writer map protected
// by one lock, matching the shared-resource model's "single lock per
// table suffices at expected session counts" guidance.
type Table struct {
	mu   sync.Mutex
	byID map[Key]*Dialog

	// order records insertion order so Shutdown can tear down dialogs in
	// reverse-creation order.
	order []Key
}

func NewTable() *Table {
	return &Table{byID: make(map[Key]*Dialog)}
}

func (t *Table) Insert(d *Dialog) {
	key := d.Key()
	t.mu.Lock()
	t.byID[key] = d
	t.order = append(t.order, key)
	t.mu.Unlock()
}

// Rekey updates a dialog's index entry after its remote tag becomes
// known (the key it was inserted under, with an empty RemoteTag, is no
// longer how lookups will find it).
func (t *Table) Rekey(oldKey Key, d *Dialog) {
	t.mu.Lock()
	delete(t.byID, oldKey)
	t.byID[d.Key()] = d
	t.mu.Unlock()
}

func (t *Table) Remove(key Key) {
	t.mu.Lock()
	delete(t.byID, key)
	t.mu.Unlock()
}

func (t *Table) Find(key Key) (*Dialog, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byID[key]
	return d, ok
}

// FindByRequest looks up the dialog an inbound in-dialog request belongs
// to: the request's To-tag is our local tag, its From-tag is the remote
// tag. A request whose To carries no tag can never match an existing
// dialog (it is either the INVITE that creates one, or out-of-dialog).
func (t *Table) FindByRequest(req *sip.Request) (*Dialog, bool) {
	toTag, ok := req.To.Tag()
	if !ok || toTag == "" {
		return nil, false
	}
	fromTag, _ := req.From.Tag()
	return t.Find(Key{CallID: req.CallID, LocalTag: toTag, RemoteTag: fromTag})
}

// FindByResponse looks up the dialog an inbound response belongs to: our
// own From-tag is the local tag, the response's To-tag is remote. Before
// the remote tag is fixed, the dialog was inserted with RemoteTag empty,
// so this also tries that looser key.
func (t *Table) FindByResponse(resp *sip.Response) (*Dialog, bool) {
	fromTag, _ := resp.From.Tag()
	toTag, _ := resp.To.Tag()
	if d, ok := t.Find(Key{CallID: resp.CallID, LocalTag: fromTag, RemoteTag: toTag}); ok {
		return d, true
	}
	return t.Find(Key{CallID: resp.CallID, LocalTag: fromTag, RemoteTag: ""})
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Shutdown terminates every dialog in reverse-creation order, per the
// cancellation model's shutdown guarantee, without sending further
// messages (callers that need BYE-on-shutdown semantics must do that
// before calling Shutdown).
func (t *Table) Shutdown() {
	t.mu.Lock()
	keys := append([]Key(nil), t.order...)
	dialogs := make([]*Dialog, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if d, ok := t.byID[keys[i]]; ok {
			dialogs = append(dialogs, d)
		}
	}
	t.byID = make(map[Key]*Dialog)
	t.order = nil
	t.mu.Unlock()

	for _, d := range dialogs {
		d.Terminate()
	}
}
