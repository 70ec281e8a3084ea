/*
Package registry tracks live push streams, the in-memory per-target FIFO
queues, and the request/response correlation table.

All three structures share one mutex: registration, routing, and the
pending-response bookkeeping are compound operations that must observe a
single consistent snapshot. The lock is never held across stream I/O;
drains copy entries out, send lock-free, and put leftovers back.
*/
package registry

import (
	"log/slog"
	"strings"
	"sync"
)

// ClientConnPrefix namespaces client connection ids so they can never
// collide with device ids.
const ClientConnPrefix = "client_"

// IsClientConn reports whether a connection id belongs to a client.
func IsClientConn(id string) bool {
	return strings.HasPrefix(id, ClientConnPrefix)
}

// Entry is one queued frame awaiting a live stream. RowID points at the
// durable row backing the frame so confirmed delivery can retire it.
type Entry struct {
	Frame []byte
	RowID int64
}

// Registrar is the gateway the relay engine and handlers use for
// connection management and routing.
type Registrar interface {
	Register(id string, s Stream) []Entry
	Deregister(id string, s Stream)
	Evict(id string)
	IsPresent(id string) bool
	DevicesPresent() []string
	Len() int
	Route(target, sender string) (Stream, bool)
	TakePending(deviceID string) (Stream, string, bool)
	Enqueue(target string, e Entry) bool
	DropEntries(target string, rowIDs []int64)
	CloseAll()
}

// Registry is the concrete in-memory implementation.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]Stream
	queues  map[string][]Entry
	pending map[string]string // device_id -> waiting client connection id

	depth  func() int
	logger *slog.Logger
}

// Interface guard
var _ Registrar = (*Registry)(nil)

func New(opts ...Option) *Registry {
	r := &Registry{
		conns:   make(map[string]Stream),
		queues:  make(map[string][]Entry),
		pending: make(map[string]string),
		depth:   func() int { return DefaultQueueDepth },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores the stream under id (last writer wins) and drains the
// target's queued entries in FIFO order. It returns the entries that
// were confirmed onto the stream; on the first send error the failed
// entry and everything after it go back to the queue head.
func (r *Registry) Register(id string, s Stream) []Entry {
	r.mu.Lock()
	prev := r.conns[id]
	r.conns[id] = s
	queued := r.queues[id]
	delete(r.queues, id)
	r.mu.Unlock()

	if prev != nil && prev != s {
		_ = prev.Close()
	}

	for i, e := range queued {
		if err := s.Send(e.Frame); err != nil {
			r.logger.Warn("queue drain interrupted",
				"conn_id", id, "sent", i, "kept", len(queued)-i, "error", err)
			r.requeueFront(id, queued[i:])
			return queued[:i]
		}
	}
	return queued
}

// requeueFront puts undelivered entries back ahead of anything enqueued
// while the drain was in flight, preserving FIFO order.
func (r *Registry) requeueFront(id string, entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[id] = append(append(make([]Entry, 0, len(entries)+len(r.queues[id])), entries...), r.queues[id]...)
}

// Deregister removes the connection when it is still the registered one
// and purges every pending-response entry waiting on it. Passing a nil
// stream removes unconditionally.
func (r *Registry) Deregister(id string, s Stream) {
	r.mu.Lock()
	cur, ok := r.conns[id]
	removed := ok && (s == nil || cur == s)
	if removed {
		delete(r.conns, id)
		for deviceID, clientID := range r.pending {
			if clientID == id {
				delete(r.pending, deviceID)
			}
		}
	}
	r.mu.Unlock()

	if removed && cur != nil {
		_ = cur.Close()
	}
}

// Evict tears down every trace of id: the live stream, queued frames,
// and pending-response entries in either role. Used when a device is
// deleted from the account.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	cur := r.conns[id]
	delete(r.conns, id)
	delete(r.queues, id)
	delete(r.pending, id)
	for deviceID, clientID := range r.pending {
		if clientID == id {
			delete(r.pending, deviceID)
		}
	}
	r.mu.Unlock()

	if cur != nil {
		_ = cur.Close()
	}
}

func (r *Registry) IsPresent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// DevicesPresent lists connected device ids, skipping client connections.
func (r *Registry) DevicesPresent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		if !IsClientConn(id) {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Route resolves the target's stream and, when the sender is a client,
// records it as the one waiting for the target's next response. Both
// happen under one lock acquisition so a concurrent response cannot
// observe the stream without the pending entry.
func (r *Registry) Route(target, sender string) (Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if IsClientConn(sender) {
		r.pending[target] = sender
	}
	s, ok := r.conns[target]
	return s, ok
}

// TakePending pops the client waiting on deviceID and resolves its
// stream. The entry is consumed even when the client is already gone.
func (r *Registry) TakePending(deviceID string) (Stream, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clientID, ok := r.pending[deviceID]
	if !ok {
		return nil, "", false
	}
	delete(r.pending, deviceID)
	s, live := r.conns[clientID]
	if !live {
		return nil, clientID, false
	}
	return s, clientID, true
}

// Enqueue appends to the target's queue, rejecting the entry when the
// per-target depth cap is reached. The durable row stays authoritative
// for rejected entries.
func (r *Registry) Enqueue(target string, e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if max := r.depth(); max > 0 && len(r.queues[target]) >= max {
		return false
	}
	r.queues[target] = append(r.queues[target], e)
	return true
}

// DropEntries removes queued entries whose durable rows were consumed
// elsewhere, keeping the memory queue coherent with the store.
func (r *Registry) DropEntries(target string, rowIDs []int64) {
	if len(rowIDs) == 0 {
		return
	}
	gone := make(map[int64]struct{}, len(rowIDs))
	for _, id := range rowIDs {
		gone[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[target]
	if len(q) == 0 {
		return
	}
	kept := q[:0]
	for _, e := range q {
		if _, dropped := gone[e.RowID]; dropped && e.RowID != 0 {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(r.queues, target)
	} else {
		r.queues[target] = kept
	}
}

// CloseAll tears down every live stream. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Stream, 0, len(r.conns))
	for _, s := range r.conns {
		conns = append(conns, s)
	}
	r.conns = make(map[string]Stream)
	r.pending = make(map[string]string)
	r.mu.Unlock()

	for _, s := range conns {
		_ = s.Close()
	}
}
