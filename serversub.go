package centrifuge

import "sync"

// serverSubState is the bookkeeping the client keeps for a server
// subscription (GLOSSARY: Server subscription) — a channel the server
// attached to the connection itself, via ConnectResult.Subs, that the
// client never called Subscribe() for. Named and shaped after the
// reference client's `serverSub{Offset, Epoch, Recoverable}`.
type serverSubState struct {
	Offset      uint64
	Epoch       string
	Recoverable bool
}

// serverSubRegistry tracks server subscriptions across reconnects: it is
// populated from ConnectResult.Subs on every successful connect (spec.md
// §4.6 step 7) and entries are removed when the server sends an
// unsubscribe push for that channel, or all at once when a disconnect's
// close reason does not preserve them (CloseReason.preservesServerSubs).
// Closing the client does not clear the registry by itself.
type serverSubRegistry struct {
	mu   sync.Mutex
	subs map[string]*serverSubState
}

func newServerSubRegistry() *serverSubRegistry {
	return &serverSubRegistry{subs: make(map[string]*serverSubState)}
}

func (r *serverSubRegistry) set(channel string, st *serverSubState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[channel] = st
}

func (r *serverSubRegistry) get(channel string) (*serverSubState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.subs[channel]
	return st, ok
}

func (r *serverSubRegistry) remove(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, channel)
}

// snapshot returns a copy of the currently tracked server subscriptions,
// used to build the Subs map sent on a reconnect's connect command so
// recoverable server subscriptions resume at their last known position
// (spec.md §4.6 step 3) instead of replaying from scratch.
func (r *serverSubRegistry) snapshot() map[string]*serverSubState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*serverSubState, len(r.subs))
	for ch, st := range r.subs {
		cp := *st
		out[ch] = &cp
	}
	return out
}

// clear drops every tracked server subscription, e.g. on a disconnect
// whose cause does not preserve server subs (CloseReason.preservesServerSubs).
func (r *serverSubRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]*serverSubState)
}

func (r *serverSubRegistry) updateOffset(channel string, offset uint64, epoch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.subs[channel]; ok {
		st.Offset = offset
		st.Epoch = epoch
	}
}
