package trigger

import (
	"sort"
	"sync"
)

// subscription binds a handler identity to the listener attached to the
// change source on its behalf.
type subscription struct {
	id       string
	identity string
	listener *listener
	source   ChangeSource
	session  Session
}

// keyLock is a reference-counted mutex for one identity.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// registry maps handler identities to active subscriptions. Operations on the
// same identity are serialized through lock; different identities proceed
// independently.
type registry struct {
	mu      sync.Mutex
	entries map[string]*subscription
	locks   map[string]*keyLock
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[string]*subscription),
		locks:   make(map[string]*keyLock),
	}
}

// lock acquires the per-identity lock and returns its release function.
func (r *registry) lock(identity string) func() {
	r.mu.Lock()
	kl, ok := r.locks[identity]
	if !ok {
		kl = &keyLock{}
		r.locks[identity] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.locks, identity)
		}
		r.mu.Unlock()
	}
}

func (r *registry) get(identity string) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.entries[identity]
	return sub, ok
}

// put stores sub and returns the record it replaced, if any.
func (r *registry) put(sub *subscription) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[sub.identity]
	r.entries[sub.identity] = sub
	return prev
}

func (r *registry) remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, identity)
}

// evictSession removes every entry attached through session and returns them.
func (r *registry) evictSession(session Session) []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []*subscription
	for identity, sub := range r.entries {
		if sub.session == session {
			evicted = append(evicted, sub)
			delete(r.entries, identity)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].identity < evicted[j].identity })
	return evicted
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registry) identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for identity := range r.entries {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}
