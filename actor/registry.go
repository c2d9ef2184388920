package actor

import "sync"

// Registry is an explicit name-to-handle table. Both the long-lived
// singletons (router, moderator, config provider) and the per-key monitor
// groups are published through Registry instances; there is no process-wide
// namespace.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Ref
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Ref)}
}

// Register claims name for ref. If the name is already taken it returns the
// current holder and false, leaving the table unchanged.
func (reg *Registry) Register(name string, ref *Ref) (*Ref, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cur, ok := reg.entries[name]; ok {
		return cur, false
	}
	reg.entries[name] = ref
	return ref, true
}

// LookupOrCreate returns the ref registered under name, invoking create and
// claiming the name atomically when absent. This is the check-then-claim
// step that guarantees at most one live monitor group per key, even under
// concurrent first-contact events.
func (reg *Registry) LookupOrCreate(name string, create func() *Ref) (ref *Ref, created bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cur, ok := reg.entries[name]; ok {
		return cur, false
	}
	ref = create()
	reg.entries[name] = ref
	return ref, true
}

// Lookup returns the ref registered under name, if any.
func (reg *Registry) Lookup(name string) (*Ref, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ref, ok := reg.entries[name]
	return ref, ok
}

// Put replaces whatever is registered under name. Used by the supervisor
// when restarting a failed singleton.
func (reg *Registry) Put(name string, ref *Ref) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.entries[name] = ref
}

// Unregister removes name only if it still maps to ref, so a stale exit
// callback cannot evict a replacement.
func (reg *Registry) Unregister(name string, ref *Ref) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cur, ok := reg.entries[name]; ok && cur == ref {
		delete(reg.entries, name)
	}
}

// Refs returns a snapshot of all registered handles.
func (reg *Registry) Refs() []*Ref {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Ref, 0, len(reg.entries))
	for _, ref := range reg.entries {
		out = append(out, ref)
	}
	return out
}

// Len returns the number of registered names.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}
