// Package subscribers holds the listener set shared by the location and
// bearing managers.
package subscribers

import "sync"

// Hooks are invoked on size transitions of a Registry. They run while the
// registry lock is held, so they must not call back into the same registry.
type Hooks struct {
	// OnFirst runs on the 0 -> 1 transition, before the new member is
	// visible to ForEach or Snapshot.
	OnFirst func()
	// OnLast runs on the 1 -> 0 transition.
	OnLast func()
}

// Registry is a thread-safe set of listeners. Members are compared with ==,
// so T should be a pointer or an interface holding a pointer; an interface
// holding an uncomparable dynamic type panics like any map key would.
type Registry[T comparable] struct {
	mu      sync.Mutex
	members []T
	index   map[T]struct{}
	hooks   Hooks
}

// New creates an empty Registry with the given transition hooks.
func New[T comparable](hooks Hooks) *Registry[T] {
	return &Registry[T]{
		index: make(map[T]struct{}),
		hooks: hooks,
	}
}

// Subscribe adds s. It reports false, without firing any hook, when s is
// already a member.
func (r *Registry[T]) Subscribe(s T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[s]; ok {
		return false
	}
	if len(r.members) == 0 && r.hooks.OnFirst != nil {
		r.hooks.OnFirst()
	}
	r.index[s] = struct{}{}
	r.members = append(r.members, s)
	return true
}

// Unsubscribe removes s and reports whether it was a member.
func (r *Registry[T]) Unsubscribe(s T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[s]; !ok {
		return false
	}
	delete(r.index, s)
	for i, m := range r.members {
		if m == s {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 && r.hooks.OnLast != nil {
		r.hooks.OnLast()
	}
	return true
}

// Contains reports whether s is a member.
func (r *Registry[T]) Contains(s T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[s]
	return ok
}

// Len returns the number of members.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Snapshot returns the members in subscription order. The returned slice
// is not modified by later Subscribe or Unsubscribe calls.
func (r *Registry[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.members))
	copy(out, r.members)
	return out
}

// ForEach calls f for every member of a snapshot taken at call time. The
// registry lock is not held while f runs, so f may subscribe or
// unsubscribe.
func (r *Registry[T]) ForEach(f func(T)) {
	for _, m := range r.Snapshot() {
		f(m)
	}
}
