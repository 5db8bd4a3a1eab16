package heap

import "github.com/wudi/dashvm/value"

// Scope is a rooted region of the heap: acquired on entry to native code,
// released on exit, guaranteeing every object registered through it
// survives collection until the scope unwinds. Scope nodes come from a
// free list rather than being reallocated per call, and every scope is
// tracked by the heap while open so the collector can reach its roots
// even when the scope is a child of another still-open scope.
type Scope struct {
	heap   *Heap
	parent *Scope
	rooted []value.Object
}

// OpenScope acquires a scope node from the free list (or allocates one).
// Scopes nest and share the same Heap.
func (h *Heap) OpenScope(parent *Scope) *Scope {
	h.mu.Lock()
	elem := h.scopeFreeList.Back()
	var s *Scope
	if elem != nil {
		h.scopeFreeList.Remove(elem)
		s = elem.Value.(*Scope)
		s.rooted = s.rooted[:0]
	} else {
		s = &Scope{}
	}
	s.heap = h
	s.parent = parent
	h.openScopes[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Root registers o so it survives until this scope (or an ancestor) is
// closed, and returns o for chaining at the allocation site.
func (s *Scope) Root(o value.Object) value.Object {
	s.rooted = append(s.rooted, o)
	return o
}

// Close releases every handle this scope registered and returns the node
// to the heap's free list.
func (s *Scope) Close() {
	s.rooted = s.rooted[:0]
	s.heap.mu.Lock()
	delete(s.heap.openScopes, s)
	s.heap.scopeFreeList.PushBack(s)
	s.heap.mu.Unlock()
}

// Roots walks this scope and every ancestor, appending every rooted
// object.
func (s *Scope) Roots() []value.Object {
	var out []value.Object
	for cur := s; cur != nil; cur = cur.parent {
		out = append(out, cur.rooted...)
	}
	return out
}
