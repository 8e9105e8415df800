package microbatch

import "golang.org/x/xerrors"

// TokenDesc is the per-item metadata decorating each payload slot: an
// origin hint (e.g. a key, used by key-partitioned stages to route without
// re-inspecting the payload) attached at allocation time.
type TokenDesc struct {
	Hint string
}

// Slot is one decorated item inside a Microbatch: the token descriptor
// immediately followed (conceptually) by the payload item.
type Slot[T any] struct {
	Desc TokenDesc
	Item T
}

// Microbatch is the atomic unit of data flow: a fixed-capacity slab holding
// up to Capacity decorated items. It moves through exactly three lifecycle
// phases: allocating (slots reserved, not yet built), built (payload placed
// in a reserved slot) and committed (visible to iteration). The entire slab
// is allocated in one call (NewMicrobatch) and released as one; per-item
// allocation is not supported on the hot path.
//
// A Microbatch is exclusively owned by whichever stage currently holds it.
// Ownership transfers atomically when the microbatch crosses an edge queue;
// the previous owner must not touch it afterwards.
type Microbatch[T any] struct {
	tag       Tag
	slots     []Slot[T]
	allocated int
	committed int
}

// NewMicrobatch allocates a slab of the given capacity for tag. Capacity
// must be positive.
func NewMicrobatch[T any](tag Tag, capacity int) *Microbatch[T] {
	if capacity <= 0 {
		panic("microbatch: capacity must be positive")
	}
	return &Microbatch[T]{tag: tag, slots: make([]Slot[T], capacity)}
}

// Tag returns the stream tag this microbatch belongs to.
func (m *Microbatch[T]) Tag() Tag { return m.tag }

// Retag reassigns the stream tag. Used by the iteration controller and the
// termination switch, which re-tag a microbatch in flight rather than copy
// its contents.
func (m *Microbatch[T]) Retag(tag Tag) { m.tag = tag }

// Capacity returns the total number of slots in the slab.
func (m *Microbatch[T]) Capacity() int { return len(m.slots) }

// Full reports whether every slot has been allocated.
func (m *Microbatch[T]) Full() bool { return m.allocated == len(m.slots) }

// Empty reports whether no slot has been allocated yet.
func (m *Microbatch[T]) Empty() bool { return m.allocated == 0 }

// Allocate reserves the next uninitialised payload slot and returns it, or
// ok=false if the slab is full. allocate never returns the same slot twice.
func (m *Microbatch[T]) Allocate() (slot *Slot[T], ok bool) {
	if m.Full() {
		return nil, false
	}
	slot = &m.slots[m.allocated]
	m.allocated++
	return slot, true
}

// Commit marks the most recently allocated slot as visible to iteration.
// Calling Commit without a preceding Allocate is a programmer error.
func (m *Microbatch[T]) Commit() {
	if m.committed >= m.allocated {
		panic(xerrors.New("microbatch: commit without a preceding allocate"))
	}
	m.committed++
}

// Clear destroys all built items in LIFO order and resets the slab to its
// empty state, ready for reuse. Slots between committed and built are
// destroyed without ever having been visible.
func (m *Microbatch[T]) Clear() {
	var zero T
	for i := m.allocated - 1; i >= 0; i-- {
		m.slots[i].Item = zero
		m.slots[i].Desc = TokenDesc{}
	}
	m.allocated = 0
	m.committed = 0
}

// Len returns the number of committed items.
func (m *Microbatch[T]) Len() int { return m.committed }

// Items returns the committed slots, in insertion order. The caller must
// not retain the slice past the microbatch's lifetime.
func (m *Microbatch[T]) Items() []Slot[T] {
	return m.slots[:m.committed]
}

// Append is a convenience helper equivalent to Allocate+build+Commit for
// kernels that do not need split allocate/build phases (the common case for
// pure map/filter/flat-map kernels).
func (m *Microbatch[T]) Append(item T, desc TokenDesc) bool {
	slot, ok := m.Allocate()
	if !ok {
		return false
	}
	slot.Item = item
	slot.Desc = desc
	m.Commit()
	return true
}
