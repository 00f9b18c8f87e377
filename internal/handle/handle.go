// Package handle implements a generational resource table. Objects that
// cross the gpu.Device boundary are referred to by Handle values rather
// than native pointers, so a stale handle to a destroyed object is detected
// instead of aliasing whatever reused its slot.
package handle

// Handle refers to one entry of a Table. The zero Handle is never valid.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) Valid() bool {
	return h.generation != 0
}

func (h Handle) Index() int {
	return int(h.index)
}

func (h Handle) Generation() int {
	return int(h.generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Table stores values of a single kind. Removing an entry bumps the slot
// generation, so handles issued before the removal no longer resolve.
type Table[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (t *Table[T]) Insert(value T) Handle {
	var index uint32
	if len(t.free) > 0 {
		index = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	} else {
		index = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[index]
	s.generation++
	s.value = value
	s.live = true
	t.live++

	return Handle{index: index, generation: s.generation}
}

func (t *Table[T]) lookup(h Handle) *slot[T] {
	if !h.Valid() || int(h.index) >= len(t.slots) {
		return nil
	}

	s := &t.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil
	}
	return s
}

func (t *Table[T]) Get(h Handle) (T, bool) {
	s := t.lookup(h)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

func (t *Table[T]) Contains(h Handle) bool {
	return t.lookup(h) != nil
}

// Remove deletes the entry and returns its value so the caller can release
// the underlying object.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T

	s := t.lookup(h)
	if s == nil {
		return zero, false
	}

	value := s.value
	s.value = zero
	s.live = false
	t.free = append(t.free, h.index)
	t.live--

	return value, true
}

func (t *Table[T]) Len() int {
	return t.live
}

// Each visits live entries in slot order.
func (t *Table[T]) Each(fn func(Handle, T)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.live {
			fn(Handle{index: uint32(i), generation: s.generation}, s.value)
		}
	}
}
