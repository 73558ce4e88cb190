package buffer

// Ring keeps the most recent entries up to a fixed capacity. Adding to a
// full ring evicts the oldest entry. Ring is not safe for concurrent use.
type Ring[T any] struct {
	entries []T
	head    int
	size    int
	evicted uint64
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Add appends entry and reports whether an older entry was evicted.
func (r *Ring[T]) Add(entry T) bool {
	if r == nil || len(r.entries) == 0 {
		return false
	}
	tail := (r.head + r.size) % len(r.entries)
	r.entries[tail] = entry
	if r.size < len(r.entries) {
		r.size++
		return false
	}
	r.head = (r.head + 1) % len(r.entries)
	r.evicted++
	return true
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.size
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Evicted counts entries overwritten since the ring was created or reset.
func (r *Ring[T]) Evicted() uint64 {
	if r == nil {
		return 0
	}
	return r.evicted
}

// List returns the entries oldest first.
func (r *Ring[T]) List() []T {
	return r.Filter(nil)
}

// Filter returns the entries accepted by keep, oldest first. A nil keep
// accepts everything.
func (r *Ring[T]) Filter(keep func(T) bool) []T {
	if r == nil || r.size == 0 {
		return nil
	}
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		entry := r.entries[(r.head+i)%len(r.entries)]
		if keep == nil || keep(entry) {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.head = 0
	r.size = 0
	r.evicted = 0
}
