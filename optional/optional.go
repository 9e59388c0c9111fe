// Package optional holds a value which may or may not have been set.
package optional

// Optional is a value of type T which may be unset. The zero value is unset.
type Optional[T any] struct {
	value T
	set   bool
}

// Of returns an Optional holding v.
func Of[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Set stores v.
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.set = true
}

// HasValue returns true when a value has been set.
func (o Optional[T]) HasValue() bool {
	return o.set
}

// Get returns the stored value or the zero value of T when nothing is set.
func (o Optional[T]) Get() T {
	return o.value
}

// GetOr returns the stored value or def when nothing is set.
func (o Optional[T]) GetOr(def T) T {
	if !o.set {
		return def
	}
	return o.value
}

// Reset unsets the value.
func (o *Optional[T]) Reset() {
	var zero T
	o.value = zero
	o.set = false
}
