// Package foundation holds small generic helpers shared by focusguard packages.
package foundation

import "fmt"

// Option represents a value that may or may not be present.
//
// Requests that may legitimately receive no answer (a content request with no
// listening daemon, a timed-out ping) return Option rather than a sentinel value.
type Option[T any] struct {
	value   T
	present bool
}

// Some creates an Option with a value.
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, present: true}
}

// None creates an empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) IsSome() bool { return o.present }
func (o Option[T]) IsNone() bool { return !o.present }

// Get returns the value and whether it was present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.present
}

// Unwrap returns the value if present, panics if None.
func (o Option[T]) Unwrap() T {
	if !o.present {
		panic("called Unwrap on None option")
	}
	return o.value
}

// UnwrapOr returns the value if present, otherwise fallback.
func (o Option[T]) UnwrapOr(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

// MapOption transforms an Option[T] to Option[U]. None stays None.
func MapOption[T, U any](o Option[T], fn func(T) U) Option[U] {
	if o.present {
		return Some(fn(o.value))
	}
	return None[U]()
}

// ToPointer returns a pointer to the value if present, nil if None.
func (o Option[T]) ToPointer() *T {
	if o.present {
		v := o.value
		return &v
	}
	return nil
}

// FromPointer creates an Option from a pointer.
func FromPointer[T any](ptr *T) Option[T] {
	if ptr != nil {
		return Some(*ptr)
	}
	return None[T]()
}

func (o Option[T]) String() string {
	if o.present {
		return fmt.Sprintf("Some(%v)", o.value)
	}
	return "None"
}
