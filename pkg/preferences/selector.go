package preferences

// Selector is either "*" (Any) or one specific selection.
type Selector[T comparable] struct {
	Any   bool
	Value T
}

// AnySelector returns the "*" selector.
func AnySelector[T comparable]() Selector[T] {
	return Selector[T]{Any: true}
}

// Specific returns a selector for exactly v.
func Specific[T comparable](v T) Selector[T] {
	return Selector[T]{Value: v}
}

// Select returns the candidates matched by the selector, in candidate order.
func (s Selector[T]) Select(candidates []T) []T {
	if s.Any {
		return append([]T(nil), candidates...)
	}
	for _, c := range candidates {
		if c == s.Value {
			return []T{c}
		}
	}
	return nil
}

// Matches reports whether the selector matches v.
func (s Selector[T]) Matches(v T) bool {
	return s.Any || s.Value == v
}
