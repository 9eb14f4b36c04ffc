package util

// Set holds comparable values with constant-time membership checks
type Set[K comparable] map[K]struct{}

// SetOf creates a set from the given elements
func SetOf[K comparable](elements ...K) Set[K] {
	s := make(Set[K], len(elements))
	for _, elem := range elements {
		s.Add(elem)
	}
	return s
}

// Add inserts an element into the set
func (s Set[K]) Add(key K) {
	s[key] = struct{}{}
}

// Remove deletes an element from the set
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether the element is in the set
func (s Set[K]) Contains(key K) bool {
	_, exists := s[key]
	return exists
}

// IsEmpty reports whether the set has no elements
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}

// Members returns the set's elements as a slice in arbitrary order
func (s Set[K]) Members() []K {
	res := make([]K, 0, len(s))
	for k := range s {
		res = append(res, k)
	}
	return res
}
