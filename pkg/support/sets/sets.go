// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements an unordered Set (a `map[T]struct{}` with better ergonomics) and
// an insertion-ordered set, used where iteration order must be reproducible.
package sets

import (
	"cmp"
	"slices"
)

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// MakeWith creates a Set[T] with the given elements inserted.
func MakeWith[T comparable](elements ...T) Set[T] {
	s := Make[T](len(elements))
	s.Insert(elements...)
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Sub returns `s - s2`, that is, all elements in `s` that are not in `s2`.
func (s Set[T]) Sub(s2 Set[T]) Set[T] {
	sub := Make[T]()
	for k := range s {
		if !s2.Has(k) {
			sub.Insert(k)
		}
	}
	return sub
}

// Sorted returns the elements of s in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	keys := make([]T, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Ordered is a set that remembers the order in which elements were first inserted.
//
// The zero value is not usable, create it with MakeOrdered.
type Ordered[T comparable] struct {
	index    map[T]int
	elements []T
}

// MakeOrdered returns an empty Ordered set.
func MakeOrdered[T comparable]() *Ordered[T] {
	return &Ordered[T]{index: make(map[T]int)}
}

// Insert appends key if it is not yet present. It returns true if the key was new.
func (o *Ordered[T]) Insert(key T) bool {
	if _, found := o.index[key]; found {
		return false
	}
	o.index[key] = len(o.elements)
	o.elements = append(o.elements, key)
	return true
}

// Has returns whether key is in the set.
func (o *Ordered[T]) Has(key T) bool {
	_, found := o.index[key]
	return found
}

// Len returns the number of elements.
func (o *Ordered[T]) Len() int {
	return len(o.elements)
}

// Elements returns a copy of the elements in insertion order.
func (o *Ordered[T]) Elements() []T {
	return slices.Clone(o.elements)
}

// At returns the i-th inserted element.
func (o *Ordered[T]) At(i int) T {
	return o.elements[i]
}
