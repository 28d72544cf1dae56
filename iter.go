// Copyright 2025 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backshift

// Iterator is a cursor over the entries of a Map: a map reference plus a
// slot index. Two iterators are equal (==) iff they refer to the same map
// and the same index. An iterator is invalidated by any rehash and by any
// erase, whether or not the erased entry is the one it points at.
//
// The end iterator, returned by End(), sits one past the last slot and must
// never be dereferenced.
type Iterator[K comparable, V any] struct {
	m   *Map[K, V]
	idx int
}

// Begin returns an iterator at the first occupied slot, or End() if the map
// is empty.
func (m *Map[K, V]) Begin() Iterator[K, V] {
	return Iterator[K, V]{m: m}.advancePastEmpty()
}

// End returns the one-past-last iterator.
func (m *Map[K, V]) End() Iterator[K, V] {
	return Iterator[K, V]{m: m, idx: len(m.slots)}
}

// CBegin returns a read-only iterator at the first occupied slot.
func (m *Map[K, V]) CBegin() ConstIterator[K, V] {
	return m.Begin().Const()
}

// CEnd returns the read-only one-past-last iterator.
func (m *Map[K, V]) CEnd() ConstIterator[K, V] {
	return m.End().Const()
}

// Next returns an iterator at the next occupied slot, or End() if there is
// none.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	it.idx++
	return it.advancePastEmpty()
}

// Key returns the key of the entry the iterator points at.
func (it Iterator[K, V]) Key() K {
	return it.m.slots[it.idx].key
}

// Value returns the value of the entry the iterator points at.
func (it Iterator[K, V]) Value() V {
	return it.m.slots[it.idx].value
}

// SetValue replaces the value of the entry the iterator points at.
func (it Iterator[K, V]) SetValue(value V) {
	it.m.slots[it.idx].value = value
}

// Const converts the iterator to its read-only counterpart. The conversion
// only goes this way: a ConstIterator cannot be widened back to an Iterator.
func (it Iterator[K, V]) Const() ConstIterator[K, V] {
	return ConstIterator[K, V]{m: it.m, idx: it.idx}
}

func (it Iterator[K, V]) advancePastEmpty() Iterator[K, V] {
	for it.idx < len(it.m.slots) && it.m.keyEq(it.m.slots[it.idx].key, it.m.emptyKey) {
		it.idx++
	}
	return it
}

// ConstIterator is the read-only counterpart of Iterator: same cursor
// representation, no SetValue.
type ConstIterator[K comparable, V any] struct {
	m   *Map[K, V]
	idx int
}

// Next returns an iterator at the next occupied slot, or CEnd() if there is
// none.
func (it ConstIterator[K, V]) Next() ConstIterator[K, V] {
	it.idx++
	for it.idx < len(it.m.slots) && it.m.keyEq(it.m.slots[it.idx].key, it.m.emptyKey) {
		it.idx++
	}
	return it
}

// Key returns the key of the entry the iterator points at.
func (it ConstIterator[K, V]) Key() K {
	return it.m.slots[it.idx].key
}

// Value returns the value of the entry the iterator points at.
func (it ConstIterator[K, V]) Value() V {
	return it.m.slots[it.idx].value
}
