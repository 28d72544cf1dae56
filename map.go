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

// Package backshift is a Go implementation of a hash map using open
// addressing with linear probing and backward-shift deletion. If you're not
// familiar with open addressing see
// https://en.wikipedia.org/wiki/Open_addressing and
// https://en.wikipedia.org/wiki/Linear_probing.
//
// # Design
//
// All entries are stored directly in a single flat array of slots whose
// length is always a power of two, which turns the modulo in index
// computation into a bitmask. A slot is empty iff its key equals a sentinel
// "empty key" that the caller supplies at construction and promises never to
// store. The sentinel is the sole emptiness marker: there is no occupancy
// bitmap and there are no deletion tombstones. Key domains that lack a value
// which can be sacrificed as the sentinel are deliberately out of scope.
//
// Lookup computes the key's ideal index from its hash and scans forward one
// slot at a time until it finds the key or an empty slot. This works because
// the table maintains the probe-chain invariant: for every stored key, every
// slot between the key's ideal index and its actual index is occupied.
//
// Deletion preserves that invariant without tombstones by shifting later
// entries in the probe chain backward to close the gap. Avoiding tombstones
// keeps probe sequences short under high churn (many paired inserts and
// erases), where tombstone schemes degrade until most of the table is marked
// deleted.
//
// The maximum load factor is fixed at 50%: an insert that would push the
// table past half full quadruples the capacity first, so an empty slot is
// guaranteed to exist on every probe sequence and every operation is
// bounded. The cost is memory: at least half of the table is always empty.
//
// # Invalidation
//
// No iterator, value pointer, or iteration position survives a rehash or an
// erase: a rehash reallocates the table wholesale, and an erase may shift
// entries backward into different slots. Iteration order is the physical
// slot order, not insertion order, and is not stable across rehash or erase.
//
// A Map is NOT goroutine-safe. Callers needing concurrent access must
// serialize externally.
package backshift

import (
	"errors"
	"fmt"
	"hash/maphash"
)

const debug = false

// maxLoadFactor is the fixed ceiling on size/capacity. The engine relies on
// it being at most 0.5 so that a linear probe always terminates at an empty
// slot; it is not user-tunable.
const maxLoadFactor = 0.5

// DefaultGrowthFactor is the multiple by which the table capacity grows when
// an insert trips the load factor ceiling. The quadrupling is inherited
// tuning; use WithGrowthFactor to override it.
const DefaultGrowthFactor = 4

// ErrNotFound is returned by At for a key that is not present.
var ErrNotFound = errors.New("backshift: key not found")

// Hasher maps a key to a 64-bit hash. It must be deterministic and must
// agree with the map's KeyEqual: keys that compare equal must hash equal.
type Hasher[K comparable] func(key K, seed maphash.Seed) uint64

// KeyEqual is an equivalence relation over keys, consistent with the map's
// Hasher.
type KeyEqual[K comparable] func(a, b K) bool

func defaultHasher[K comparable](key K, seed maphash.Seed) uint64 {
	return maphash.Comparable(seed, key)
}

func defaultKeyEqual[K comparable](a, b K) bool {
	return a == b
}

// Slot holds a key and value. A slot is empty iff its key equals the map's
// empty sentinel key; empty slots always hold a zero value so that an insert
// need only set the key and value.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// Map is an unordered map from keys to values. One key value, chosen by the
// caller at construction, is reserved as the empty sentinel and may never be
// stored; passing it to any keyed operation panics.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	hash  Hasher[K]
	keyEq KeyEqual[K]
	seed  maphash.Seed
	// The allocator to use for the slots slice.
	allocator Allocator[K, V]
	// The policy mapping requested capacities to table capacities and
	// hashes to indexes.
	policy       GrowthPolicy
	growthFactor int
	emptyKey     K
	// slots is BucketCount in length, every empty slot keyed by emptyKey.
	slots []Slot[K, V]
	// The number of occupied slots.
	size int
}

// New constructs a Map whose initial capacity is capacityHint rounded up by
// the growth policy, never less than the policy's minimum. emptyKey is the
// sentinel that marks a slot empty; it can never be stored as a real key.
func New[K comparable, V any](capacityHint int, emptyKey K, options ...option[K, V]) (*Map[K, V], error) {
	m := &Map[K, V]{
		hash:         defaultHasher[K],
		keyEq:        defaultKeyEqual[K],
		seed:         maphash.MakeSeed(),
		allocator:    defaultAllocator[K, V]{},
		policy:       PowerOfTwoGrowthPolicy{},
		growthFactor: DefaultGrowthFactor,
		emptyKey:     emptyKey,
	}
	for _, op := range options {
		op.apply(m)
	}

	capacity, err := m.policy.ComputeClosestCapacity(capacityHint)
	if err != nil {
		return nil, err
	}
	slots, err := m.allocator.Alloc(capacity)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		slots[i] = Slot[K, V]{key: emptyKey}
	}
	m.slots = slots

	m.checkInvariants()
	return m, nil
}

// Close releases the table back to the map's allocator. It is unnecessary to
// close a map using the default allocator. It is invalid to use a Map after
// it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.slots != nil {
		m.allocator.Free(m.slots)
		m.slots = nil
		m.size = 0
	}
	m.allocator = nil
}

// Insert inserts an entry into the map if no entry with the same key exists.
// It returns an iterator at the entry and whether an insertion took place;
// if the key was already present the stored value is NOT overwritten. Insert
// may grow the table first, so the returned error is non-nil if growth hits
// the allocator or capacity limits.
//
// Inserting the empty sentinel key panics.
func (m *Map[K, V]) Insert(key K, value V) (Iterator[K, V], bool, error) {
	idx, inserted, err := m.insertSlot(key)
	if err != nil {
		return m.End(), false, err
	}
	if inserted {
		m.slots[idx].value = value
	}
	m.checkInvariants()
	return Iterator[K, V]{m: m, idx: idx}, inserted, nil
}

// Emplace is Insert with a lazily constructed value: construct is invoked
// only if an insertion actually takes place.
func (m *Map[K, V]) Emplace(key K, construct func() V) (Iterator[K, V], bool, error) {
	idx, inserted, err := m.insertSlot(key)
	if err != nil {
		return m.End(), false, err
	}
	if inserted {
		m.slots[idx].value = construct()
	}
	m.checkInvariants()
	return Iterator[K, V]{m: m, idx: idx}, inserted, nil
}

// GetOrInsert returns a pointer to the value stored for key, inserting a
// zero value first if the key is absent. The pointer is invalidated by any
// subsequent rehash or erase.
func (m *Map[K, V]) GetOrInsert(key K) (*V, error) {
	idx, _, err := m.insertSlot(key)
	if err != nil {
		return nil, err
	}
	m.checkInvariants()
	return &m.slots[idx].value, nil
}

// insertSlot finds the slot for key, claiming an empty one if the key is not
// present. On insertion the slot's value is the zero value (empty slots are
// kept fully zeroed) and the caller is expected to fill it in.
func (m *Map[K, V]) insertSlot(key K) (idx int, inserted bool, err error) {
	m.checkKey(key)

	if err := m.growForInsert(); err != nil {
		return 0, false, err
	}

	for idx := m.idealIndex(key); ; idx = m.probeNext(idx) {
		slot := &m.slots[idx]
		if m.keyEq(slot.key, m.emptyKey) {
			if debug {
				fmt.Printf("insert(%v): index=%d size=%d\n", key, idx, m.size+1)
			}
			slot.key = key
			m.size++
			return idx, true, nil
		}
		if m.keyEq(slot.key, key) {
			return idx, false, nil
		}
	}
}

// growForInsert rehashes to a larger table if one more entry would push the
// load factor past maxLoadFactor. Growing first guarantees an empty slot
// exists on every probe sequence, which is what bounds the probe loops.
func (m *Map[K, V]) growForInsert() error {
	// With the default policy the capacity is an even power of two, so
	// len/2 is exactly capacity*maxLoadFactor.
	if m.size+1 <= len(m.slots)/2 {
		return nil
	}
	if len(m.slots) > maxCapacity/m.growthFactor {
		return ErrCapacityExhausted
	}
	return m.Rehash(m.growthFactor * len(m.slots))
}

// Find returns an iterator at the entry for key, or End() if the key is not
// present. Passing the empty sentinel key panics.
func (m *Map[K, V]) Find(key K) Iterator[K, V] {
	m.checkKey(key)

	// NB: the probe loop is repeated in insertSlot, FindBy, and Erase rather
	// than shared through a closure to keep these hot paths free of
	// indirection.
	for idx := m.idealIndex(key); ; idx = m.probeNext(idx) {
		if m.keyEq(m.slots[idx].key, key) {
			return Iterator[K, V]{m: m, idx: idx}
		}
		if m.keyEq(m.slots[idx].key, m.emptyKey) {
			return m.End()
		}
	}
}

// FindBy looks up an entry by a precomputed hash and an equivalence
// predicate, allowing lookups by a type other than K (for example, []byte
// lookups in a Map[string,V]). hash must be consistent with the map's Hasher
// and Seed for the key the predicate accepts, and eq must never accept the
// empty sentinel key.
func (m *Map[K, V]) FindBy(hash uint64, eq func(key K) bool) Iterator[K, V] {
	for idx := m.policy.ComputeIndex(hash, len(m.slots)); ; idx = m.probeNext(idx) {
		if m.keyEq(m.slots[idx].key, m.emptyKey) {
			return m.End()
		}
		if eq(m.slots[idx].key) {
			return Iterator[K, V]{m: m, idx: idx}
		}
	}
}

// At returns the value stored for key, or ErrNotFound if the key is not
// present. The map is not modified on a miss.
func (m *Map[K, V]) At(key K) (V, error) {
	if it := m.Find(key); it != m.End() {
		return m.slots[it.idx].value, nil
	}
	var zero V
	return zero, ErrNotFound
}

// Count returns the number of entries stored for key: 1 or 0.
func (m *Map[K, V]) Count(key K) int {
	if m.Find(key) != m.End() {
		return 1
	}
	return 0
}

// Erase removes the entry the iterator points at, using backward-shift
// deletion: later entries in the probe chain are moved backward to close the
// gap so that no tombstone is needed and every remaining key stays reachable
// from its ideal index. Erasing End() or an otherwise invalid iterator
// panics.
func (m *Map[K, V]) Erase(it Iterator[K, V]) {
	if it.m != m || it.idx < 0 || it.idx >= len(m.slots) ||
		m.keyEq(m.slots[it.idx].key, m.emptyKey) {
		panic("backshift: Erase of invalid iterator")
	}

	bucket := it.idx
	for idx := m.probeNext(bucket); ; idx = m.probeNext(idx) {
		if m.keyEq(m.slots[idx].key, m.emptyKey) {
			// End of the probe chain: nothing further along could legally
			// move backward, so the hole at bucket becomes empty.
			m.slots[bucket] = Slot[K, V]{key: m.emptyKey}
			m.size--
			if debug {
				fmt.Printf("erase: cleared index=%d size=%d\n", bucket, m.size)
			}
			m.checkInvariants()
			return
		}

		ideal := m.idealIndex(m.slots[idx].key)
		if m.probeDistance(bucket, ideal) < m.probeDistance(idx, ideal) {
			// bucket is closer to the occupant's ideal index than its
			// current slot, so moving it backward keeps its probe chain
			// gap-free. The occupant's old slot becomes the new hole.
			if debug {
				fmt.Printf("erase: shift %d -> %d\n", idx, bucket)
			}
			m.slots[bucket] = m.slots[idx]
			bucket = idx
		}
	}
}

// EraseKey removes the entry for key if present, returning the number of
// entries removed: 1 or 0. Passing the empty sentinel key panics.
func (m *Map[K, V]) EraseKey(key K) int {
	it := m.Find(key)
	if it == m.End() {
		return 0
	}
	m.Erase(it)
	return 1
}

// EraseBy removes the entry located by FindBy(hash, eq) if present,
// returning the number of entries removed: 1 or 0.
func (m *Map[K, V]) EraseBy(hash uint64, eq func(key K) bool) int {
	it := m.FindBy(hash, eq)
	if it == m.End() {
		return 0
	}
	m.Erase(it)
	return 1
}

// Rehash reallocates the table with capacity for at least count buckets
// (clamped so the current entries still fit under the load factor ceiling,
// and to the policy minimum) and re-inserts every entry by its hash. All
// iterators and value pointers are invalidated. The map is unchanged if the
// new table cannot be allocated.
func (m *Map[K, V]) Rehash(count int) error {
	if min := m.policy.MinimumCapacity(); count < min {
		count = min
	}
	// ceil(size/maxLoadFactor): the new table must hold the current entries
	// at no more than half full.
	if need := 2 * m.size; count < need {
		count = need
	}
	capacity, err := m.policy.ComputeClosestCapacity(count)
	if err != nil {
		return err
	}

	fresh, err := m.allocator.Alloc(capacity)
	if err != nil {
		return err
	}
	for i := range fresh {
		fresh[i] = Slot[K, V]{key: m.emptyKey}
	}

	if debug {
		fmt.Printf("rehash: capacity=%d->%d size=%d\n", len(m.slots), capacity, m.size)
	}

	old := m.slots
	m.slots = fresh
	m.size = 0
	for i := range old {
		if !m.keyEq(old[i].key, m.emptyKey) {
			m.uncheckedInsert(old[i].key, old[i].value)
		}
	}
	if old != nil {
		m.allocator.Free(old)
	}

	m.checkInvariants()
	return nil
}

// Reserve grows the table as needed so that n entries can be inserted
// without further rehashing.
func (m *Map[K, V]) Reserve(n int) error {
	if n > maxCapacity/2 {
		return ErrCapacityExhausted
	}
	// ceil(n/maxLoadFactor).
	return m.Rehash(2 * n)
}

// uncheckedInsert inserts an entry known not to be in the table into a table
// known to have room for it. Used by Rehash and Clone.
func (m *Map[K, V]) uncheckedInsert(key K, value V) {
	for idx := m.idealIndex(key); ; idx = m.probeNext(idx) {
		if m.keyEq(m.slots[idx].key, m.emptyKey) {
			m.slots[idx] = Slot[K, V]{key: key, value: value}
			m.size++
			return
		}
	}
}

// Clear removes all entries. The capacity is unchanged.
func (m *Map[K, V]) Clear() {
	for i := range m.slots {
		if !m.keyEq(m.slots[i].key, m.emptyKey) {
			m.slots[i] = Slot[K, V]{key: m.emptyKey}
		}
	}
	m.size = 0
	m.checkInvariants()
}

// Swap exchanges the contents of two maps, including their configured
// capabilities, without copying entries.
func (m *Map[K, V]) Swap(other *Map[K, V]) {
	*m, *other = *other, *m
}

// Clone returns a deep copy of the map: a freshly sized table holding every
// entry, sharing the original's hasher, seed, allocator, and policy.
func (m *Map[K, V]) Clone() (*Map[K, V], error) {
	other := &Map[K, V]{
		hash:         m.hash,
		keyEq:        m.keyEq,
		seed:         m.seed,
		allocator:    m.allocator,
		policy:       m.policy,
		growthFactor: m.growthFactor,
		emptyKey:     m.emptyKey,
	}
	slots, err := other.allocator.Alloc(len(m.slots))
	if err != nil {
		return nil, err
	}
	for i := range slots {
		slots[i] = Slot[K, V]{key: other.emptyKey}
	}
	other.slots = slots

	for i := range m.slots {
		if !m.keyEq(m.slots[i].key, m.emptyKey) {
			other.uncheckedInsert(m.slots[i].key, m.slots[i].value)
		}
	}
	other.checkInvariants()
	return other, nil
}

// All calls yield sequentially for each key and value present in the map, in
// physical slot order, stopping early if yield returns false. The slice
// backing the iteration is snapshotted, so the iteration remains valid if
// the map is rehashed by yield, though mutations may not be visible to it.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	slots := m.slots
	for i := range slots {
		if !m.keyEq(slots[i].key, m.emptyKey) {
			if !yield(slots[i].key, slots[i].value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.size
}

// Empty reports whether the map has no entries.
func (m *Map[K, V]) Empty() bool {
	return m.size == 0
}

// MaxSize returns the largest number of entries a map can hold: half of the
// largest representable table, reflecting the 50% load factor ceiling.
func (m *Map[K, V]) MaxSize() int {
	return maxCapacity / 2
}

// BucketCount returns the current table capacity.
func (m *Map[K, V]) BucketCount() int {
	return len(m.slots)
}

// MaxBucketCount returns the largest representable table capacity.
func (m *Map[K, V]) MaxBucketCount() int {
	return maxCapacity
}

// MaxLoadFactor returns the fixed load factor ceiling of 0.5.
func (m *Map[K, V]) MaxLoadFactor() float64 {
	return maxLoadFactor
}

// Hash returns the map's hasher.
func (m *Map[K, V]) Hash() Hasher[K] {
	return m.hash
}

// KeyEq returns the map's key equivalence function.
func (m *Map[K, V]) KeyEq() KeyEqual[K] {
	return m.keyEq
}

// Seed returns the seed the map passes to its hasher. Callers of FindBy and
// EraseBy need it to compute consistent hashes.
func (m *Map[K, V]) Seed() maphash.Seed {
	return m.seed
}

// GrowthFactor returns the multiple by which the capacity grows on an
// insert-triggered rehash.
func (m *Map[K, V]) GrowthFactor() int {
	return m.growthFactor
}

func (m *Map[K, V]) checkKey(key K) {
	if m.keyEq(key, m.emptyKey) {
		panic("backshift: the empty sentinel key may not be used as a key")
	}
}

func (m *Map[K, V]) hashKey(key K) uint64 {
	return m.hash(key, m.seed)
}

func (m *Map[K, V]) idealIndex(key K) int {
	return m.policy.ComputeIndex(m.hashKey(key), len(m.slots))
}

func (m *Map[K, V]) probeNext(idx int) int {
	return m.policy.ComputeIndex(uint64(idx+1), len(m.slots))
}

// probeDistance returns the forward distance from index from to index to
// along the probe sequence, computed with the same masked subtraction the
// probe uses.
func (m *Map[K, V]) probeDistance(to, from int) int {
	return m.policy.ComputeIndex(uint64(len(m.slots)+to-from), len(m.slots))
}

// checkInvariants verifies the structural invariants of the table. Compiled
// away unless the invariants build tag is set.
func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if n := len(m.slots); n < m.policy.MinimumCapacity() {
			panic(fmt.Sprintf("invariant failed: capacity %d below the policy minimum %d\n%s",
				n, m.policy.MinimumCapacity(), m.debugString()))
		}
		if n := len(m.slots); n&(n-1) != 0 {
			if _, ok := m.policy.(PowerOfTwoGrowthPolicy); ok {
				panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two\n%s",
					n, m.debugString()))
			}
		}

		var size int
		for i := range m.slots {
			if m.keyEq(m.slots[i].key, m.emptyKey) {
				continue
			}
			size++
			// Every occupied slot must be reachable by probing from its
			// ideal index, i.e. no gap precedes it in its probe chain.
			if it := m.Find(m.slots[i].key); it.idx != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v found at %d\n%s",
					i, m.slots[i].key, it.idx, m.debugString()))
			}
		}

		if size != m.size {
			panic(fmt.Sprintf("invariant failed: found %d occupied slots, but size is %d\n%s",
				size, m.size, m.debugString()))
		}
		if 2*m.size > len(m.slots) {
			panic(fmt.Sprintf("invariant failed: size %d exceeds half of capacity %d\n%s",
				m.size, len(m.slots), m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf []byte
	buf = fmt.Appendf(buf, "capacity=%d size=%d\n", len(m.slots), m.size)
	for i := range m.slots {
		if m.keyEq(m.slots[i].key, m.emptyKey) {
			buf = fmt.Appendf(buf, "  %4d: empty\n", i)
		} else {
			buf = fmt.Appendf(buf, "  %4d: %v [ideal=%d]\n",
				i, m.slots[i].key, m.idealIndex(m.slots[i].key))
		}
	}
	return string(buf)
}
