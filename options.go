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

import "unsafe"

// option provides an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash Hasher[K]
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
func WithHash[K comparable, V any](hash Hasher[K]) option[K, V] {
	return hashOption[K, V]{hash}
}

type keyEqualOption[K comparable, V any] struct {
	keyEq KeyEqual[K]
}

func (op keyEqualOption[K, V]) apply(m *Map[K, V]) {
	m.keyEq = op.keyEq
}

// WithKeyEqual is an option to specify the key equivalence function to use
// for a Map[K,V]. It must be consistent with the map's hash function.
func WithKeyEqual[K comparable, V any](keyEq KeyEqual[K]) option[K, V] {
	return keyEqualOption[K, V]{keyEq}
}

type growthPolicyOption[K comparable, V any] struct {
	policy GrowthPolicy
}

func (op growthPolicyOption[K, V]) apply(m *Map[K, V]) {
	m.policy = op.policy
}

// WithGrowthPolicy is an option to specify the growth policy to use for a
// Map[K,V] in place of PowerOfTwoGrowthPolicy.
func WithGrowthPolicy[K comparable, V any](policy GrowthPolicy) option[K, V] {
	return growthPolicyOption[K, V]{policy}
}

type growthFactorOption[K comparable, V any] struct {
	factor int
}

func (op growthFactorOption[K, V]) apply(m *Map[K, V]) {
	m.growthFactor = op.factor
}

// WithGrowthFactor is an option to override DefaultGrowthFactor, the
// multiple by which the capacity grows on an insert-triggered rehash. The
// factor must be at least 2.
func WithGrowthFactor[K comparable, V any](factor int) option[K, V] {
	if factor < 2 {
		panic("backshift: growth factor must be at least 2")
	}
	return growthFactorOption[K, V]{factor}
}

// Allocator specifies an interface for allocating and releasing the slot
// storage used by a Map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Map.Close must be called in order to ensure Free is called for
// the final table.
type Allocator[K comparable, V any] interface {
	// Alloc should return a slice equivalent to make([]Slot[K,V], n), or an
	// error if the request cannot be satisfied. The error is propagated
	// unchanged to the caller of the map operation that needed the storage.
	Alloc(n int) ([]Slot[K, V], error)

	// Free can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc.
	Free(slots []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) Alloc(n int) ([]Slot[K, V], error) {
	return make([]Slot[K, V], n), nil
}

func (defaultAllocator[K, V]) Free(slots []Slot[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

// MemoryCounter accumulates the bytes currently and maximally held by the
// allocators it is attached to. It is an explicit handle passed to
// NewCountingAllocator, never process-wide state, so independent maps can be
// accounted independently. Like the Map itself it is not goroutine-safe.
type MemoryCounter struct {
	curBytes  int
	peakBytes int
}

// CurrentBytes returns the bytes currently allocated.
func (c *MemoryCounter) CurrentBytes() int {
	return c.curBytes
}

// PeakBytes returns the high-water mark of allocated bytes.
func (c *MemoryCounter) PeakBytes() int {
	return c.peakBytes
}

// Reset zeroes both the current and peak counts.
func (c *MemoryCounter) Reset() {
	c.curBytes = 0
	c.peakBytes = 0
}

// ResetPeak zeroes the peak count, leaving the current count intact.
func (c *MemoryCounter) ResetPeak() {
	c.peakBytes = 0
}

func (c *MemoryCounter) use(bytes int) {
	c.curBytes += bytes
	if c.curBytes > c.peakBytes {
		c.peakBytes = c.curBytes
	}
}

func (c *MemoryCounter) reclaim(bytes int) {
	c.curBytes -= bytes
}

type countingAllocator[K comparable, V any] struct {
	counter *MemoryCounter
	wrapped Allocator[K, V]
}

// NewCountingAllocator decorates wrapped with byte accounting recorded in
// counter. A nil wrapped allocator means the default allocator.
func NewCountingAllocator[K comparable, V any](
	counter *MemoryCounter, wrapped Allocator[K, V],
) Allocator[K, V] {
	if wrapped == nil {
		wrapped = defaultAllocator[K, V]{}
	}
	return countingAllocator[K, V]{counter: counter, wrapped: wrapped}
}

func (a countingAllocator[K, V]) Alloc(n int) ([]Slot[K, V], error) {
	slots, err := a.wrapped.Alloc(n)
	if err != nil {
		return nil, err
	}
	a.counter.use(n * int(unsafe.Sizeof(Slot[K, V]{})))
	return slots, nil
}

func (a countingAllocator[K, V]) Free(slots []Slot[K, V]) {
	a.wrapped.Free(slots)
	a.counter.reclaim(len(slots) * int(unsafe.Sizeof(Slot[K, V]{})))
}
