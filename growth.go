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

import (
	"errors"
	"math/bits"
)

// ErrCapacityExhausted is returned when a requested capacity exceeds the
// largest capacity the growth policy can represent. The request is never
// silently clamped.
var ErrCapacityExhausted = errors.New("backshift: maximum table capacity exceeded")

// GrowthPolicy determines how table capacities are chosen and how hash
// values are mapped to bucket indexes. It is a stateless capability injected
// at construction (see WithGrowthPolicy), allowing the indexing strategy to
// be swapped (e.g. for prime-sized tables) without touching the map engine.
type GrowthPolicy interface {
	// MinimumCapacity returns the smallest capacity a table may have.
	MinimumCapacity() int

	// ComputeClosestCapacity returns the smallest valid table capacity that
	// is >= minCapacity and >= MinimumCapacity. It returns
	// ErrCapacityExhausted if minCapacity exceeds the largest representable
	// capacity.
	ComputeClosestCapacity(minCapacity int) (int, error)

	// ComputeIndex maps an arbitrary value to an index in [0, capacity).
	// The map engine uses it to map a hash to its ideal index, to advance a
	// probe index, and to compute the forward distance between two indexes
	// during backward-shift deletion. The capacity is always a value
	// previously returned by ComputeClosestCapacity.
	ComputeIndex(value uint64, capacity int) int
}

const minimumCapacity = 8

// maxCapacity is the largest power of two representable as a non-negative
// int.
const maxCapacity = 1 << (bits.UintSize - 2)

// PowerOfTwoGrowthPolicy grows tables in powers of two, which turns the
// modulo in ComputeIndex into a bitmask. It is the default policy.
type PowerOfTwoGrowthPolicy struct{}

func (PowerOfTwoGrowthPolicy) MinimumCapacity() int {
	return minimumCapacity
}

func (PowerOfTwoGrowthPolicy) ComputeClosestCapacity(minCapacity int) (int, error) {
	if minCapacity > maxCapacity {
		return 0, ErrCapacityExhausted
	}
	if minCapacity < minimumCapacity {
		minCapacity = minimumCapacity
	}
	return 1 << bits.Len(uint(minCapacity-1)), nil
}

func (PowerOfTwoGrowthPolicy) ComputeIndex(value uint64, capacity int) int {
	return int(value & uint64(capacity-1))
}
