// Package fenwick implements the weighted selector behind winner resolution:
// a binary indexed tree over 1-based participant slots.
package fenwick

import (
	"math/bits"

	"github.com/stepychdev/winny/program/pkg/state"
)

// Tree is a Fenwick tree stored in a caller-owned slice. t[0] is unused and
// slots are 1..len(t)-1. The slice is usually backed by a fixed array on a
// persisted record so the tree and its slot indices never move.
type Tree []uint64

// Len returns the number of slots.
func (t Tree) Len() int {
	if len(t) == 0 {
		return 0
	}
	return len(t) - 1
}

// Add adds delta to the weight of slot index. On overflow nothing is written.
func (t Tree) Add(index int, delta uint64) error {
	if err := t.checkIndex("fenwick/add", index); err != nil {
		return err
	}
	for i := index; i <= t.Len(); i += i & -i {
		if _, carry := bits.Add64(t[i], delta, 0); carry != 0 {
			return state.Errorf(state.KindArithmeticOverflow, "fenwick/add", "slot %d weight overflows", index)
		}
	}
	for i := index; i <= t.Len(); i += i & -i {
		t[i] += delta
	}
	return nil
}

// Sub removes delta from the weight of slot index. It fails without writing
// when the slot holds less than delta.
func (t Tree) Sub(index int, delta uint64) error {
	if err := t.checkIndex("fenwick/sub", index); err != nil {
		return err
	}
	weight, err := t.Weight(index)
	if err != nil {
		return err
	}
	if weight < delta {
		return state.Errorf(state.KindArithmeticOverflow, "fenwick/sub", "slot %d weight %d below %d", index, weight, delta)
	}
	for i := index; i <= t.Len(); i += i & -i {
		t[i] -= delta
	}
	return nil
}

// Prefix returns the cumulative weight of slots 1..index.
func (t Tree) Prefix(index int) uint64 {
	if index > t.Len() {
		index = t.Len()
	}
	var sum uint64
	for i := index; i > 0; i -= i & -i {
		sum += t[i]
	}
	return sum
}

// Weight returns the weight of a single slot.
func (t Tree) Weight(index int) (uint64, error) {
	if err := t.checkIndex("fenwick/weight", index); err != nil {
		return 0, err
	}
	return t.Prefix(index) - t.Prefix(index-1), nil
}

// Total returns the sum of all slot weights.
func (t Tree) Total() uint64 {
	return t.Prefix(t.Len())
}

// Find returns the smallest slot i with Prefix(i) > target. target must be
// below Total. Find never writes to the tree.
func (t Tree) Find(target uint64) (int, error) {
	n := t.Len()
	if n == 0 {
		return 0, state.Errorf(state.KindInvalidArgument, "fenwick/find", "empty tree")
	}
	if total := t.Total(); target >= total {
		return 0, state.Errorf(state.KindInvalidArgument, "fenwick/find", "target %d outside [0, %d)", target, total)
	}

	pos := 0
	remaining := target
	for step := 1 << (bits.Len(uint(n)) - 1); step > 0; step >>= 1 {
		next := pos + step
		if next <= n && t[next] <= remaining {
			pos = next
			remaining -= t[next]
		}
	}
	return pos + 1, nil
}

func (t Tree) checkIndex(op string, index int) error {
	if index < 1 || index > t.Len() {
		return state.Errorf(state.KindInvalidArgument, op, "slot %d outside [1, %d]", index, t.Len())
	}
	return nil
}
