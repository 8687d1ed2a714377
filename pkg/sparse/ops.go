package sparse

import (
	"fmt"
	"sort"
)

// matches applies the find/count/replace/remove predicate to one slot.
func (a *Array) matches(index uint32, needle Value, notEqual bool) (bool, error) {
	v, _, err := a.load(index)
	if err != nil {
		return false, err
	}
	return v.Equal(needle) != notEqual, nil
}

// Find returns the first index >= start, in ascending order or descending
// with reverse, whose value equals needle (or differs from it, with notEqual).
// start bounds the index value from below in both directions.
func (a *Array) Find(start uint32, needle Value, reverse, notEqual bool) (int64, error) {
	if a == nil {
		return NotFound, nil
	}
	if err := a.checkKind(needle); err != nil {
		return NotFound, err
	}
	for _, idx := range a.SortedIndices(reverse) {
		if idx < start {
			continue
		}
		ok, err := a.matches(idx, needle, notEqual)
		if err != nil {
			return NotFound, err
		}
		if ok {
			return int64(idx), nil
		}
	}
	return NotFound, nil
}

// Count returns how many indices >= start satisfy the find predicate.
func (a *Array) Count(start uint32, needle Value, notEqual bool) (uint32, error) {
	if a == nil {
		return 0, nil
	}
	if err := a.checkKind(needle); err != nil {
		return 0, err
	}
	var n uint32
	for _, idx := range a.SortedIndices(false) {
		if idx < start {
			continue
		}
		ok, err := a.matches(idx, needle, notEqual)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Replace overwrites every index >= start satisfying the find predicate with
// replacement and returns how many slots were written. No index moves.
func (a *Array) Replace(start uint32, needle, replacement Value, notEqual bool) (uint32, error) {
	if a == nil {
		return 0, nil
	}
	if err := a.checkKind(needle); err != nil {
		return 0, err
	}
	if err := a.checkKind(replacement); err != nil {
		return 0, err
	}
	var n uint32
	for _, idx := range a.SortedIndices(false) {
		if idx < start {
			continue
		}
		ok, err := a.matches(idx, needle, notEqual)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		// Existing indices are rewritten in place, even above maxIndex.
		if err := a.back.Store(idx, replacement); err != nil {
			return n, fmt.Errorf("sparse: store %d: %w", idx, err)
		}
		n++
	}
	return n, nil
}

// Pop removes and returns the value at the highest occupied index. With lifo
// the tail is always taken; otherwise only when the tail index is >= start.
// The boolean is false, and the kind's zero value returned, when nothing was removed.
func (a *Array) Pop(start uint32, lifo bool) (Value, bool, error) {
	if a.Len() == 0 {
		return Zero(a.Kind()), false, nil
	}
	tail, _ := a.Max()
	if !lifo && tail < start {
		return Zero(a.kind), false, nil
	}
	v, _, err := a.load(tail)
	if err != nil {
		return Zero(a.kind), false, err
	}
	if err := a.Unset(tail); err != nil {
		return Zero(a.kind), false, err
	}
	return v, true, nil
}

// Shift removes one element and compacts the indices above it. With fifo the
// lowest occupied index is removed; otherwise only the index equal to start.
func (a *Array) Shift(start uint32, fifo bool) (Value, bool, error) {
	if a.Len() == 0 {
		return Zero(a.Kind()), false, nil
	}
	list := a.SortedIndices(false)
	i := 0
	if !fifo {
		i = sort.Search(len(list), func(k int) bool { return list[k] >= start })
		if i == len(list) || list[i] != start {
			return Zero(a.kind), false, nil
		}
	}
	v, _, err := a.load(list[i])
	if err != nil {
		return Zero(a.kind), false, err
	}
	if err := a.compact(list, i); err != nil {
		return Zero(a.kind), false, err
	}
	return v, true, nil
}

// Remove deletes every index >= start satisfying the find predicate,
// compacting after each removal, and returns the number removed. The scan
// re-examines the position it just compacted into.
func (a *Array) Remove(start uint32, needle Value, notEqual bool) (uint32, error) {
	if a == nil {
		return 0, nil
	}
	if err := a.checkKind(needle); err != nil {
		return 0, err
	}
	var n uint32
	list := a.SortedIndices(false)
	for i := 0; i < len(list); i++ {
		if list[i] < start {
			continue
		}
		ok, err := a.matches(list[i], needle, notEqual)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := a.compact(list, i); err != nil {
			return n, err
		}
		n++
		list = a.SortedIndices(false)
		i--
	}
	return n, nil
}

// Entries returns the number of occupied indices >= from.
func (a *Array) Entries(from uint32) uint32 {
	list := a.SortedIndices(false)
	k := sort.Search(len(list), func(k int) bool { return list[k] >= from })
	return uint32(len(list) - k)
}

// compact removes the element at sorted position i of list (the current
// ascending member list) and re-homes every later element per the policy.
func (a *Array) compact(list []uint32, i int) error {
	if a.compaction == CompactSlots {
		for k := i + 1; k < len(list); k++ {
			v, _, err := a.load(list[k])
			if err != nil {
				return err
			}
			if err := a.back.Store(list[k-1], v); err != nil {
				return err
			}
		}
		return a.Unset(list[len(list)-1])
	}

	// Dense: targets list[i], list[i]+1, ... are always below the index being
	// read, so walking upward never clobbers an unread value.
	dst := list[i]
	moved := len(list) - i - 1
	for k := i + 1; k < len(list); k++ {
		v, _, err := a.load(list[k])
		if err != nil {
			return err
		}
		target := dst + uint32(k-i-1)
		if err := a.back.Store(target, v); err != nil {
			return err
		}
		a.track(target)
	}
	for k := i; k < len(list); k++ {
		if moved > 0 && list[k] <= dst+uint32(moved-1) {
			continue
		}
		if err := a.Unset(list[k]); err != nil {
			return err
		}
	}
	return nil
}
