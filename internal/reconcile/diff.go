// Package reconcile computes minimal edit scripts between ordered snapshots
// and replays them against list observers.
package reconcile

import (
	"slices"
)

// Move relocates the item at From in the old snapshot to To in the new one
type Move struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Script is the edit script turning an old snapshot into a new one.
//
// Removed offsets and Move.From refer to the old snapshot, Inserted offsets
// and Move.To refer to the new one. Replay: drop every removed and moved item
// from old, then place every inserted and moved item at its new offset in
// ascending order.
type Script struct {
	Removed  []int  `json:"removed,omitempty"`  // descending
	Inserted []int  `json:"inserted,omitempty"` // ascending
	Moved    []Move `json:"moved,omitempty"`    // ascending by To
}

// Empty reports whether the script carries no operations
func (s Script) Empty() bool {
	return len(s.Removed) == 0 && len(s.Inserted) == 0 && len(s.Moved) == 0
}

// Diff computes the script between old and new. Items are compared by the
// identity returned from id; identities must be unique within a snapshot.
//
// A longest common subsequence over identities decides which items stay in
// place. Any identity that is both removed and inserted becomes a move.
func Diff[T any, K comparable](old, new []T, id func(T) K) Script {
	oldIDs := make([]K, len(old))
	for i, v := range old {
		oldIDs[i] = id(v)
	}
	newIDs := make([]K, len(new))
	for i, v := range new {
		newIDs[i] = id(v)
	}

	keepOld := make([]bool, len(oldIDs))
	keepNew := make([]bool, len(newIDs))

	// common prefix and suffix never need the table
	start := 0
	for start < len(oldIDs) && start < len(newIDs) && oldIDs[start] == newIDs[start] {
		keepOld[start], keepNew[start] = true, true
		start++
	}
	oldEnd, newEnd := len(oldIDs), len(newIDs)
	for oldEnd > start && newEnd > start && oldIDs[oldEnd-1] == newIDs[newEnd-1] {
		oldEnd--
		newEnd--
		keepOld[oldEnd], keepNew[newEnd] = true, true
	}

	markCommon(oldIDs[start:oldEnd], newIDs[start:newEnd], keepOld[start:oldEnd], keepNew[start:newEnd])

	insertedAt := make(map[K]int)
	for j, k := range newIDs {
		if !keepNew[j] {
			insertedAt[k] = j
		}
	}

	var script Script
	removedIDs := make(map[K]struct{})
	for i := len(oldIDs) - 1; i >= 0; i-- {
		if keepOld[i] {
			continue
		}
		k := oldIDs[i]
		removedIDs[k] = struct{}{}
		if to, ok := insertedAt[k]; ok {
			script.Moved = append(script.Moved, Move{From: i, To: to})
			continue
		}
		script.Removed = append(script.Removed, i)
	}
	for j, k := range newIDs {
		if keepNew[j] {
			continue
		}
		if _, moved := removedIDs[k]; moved {
			continue
		}
		script.Inserted = append(script.Inserted, j)
	}
	slices.SortFunc(script.Moved, func(a, b Move) int { return a.To - b.To })

	return script
}

// markCommon flags one longest common subsequence of a and b
func markCommon[K comparable](a, b []K, keepA, keepB []bool) {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return
	}

	// lengths[i][j] is the LCS length of a[i:] and b[j:]
	lengths := make([][]int, n+1)
	for i := range lengths {
		lengths[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lengths[i][j] = lengths[i+1][j+1] + 1
			} else {
				lengths[i][j] = max(lengths[i+1][j], lengths[i][j+1])
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			keepA[i], keepB[j] = true, true
			i++
			j++
		case lengths[i+1][j] >= lengths[i][j+1]:
			i++
		default:
			j++
		}
	}
}

type placement[T any] struct {
	at   int
	item T
}

// Apply replays script on old, taking inserted items from new. It is the
// reference semantics an observer must implement.
func Apply[T any](old []T, script Script, new []T) []T {
	drop := make(map[int]struct{}, len(script.Removed)+len(script.Moved))
	for _, i := range script.Removed {
		drop[i] = struct{}{}
	}
	places := make([]placement[T], 0, len(script.Inserted)+len(script.Moved))
	for _, m := range script.Moved {
		drop[m.From] = struct{}{}
		places = append(places, placement[T]{at: m.To, item: old[m.From]})
	}
	for _, j := range script.Inserted {
		places = append(places, placement[T]{at: j, item: new[j]})
	}
	slices.SortFunc(places, func(a, b placement[T]) int { return a.at - b.at })

	out := make([]T, 0, len(new))
	for i, v := range old {
		if _, ok := drop[i]; !ok {
			out = append(out, v)
		}
	}
	for _, p := range places {
		out = slices.Insert(out, p.at, p.item)
	}
	return out
}
