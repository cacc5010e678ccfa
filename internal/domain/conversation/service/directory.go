package service

import (
	"slices"
	"time"

	"github.com/vadim/neo-session/internal/dispatch"
)

// Directory is a membership table guarded by its own queue. Besides the
// live entries it keeps a temporary namespace where an entry waits, under
// its old key, for the second half of a rename.
type Directory[K comparable, V any] struct {
	q       *dispatch.Queue
	entries map[K]V
	temp    map[K]staged[K, V]
}

type staged[K comparable, V any] struct {
	value  V
	target K
	at     time.Time
}

// NewDirectory creates an empty directory
func NewDirectory[K comparable, V any](label string) *Directory[K, V] {
	return &Directory[K, V]{
		q:       dispatch.NewQueue(label),
		entries: make(map[K]V),
		temp:    make(map[K]staged[K, V]),
	}
}

// Upsert inserts or replaces the entry for k and returns the previous one
func (d *Directory[K, V]) Upsert(k K, v V) (old V, existed bool) {
	d.q.Barrier(func() {
		old, existed = d.entries[k]
		d.entries[k] = v
	})
	return old, existed
}

// Remove deletes the entry for k
func (d *Directory[K, V]) Remove(k K) (old V, existed bool) {
	d.q.Barrier(func() {
		old, existed = d.entries[k]
		delete(d.entries, k)
	})
	return old, existed
}

// Get returns the entry for k
func (d *Directory[K, V]) Get(k K) (v V, ok bool) {
	d.q.Sync(func() {
		v, ok = d.entries[k]
	})
	return v, ok
}

// List returns every entry in one dispatch, ordered by cmp
func (d *Directory[K, V]) List(cmp func(a, b V) int) []V {
	var out []V
	d.q.Sync(func() {
		out = make([]V, 0, len(d.entries))
		for _, v := range d.entries {
			out = append(out, v)
		}
	})
	if cmp != nil {
		slices.SortFunc(out, cmp)
	}
	return out
}

// Len returns the number of live entries
func (d *Directory[K, V]) Len() int {
	var n int
	d.q.Sync(func() { n = len(d.entries) })
	return n
}

// Clear drops every live and staged entry
func (d *Directory[K, V]) Clear() {
	d.q.Barrier(func() {
		clear(d.entries)
		clear(d.temp)
	})
}

// Stage moves the entry for from into the temporary namespace until an
// entry for to is consumed. v replaces the live value when given.
func (d *Directory[K, V]) Stage(from, to K, v V, at time.Time) {
	d.q.Barrier(func() {
		delete(d.entries, from)
		d.temp[from] = staged[K, V]{value: v, target: to, at: at}
	})
}

// Consume removes the staged entry waiting for to. It returns the staged
// value and its old key.
func (d *Directory[K, V]) Consume(to K) (v V, from K, ok bool) {
	d.q.Barrier(func() {
		for k, s := range d.temp {
			if s.target == to {
				v, from, ok = s.value, k, true
				delete(d.temp, k)
				return
			}
		}
	})
	return v, from, ok
}

// SweepTemporary drops staged entries older than cutoff and returns how
// many were dropped
func (d *Directory[K, V]) SweepTemporary(cutoff time.Time) int {
	n := 0
	d.q.Barrier(func() {
		for k, s := range d.temp {
			if s.at.Before(cutoff) {
				delete(d.temp, k)
				n++
			}
		}
	})
	return n
}

// TemporaryLen returns the number of staged entries
func (d *Directory[K, V]) TemporaryLen() int {
	var n int
	d.q.Sync(func() { n = len(d.temp) })
	return n
}
