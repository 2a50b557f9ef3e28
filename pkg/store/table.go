// Package store holds the in-memory data structures of the reference
// backend: id-keyed tables, page-number pagination and a simulated clock.
package store

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
)

// Table is a concurrency-safe set of rows keyed by int64 id. Rows list in
// insertion order. Ids are handed out sequentially from 1 and are not
// reused after a delete.
type Table[T any] struct {
	mu     sync.RWMutex
	rows   map[int64]T
	order  []int64
	lastID int64
}

// NewTable returns an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{rows: make(map[int64]T)}
}

// Insert allocates the next id, builds the row for it and stores it.
func (t *Table[T]) Insert(build func(id int64) T) T {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	row := build(t.lastID)
	t.put(t.lastID, row)
	return row
}

// Put stores row under id. Replacing a row keeps its position.
func (t *Table[T]) Put(id int64, row T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.put(id, row)
}

func (t *Table[T]) put(id int64, row T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
	t.lastID = max(t.lastID, id)
}

// Get returns the row stored under id.
func (t *Table[T]) Get(id int64) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	return row, ok
}

// Update edits the row under id in place while holding the lock and
// returns the result. ok is false when there is no such row.
func (t *Table[T]) Update(id int64, edit func(*T)) (row T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row, ok = t.rows[id]; !ok {
		return row, false
	}
	edit(&row)
	t.rows[id] = row
	return row, true
}

// Delete removes the row under id and reports whether it existed.
func (t *Table[T]) Delete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	return true
}

// Select returns the rows keep accepts, in insertion order. A nil keep
// selects every row. The result is never nil.
func (t *Table[T]) Select(keep func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []T{}
	for _, id := range t.order {
		if row := t.rows[id]; keep == nil || keep(row) {
			out = append(out, row)
		}
	}
	return out
}

// Count returns the number of rows.
func (t *Table[T]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Reset removes every row and restarts ids at 1.
func (t *Table[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.rows)
	t.order = nil
	t.lastID = 0
}

// Snapshot returns every row keyed by its decimal id, the shape used by
// the /admin/state endpoints and seed files.
func (t *Table[T]) Snapshot() map[string]T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]T, len(t.rows))
	for id, row := range t.rows {
		out[strconv.FormatInt(id, 10)] = row
	}
	return out
}

// Restore replaces every row with those in snap. Rows are ordered by id,
// and new ids continue after the largest one restored.
func (t *Table[T]) Restore(snap map[string]T) error {
	rows := make(map[int64]T, len(snap))
	for key, row := range snap {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id < 1 {
			return fmt.Errorf("row key %q is not a positive id", key)
		}
		rows[id] = row
	}
	order := slices.Sorted(maps.Keys(rows))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = rows
	t.order = order
	t.lastID = 0
	if len(order) > 0 {
		t.lastID = order[len(order)-1]
	}
	return nil
}
