// Package history keeps the bounded, recency-ordered list of instructions a
// user has submitted during one editing session.
//
// The ledger is an in-memory structure with no persistence. Entries are
// unique by exact (case-sensitive) match after trimming surrounding
// whitespace, ordered most-recent-first, and never exceed the ledger's
// capacity. Recording an instruction that is already present moves it to
// the front instead of duplicating it.
package history

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultCapacity is the number of instructions kept when no capacity is given.
const DefaultCapacity = 5

// Ledger is the prompt history. It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	entries  []string

	// selected is the index of the entry currently shown as selected, or -1.
	selected int
}

// New creates a ledger that keeps at most capacity entries.
// A capacity below 1 falls back to DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity: capacity,
		entries:  make([]string, 0, capacity),
		selected: -1,
	}
}

// Capacity returns the maximum number of entries the ledger holds.
func (l *Ledger) Capacity() int {
	return l.capacity
}

// Record trims instruction and moves it to the front of the ledger,
// evicting the least recently used entry when the ledger is full.
// Returns false without changing anything if the trimmed value is empty.
func (l *Ledger) Record(instruction string) bool {
	value := strings.TrimSpace(instruction)
	if value == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]string, 0, l.capacity)
	next = append(next, value)
	for _, e := range l.entries {
		if e == value {
			continue
		}
		if len(next) == l.capacity {
			break
		}
		next = append(next, e)
	}
	l.entries = next
	l.selected = -1
	return true
}

// Clear removes every entry and any selection.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	l.selected = -1
}

// Entries returns a copy of the ledger, most recent first.
func (l *Ledger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Select marks entry i as the displayed selection and returns its value.
func (l *Ledger) Select(i int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.entries) {
		return "", fmt.Errorf("history index %d out of range (have %d entries)", i, len(l.entries))
	}
	l.selected = i
	return l.entries[i], nil
}

// Selected returns the index of the displayed selection, if any.
func (l *Ledger) Selected() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected, l.selected >= 0
}

// ClearSelection drops the displayed selection but keeps the entries.
func (l *Ledger) ClearSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = -1
}
