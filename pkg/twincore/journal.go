package twincore

import (
	"sync"
	"time"
)

// DefaultJournalSize is how many exchanges a Journal keeps by default.
const DefaultJournalSize = 1000

// Exchange is one request the backend answered.
type Exchange struct {
	Seq       uint64            `json:"seq"`
	At        time.Time         `json:"at"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Query     string            `json:"query,omitempty"`
	Status    int               `json:"status"`
	Bytes     int               `json:"bytes"`
	ElapsedMS float64           `json:"elapsed_ms"`
	RequestID string            `json:"request_id,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Journal keeps the most recent exchanges in a fixed-size ring. Sequence
// numbers start at 1 and keep increasing across Clear, so a reader can
// poll with Since and never see an exchange twice.
type Journal struct {
	mu    sync.Mutex
	ring  []Exchange
	next  uint64
	floor uint64
}

// NewJournal returns a journal holding up to size exchanges.
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Journal{ring: make([]Exchange, size), next: 1, floor: 1}
}

// Record stores e, overwriting the oldest exchange when full, and returns
// its sequence number.
func (j *Journal) Record(e Exchange) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.Seq = j.next
	j.ring[j.slot(e.Seq)] = e
	j.next++
	return e.Seq
}

// Since returns the retained exchanges newer than seq, oldest first.
// Since(0) returns everything retained.
func (j *Journal) Since(seq uint64) []Exchange {
	j.mu.Lock()
	defer j.mu.Unlock()
	first := max(j.oldest(), seq+1)
	if first >= j.next {
		return []Exchange{}
	}
	out := make([]Exchange, 0, j.next-first)
	for s := first; s < j.next; s++ {
		out = append(out, j.ring[j.slot(s)])
	}
	return out
}

// Len reports how many exchanges are retained.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int(j.next - j.oldest())
}

// Clear forgets every retained exchange.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.floor = j.next
}

func (j *Journal) slot(seq uint64) int {
	return int((seq - 1) % uint64(len(j.ring)))
}

// oldest is the lowest retained sequence number. Callers hold mu.
func (j *Journal) oldest() uint64 {
	size := uint64(len(j.ring))
	if j.next > size && j.next-size > j.floor {
		return j.next - size
	}
	return j.floor
}
