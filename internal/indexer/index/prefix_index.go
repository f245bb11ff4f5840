// Package index provides the prefix-filter inverted index: for each token id
// it keeps the (set, position) occurrences of every set whose prefix contains
// that token, in insertion order.
package index

import (
	"fmt"
	"sync"
)

// State is the lifecycle phase of a PrefixIndex.
type State int

const (
	StateEmpty State = iota
	StateBuilding
	StateDone
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// PrefixIndex is an append-only inverted index over token ids. Lookups see
// every insert that happened before them, which is what the incremental
// all-pairs join relies on.
type PrefixIndex struct {
	mu       sync.RWMutex
	entries  []PostingList
	state    State
	postings int
	sets     int
}

func NewPrefixIndex() *PrefixIndex {
	return &PrefixIndex{}
}

// Insert appends (setID, j) to the entry of prefix[j] for every j.
// It panics if the index has been sealed.
func (p *PrefixIndex) Insert(setID uint32, prefix []uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDone {
		panic(fmt.Sprintf("index: insert of set %d into sealed prefix index", setID))
	}
	for j, token := range prefix {
		p.grow(token)
		p.entries[token] = append(p.entries[token], Posting{SetID: setID, Position: j})
	}
	p.postings += len(prefix)
	p.sets++
	p.state = StateBuilding
}

// Lookup returns the postings recorded so far for token. The returned slice
// must not be modified.
func (p *PrefixIndex) Lookup(token uint32) PostingList {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(token) >= len(p.entries) {
		return nil
	}
	return p.entries[token]
}

// Merge appends every posting of other after the postings already present,
// token by token. Used to combine partitions built in parallel; merging
// partitions in set order reproduces a sequential build exactly.
func (p *PrefixIndex) Merge(other *PrefixIndex) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDone {
		panic("index: merge into sealed prefix index")
	}
	for token, postings := range other.entries {
		if len(postings) == 0 {
			continue
		}
		p.grow(uint32(token))
		p.entries[token] = append(p.entries[token], postings...)
	}
	p.postings += other.postings
	p.sets += other.sets
	if p.sets > 0 {
		p.state = StateBuilding
	}
}

// Seal freezes the index. Later inserts panic; lookups keep working.
func (p *PrefixIndex) Seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateDone
}

func (p *PrefixIndex) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot returns the non-empty entries ordered by token id.
func (p *PrefixIndex) Snapshot() []TokenEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := make([]TokenEntry, 0, len(p.entries))
	for token, postings := range p.entries {
		if len(postings) == 0 {
			continue
		}
		entries = append(entries, TokenEntry{
			Token:    uint32(token),
			Postings: append(PostingList(nil), postings...),
		})
	}
	return entries
}

func (p *PrefixIndex) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tokens := 0
	for _, postings := range p.entries {
		if len(postings) > 0 {
			tokens++
		}
	}
	return Stats{
		Tokens:   tokens,
		Postings: p.postings,
		Sets:     p.sets,
	}
}

func (p *PrefixIndex) grow(token uint32) {
	if int(token) < len(p.entries) {
		return
	}
	n := max(int(token)+1, 2*len(p.entries))
	grown := make([]PostingList, n)
	copy(grown, p.entries)
	p.entries = grown
}
