// Package order implements the global frequency-order transform: every
// distinct token in a corpus gets a dense integer id, rarer tokens first, and
// every set is rewritten as an ascending slice of those ids.
package order

import (
	"log/slog"
	"slices"
	"sort"
)

// Order maps the tokens of one corpus to frequency-ranked ids. It is
// immutable once built and safe for concurrent readers.
type Order[T comparable] struct {
	ids    map[T]uint32
	counts []int
}

// Transform counts document frequencies over sets, ranks tokens by ascending
// count (ties keep first-seen order) and returns every set encoded with the
// resulting ids. Duplicate tokens inside one set are merged.
func Transform[T comparable](sets [][]T) ([][]uint32, *Order[T]) {
	logger := slog.Default().With("component", "frequency-order")
	logger.Debug("applying frequency order transform", "sets", len(sets))

	counts := make(map[T]int)
	seen := make([]T, 0)
	for _, s := range sets {
		for _, token := range dedupe(s) {
			if _, ok := counts[token]; !ok {
				seen = append(seen, token)
			}
			counts[token]++
		}
	}

	sort.SliceStable(seen, func(i, j int) bool {
		return counts[seen[i]] < counts[seen[j]]
	})

	o := &Order[T]{
		ids:    make(map[T]uint32, len(seen)),
		counts: make([]int, len(seen)),
	}
	for id, token := range seen {
		o.ids[token] = uint32(id)
		o.counts[id] = counts[token]
	}

	encoded := make([][]uint32, len(sets))
	for i, s := range sets {
		encoded[i] = o.encodeKnown(s)
	}
	logger.Debug("frequency order transform done", "tokens", len(seen))
	return encoded, o
}

// ID returns the id assigned to token.
func (o *Order[T]) ID(token T) (uint32, bool) {
	id, ok := o.ids[token]
	return id, ok
}

// Len is the number of distinct tokens in the corpus.
func (o *Order[T]) Len() int {
	return len(o.counts)
}

// Count returns how many corpus sets contain the token with the given id.
func (o *Order[T]) Count(id uint32) int {
	if int(id) >= len(o.counts) {
		return 0
	}
	return o.counts[id]
}

// Encode rewrites a set that was not part of the corpus. Tokens the corpus
// never saw are dropped. size is the number of distinct tokens in set,
// including the dropped ones.
func (o *Order[T]) Encode(set []T) (encoded []uint32, size int) {
	unique := dedupe(set)
	encoded = make([]uint32, 0, len(unique))
	for _, token := range unique {
		if id, ok := o.ids[token]; ok {
			encoded = append(encoded, id)
		}
	}
	slices.Sort(encoded)
	return encoded, len(unique)
}

func (o *Order[T]) encodeKnown(set []T) []uint32 {
	out := make([]uint32, 0, len(set))
	for _, token := range set {
		out = append(out, o.ids[token])
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func dedupe[T comparable](set []T) []T {
	seen := make(map[T]struct{}, len(set))
	out := make([]T, 0, len(set))
	for _, token := range set {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
