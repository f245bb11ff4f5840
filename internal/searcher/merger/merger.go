// Package merger selects the best query results with a bounded min-heap.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
)

// TopK returns the limit most similar results across all lists, best first.
// Equal similarities are ordered by ascending id. A limit <= 0 defaults to 10.
func TopK(lists [][]searchindex.Result, limit int) []searchindex.Result {
	if limit <= 0 {
		limit = 10
	}
	h := &resultHeap{}
	heap.Init(h)
	for _, results := range lists {
		for _, r := range results {
			if h.Len() < limit {
				heap.Push(h, r)
				continue
			}
			if worse((*h)[0], r) {
				(*h)[0] = r
				heap.Fix(h, 0)
			}
		}
	}
	out := make([]searchindex.Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(searchindex.Result)
	}
	return out
}

// worse reports whether a ranks below b.
func worse(a, b searchindex.Result) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	return a.ID > b.ID
}

type resultHeap []searchindex.Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(searchindex.Result))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
