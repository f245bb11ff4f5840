package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-search/internal/searcher/searchindex"
)

func TestTopK(t *testing.T) {
	lists := [][]searchindex.Result{
		{{ID: 4, Similarity: 0.2}, {ID: 1, Similarity: 0.9}},
		{{ID: 7, Similarity: 0.5}, {ID: 3, Similarity: 0.5}, {ID: 9, Similarity: 0.1}},
	}
	got := TopK(lists, 3)
	assert.Equal(t, []searchindex.Result{
		{ID: 1, Similarity: 0.9},
		{ID: 3, Similarity: 0.5},
		{ID: 7, Similarity: 0.5},
	}, got)
}

func TestTopKFewerThanLimit(t *testing.T) {
	got := TopK([][]searchindex.Result{{{ID: 2, Similarity: 0.3}, {ID: 1, Similarity: 0.3}}}, 0)
	assert.Equal(t, []searchindex.Result{{ID: 1, Similarity: 0.3}, {ID: 2, Similarity: 0.3}}, got)
	assert.Empty(t, TopK(nil, 5))
}
