package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const defaultTopK = 5

// Index is an in-memory similarity index over catalog records. Like any
// nearest-neighbour store it always returns up to k records, best first.
type Index struct {
	embedder *tfidf
	records  []string
	ratings  []float64
	vectors  [][]float64
}

// NewIndex renders and embeds every product.
func NewIndex(products []Product) (*Index, error) {
	records := make([]string, len(products))
	ratings := make([]float64, len(products))
	for i, p := range products {
		records[i] = p.Record()
		ratings[i] = p.Rating
	}
	emb, err := newTFIDF(records)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(records))
	for i, r := range records {
		vectors[i] = emb.embed(r)
	}
	return &Index{embedder: emb, records: records, ratings: ratings, vectors: vectors}, nil
}

// Len returns the number of indexed records.
func (ix *Index) Len() int { return len(ix.records) }

// Search returns the k records most similar to query. A query sharing no
// term with the catalog ranks records by average rating instead.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = defaultTopK
	}

	scores := make([]float64, len(ix.records))
	qvec := ix.embedder.embed(query)
	if isZero(qvec) {
		copy(scores, ix.ratings)
	} else {
		for i, v := range ix.vectors {
			scores[i] = dot(v, qvec)
		}
	}

	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })
	k = min(k, len(idxs))

	out := make([]string, 0, k)
	for _, i := range idxs[:k] {
		out = append(out, ix.records[i])
	}
	return out, nil
}

// LazyIndex builds its Index on first use. A failed load is retried on the
// next call.
type LazyIndex struct {
	load Loader

	mu    sync.RWMutex
	index *Index
}

// NewLazyIndex returns an index that loads products through load.
func NewLazyIndex(load Loader) (*LazyIndex, error) {
	if load == nil {
		return nil, fmt.Errorf("catalog: loader must not be nil")
	}
	return &LazyIndex{load: load}, nil
}

// Search loads the catalog if needed and delegates to Index.Search.
func (l *LazyIndex) Search(ctx context.Context, query string, k int) ([]string, error) {
	ix, err := l.ensure(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Search(ctx, query, k)
}

func (l *LazyIndex) ensure(ctx context.Context) (*Index, error) {
	l.mu.RLock()
	if l.index != nil {
		ix := l.index
		l.mu.RUnlock()
		return ix, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index != nil {
		return l.index, nil
	}
	products, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	ix, err := NewIndex(products)
	if err != nil {
		return nil, err
	}
	l.index = ix
	return ix, nil
}
