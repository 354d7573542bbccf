package index

import "sort"

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	VectorID int     `json:"vector_id"`
	Score    float32 `json:"score"`
}

// flatIndex is an append-only exact inner-product index over fixed-dimension
// vectors. Vector ids are insertion ranks: dense, gapless, 0-based. Callers
// are expected to present L2-normalized vectors, making inner product
// equivalent to cosine similarity. Not safe for concurrent use; the owning
// Store serializes access per modality.
type flatIndex struct {
	dim  int
	data []float32 // row-major, len = count*dim
}

func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

// count returns the number of stored vectors.
func (f *flatIndex) count() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// add appends a vector and returns its id. The caller validates dimension.
func (f *flatIndex) add(vec []float32) int {
	id := f.count()
	f.data = append(f.data, vec...)
	return id
}

// at returns the vector with the given id as a view into the backing slice.
func (f *flatIndex) at(id int) []float32 {
	off := id * f.dim
	return f.data[off : off+f.dim]
}

// search performs an exhaustive inner-product scan and returns up to
// min(k, count) results sorted by score descending. An empty index yields
// an empty slice.
func (f *flatIndex) search(query []float32, k int) []SearchResult {
	n := f.count()
	if n == 0 || k <= 0 {
		return []SearchResult{}
	}
	if k > n {
		k = n
	}

	results := make([]SearchResult, 0, n)
	for id := 0; id < n; id++ {
		results = append(results, SearchResult{
			VectorID: id,
			Score:    dot(query, f.at(id)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results[:k]
}

func sortHybrid(results []HybridResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
