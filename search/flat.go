package search

import (
	"container/heap"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
)

// Result is one scored row from a search.
type Result struct {
	RowID    uint64
	Distance float64
}

// FlatIndex is a batch of vector/row-id pairs scanned linearly. Searching
// costs O(N) but needs no training, which makes it the baseline index and
// the sub-index for partitioned search.
type FlatIndex struct {
	vectors []float32
	dim     int
	rowIDs  []uint64
}

// NewFlatIndex builds a flat index from a FixedSizeList<float32> vector
// array and matching row ids.
func NewFlatIndex(vectors *array.FixedSizeList, rowIDs *array.Uint64) (*FlatIndex, error) {
	flat, dim, err := vectorData(vectors)
	if err != nil {
		return nil, err
	}
	if vectors.Len() != rowIDs.Len() {
		return nil, fmt.Errorf("vector count %d does not match row id count %d", vectors.Len(), rowIDs.Len())
	}

	ids := make([]uint64, rowIDs.Len())
	copy(ids, rowIDs.Uint64Values())

	vecs := make([]float32, len(flat))
	copy(vecs, flat)

	return &FlatIndex{vectors: vecs, dim: dim, rowIDs: ids}, nil
}

// Len returns the number of indexed vectors.
func (f *FlatIndex) Len() int { return len(f.rowIDs) }

// Dim returns the vector dimension.
func (f *FlatIndex) Dim() int { return f.dim }

// Search scans every vector and returns the k closest rows, ordered by
// ascending distance.
func (f *FlatIndex) Search(query []float32, k int, dt DistanceType) ([]Result, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query dim %d, index dim %d", ErrDimMismatch, len(query), f.dim)
	}
	if dt != L2 && dt != Dot {
		return nil, fmt.Errorf("%w: %s", ErrBadDistanceType, dt)
	}
	if k <= 0 {
		return nil, nil
	}

	q := float64sOf(nil, query)
	vec := make([]float64, f.dim)
	scratch := make([]float64, f.dim)

	// Max-heap of the best k so far; the root is the worst kept result.
	h := make(resultHeap, 0, k+1)
	for i, id := range f.rowIDs {
		vec = float64sOf(vec, f.vectors[i*f.dim:(i+1)*f.dim])
		d := distance(dt, q, vec, scratch)

		if len(h) < k {
			heap.Push(&h, Result{RowID: id, Distance: d})
			continue
		}
		if d < h[0].Distance {
			h[0] = Result{RowID: id, Distance: d}
			heap.Fix(&h, 0)
		}
	}

	out := make([]Result, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Result)
	}
	return out, nil
}

// Remap rewrites row ids after compaction. A missing key keeps the id, a
// nil value drops the row, a non-nil value replaces the id.
func (f *FlatIndex) Remap(mapping map[uint64]*uint64) {
	keptVecs := f.vectors[:0]
	keptIDs := f.rowIDs[:0]

	for i, id := range f.rowIDs {
		newID, found := mapping[id]
		switch {
		case !found:
			// keep as-is
		case newID == nil:
			continue
		default:
			id = *newID
		}
		keptIDs = append(keptIDs, id)
		keptVecs = append(keptVecs, f.vectors[i*f.dim:(i+1)*f.dim]...)
	}

	f.vectors = keptVecs
	f.rowIDs = keptIDs
}

// resultHeap is a max-heap on distance.
type resultHeap []Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
