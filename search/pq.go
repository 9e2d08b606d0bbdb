package search

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Product quantization errors
var (
	ErrBadNumBits    = errors.New("num bits must be 4 or 8")
	ErrBadSubVectors = errors.New("invalid sub-vector configuration")
	ErrBadCodebook   = errors.New("codebook size mismatch")
	ErrBadCodeArray  = errors.New("expected FixedSizeList<uint8> code array")
	ErrOddSubVectors = errors.New("num sub-vectors must be even for 4-bit codes")
)

// ProductQuantizer compresses vectors into per-sub-vector centroid codes.
// The codebook is centroid-major: centroid c occupies
// codebook[c*dim:(c+1)*dim], and its sub-vector j slice is the j-th
// sub-dim chunk of that row.
type ProductQuantizer struct {
	numSubVectors int
	numBits       int
	dim           int
	codebook      []float32
	distanceType  DistanceType
}

// NewProductQuantizer creates a quantizer. numBits selects the code width
// (4 or 8); 4-bit codes pack two sub-vectors per byte, so numSubVectors
// must be even. The codebook must hold (1<<numBits) centroids of dim
// values each.
func NewProductQuantizer(numSubVectors, numBits, dim int, codebook []float32, dt DistanceType) (*ProductQuantizer, error) {
	if numBits != 4 && numBits != 8 {
		return nil, fmt.Errorf("%w: got %d", ErrBadNumBits, numBits)
	}
	if numSubVectors <= 0 || dim%numSubVectors != 0 {
		return nil, fmt.Errorf("%w: dim %d, sub-vectors %d", ErrBadSubVectors, dim, numSubVectors)
	}
	if numBits == 4 && numSubVectors%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrOddSubVectors, numSubVectors)
	}
	if want := (1 << numBits) * dim; len(codebook) != want {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrBadCodebook, len(codebook), want)
	}

	return &ProductQuantizer{
		numSubVectors: numSubVectors,
		numBits:       numBits,
		dim:           dim,
		codebook:      codebook,
		distanceType:  dt,
	}, nil
}

// NumCentroids returns the number of centroids per sub-vector.
func (pq *ProductQuantizer) NumCentroids() int { return 1 << pq.numBits }

// CodeWidth returns the bytes per encoded vector.
func (pq *ProductQuantizer) CodeWidth() int {
	if pq.numBits == 4 {
		return pq.numSubVectors / 2
	}
	return pq.numSubVectors
}

// subCentroid returns sub-vector j of centroid c.
func (pq *ProductQuantizer) subCentroid(c, j int) []float32 {
	subDim := pq.dim / pq.numSubVectors
	start := c*pq.dim + j*subDim
	return pq.codebook[start : start+subDim]
}

// Transform encodes vectors into PQ codes as FixedSizeList<uint8> with
// CodeWidth bytes per element.
func (pq *ProductQuantizer) Transform(mem memory.Allocator, vectors *array.FixedSizeList) (*array.FixedSizeList, error) {
	flat, dim, err := vectorData(vectors)
	if err != nil {
		return nil, err
	}
	if dim != pq.dim {
		return nil, fmt.Errorf("%w: vector dim %d, quantizer dim %d", ErrDimMismatch, dim, pq.dim)
	}

	subDim := pq.dim / pq.numSubVectors
	n := vectors.Len()

	sub := make([]float64, subDim)
	cent := make([]float64, subDim)
	scratch := make([]float64, subDim)

	codes := make([]byte, 0, n*pq.CodeWidth())
	subCodes := make([]byte, pq.numSubVectors)
	for i := 0; i < n; i++ {
		vec := flat[i*dim : (i+1)*dim]
		for j := 0; j < pq.numSubVectors; j++ {
			sub = float64sOf(sub, vec[j*subDim:(j+1)*subDim])

			best := 0
			bestDist := 0.0
			for c := 0; c < pq.NumCentroids(); c++ {
				cent = float64sOf(cent, pq.subCentroid(c, j))
				d := distance(pq.distanceType, sub, cent, scratch)
				if c == 0 || d < bestDist {
					best, bestDist = c, d
				}
			}
			subCodes[j] = byte(best)
		}

		if pq.numBits == 4 {
			for j := 0; j < pq.numSubVectors; j += 2 {
				codes = append(codes, subCodes[j+1]<<4|subCodes[j])
			}
		} else {
			codes = append(codes, subCodes...)
		}
	}

	return newCodeArray(mem, codes, pq.CodeWidth()), nil
}

// distanceTable precomputes table[j][c] = distance between query
// sub-vector j and centroid c's sub-vector j.
func (pq *ProductQuantizer) distanceTable(query []float32) [][]float64 {
	subDim := pq.dim / pq.numSubVectors
	sub := make([]float64, subDim)
	cent := make([]float64, subDim)
	scratch := make([]float64, subDim)

	table := make([][]float64, pq.numSubVectors)
	for j := range table {
		sub = float64sOf(sub, query[j*subDim:(j+1)*subDim])
		row := make([]float64, pq.NumCentroids())
		for c := range row {
			cent = float64sOf(cent, pq.subCentroid(c, j))
			row[c] = distance(pq.distanceType, sub, cent, scratch)
		}
		table[j] = row
	}
	return table
}

// Score computes the approximate distance from query to every encoded
// vector using distance-table lookups.
func (pq *ProductQuantizer) Score(query []float32, codes *array.FixedSizeList) ([]float64, error) {
	if len(query) != pq.dim {
		return nil, fmt.Errorf("%w: query dim %d, quantizer dim %d", ErrDimMismatch, len(query), pq.dim)
	}
	values, ok := codes.ListValues().(*array.Uint8)
	if !ok {
		return nil, fmt.Errorf("%w, got %s", ErrBadCodeArray, codes.DataType())
	}
	width := int(codes.DataType().(*arrow.FixedSizeListType).Len())
	if width != pq.CodeWidth() {
		return nil, fmt.Errorf("%w: code width %d, want %d", ErrBadCodeArray, width, pq.CodeWidth())
	}

	table := pq.distanceTable(query)
	flat := values.Uint8Values()
	off := codes.Offset() * width

	out := make([]float64, codes.Len())
	for i := range out {
		row := flat[off+i*width : off+(i+1)*width]
		var sum float64
		if pq.numBits == 4 {
			for j, b := range row {
				sum += table[2*j][b&0x0F]
				sum += table[2*j+1][b>>4]
			}
		} else {
			for j, b := range row {
				sum += table[j][b]
			}
		}
		out[i] = sum
	}
	return out, nil
}

// newCodeArray wraps flat code bytes as FixedSizeList<uint8>.
func newCodeArray(mem memory.Allocator, codes []byte, width int) *array.FixedSizeList {
	lb := array.NewFixedSizeListBuilder(mem, int32(width), arrow.PrimitiveTypes.Uint8)
	defer lb.Release()

	vb := lb.ValueBuilder().(*array.Uint8Builder)
	n := len(codes) / width
	for i := 0; i < n; i++ {
		lb.Append(true)
		vb.AppendValues(codes[i*width:(i+1)*width], nil)
	}
	return lb.NewArray().(*array.FixedSizeList)
}
