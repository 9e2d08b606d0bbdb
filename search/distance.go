// Package search provides vector scanning and quantization over Arrow
// FixedSizeList arrays.
// This package implements:
// - Flat (linear scan) top-k search with value/row-id batches
// - Residual computation against centroids
// - Product quantization with 4-bit and 8-bit codes
package search

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"gonum.org/v1/gonum/floats"
)

// Search errors
var (
	ErrBadDistanceType = errors.New("unsupported distance type")
	ErrDimMismatch     = errors.New("vector dimension mismatch")
	ErrBadVectorArray  = errors.New("expected FixedSizeList<float32> array")
)

// DistanceType selects the metric used for scanning and quantization.
type DistanceType int

const (
	// L2 is squared Euclidean distance.
	L2 DistanceType = iota
	// Dot is negative inner product, so smaller is closer for all metrics.
	Dot
)

func (d DistanceType) String() string {
	switch d {
	case L2:
		return "l2"
	case Dot:
		return "dot"
	default:
		return fmt.Sprintf("distance(%d)", int(d))
	}
}

// distance computes the metric between two equal-length vectors.
// The scratch slice must have the same length and is overwritten.
func distance(dt DistanceType, a, b, scratch []float64) float64 {
	switch dt {
	case Dot:
		return -floats.Dot(a, b)
	default:
		floats.SubTo(scratch, a, b)
		return floats.Dot(scratch, scratch)
	}
}

// float64sOf widens a float32 vector for gonum.
func float64sOf(dst []float64, src []float32) []float64 {
	if cap(dst) < len(src) {
		dst = make([]float64, len(src))
	}
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

// vectorData extracts the flat float32 values and dimension of a
// FixedSizeList<float32> array.
func vectorData(vectors *array.FixedSizeList) ([]float32, int, error) {
	values, ok := vectors.ListValues().(*array.Float32)
	if !ok {
		return nil, 0, fmt.Errorf("%w, got %s", ErrBadVectorArray, vectors.DataType())
	}
	dim := int(vectors.DataType().(*arrow.FixedSizeListType).Len())
	flat := values.Float32Values()
	off := vectors.Offset() * dim
	return flat[off : off+vectors.Len()*dim], dim, nil
}
