package search

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ComputeResidual subtracts each vector's assigned centroid from it and
// returns the residual vectors. When partitions is nil the assignment is
// computed by nearest centroid under dt.
//
// Residuals center every partition around the origin, which tightens the
// quantization error of a product quantizer trained on them.
func ComputeResidual(mem memory.Allocator, centroids, vectors *array.FixedSizeList, partitions []uint32, dt DistanceType) (*array.FixedSizeList, error) {
	centData, centDim, err := vectorData(centroids)
	if err != nil {
		return nil, fmt.Errorf("centroids: %w", err)
	}
	vecData, vecDim, err := vectorData(vectors)
	if err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	if centDim != vecDim {
		return nil, fmt.Errorf("%w: centroid dim %d, vector dim %d", ErrDimMismatch, centDim, vecDim)
	}

	n := vectors.Len()
	if partitions == nil {
		partitions = assignPartitions(centData, vecData, vecDim, dt)
	}
	if len(partitions) != n {
		return nil, fmt.Errorf("partition count %d does not match vector count %d", len(partitions), n)
	}

	numCentroids := len(centData) / centDim
	residuals := make([]float32, 0, len(vecData))
	for i := 0; i < n; i++ {
		part := int(partitions[i])
		if part >= numCentroids {
			return nil, fmt.Errorf("partition %d out of range for %d centroids", part, numCentroids)
		}
		vec := vecData[i*vecDim : (i+1)*vecDim]
		cent := centData[part*centDim : (part+1)*centDim]
		for j := range vec {
			residuals = append(residuals, vec[j]-cent[j])
		}
	}

	return newVectorArray(mem, residuals, vecDim), nil
}

// assignPartitions assigns each vector to its nearest centroid.
func assignPartitions(centroids, vectors []float32, dim int, dt DistanceType) []uint32 {
	numCentroids := len(centroids) / dim
	n := len(vectors) / dim
	out := make([]uint32, n)

	vec := make([]float64, dim)
	cent := make([]float64, dim)
	scratch := make([]float64, dim)

	for i := 0; i < n; i++ {
		vec = float64sOf(vec, vectors[i*dim:(i+1)*dim])
		best := 0
		bestDist := 0.0
		for c := 0; c < numCentroids; c++ {
			cent = float64sOf(cent, centroids[c*dim:(c+1)*dim])
			d := distance(dt, vec, cent, scratch)
			if c == 0 || d < bestDist {
				best, bestDist = c, d
			}
		}
		out[i] = uint32(best)
	}
	return out
}

// newVectorArray wraps flat float32 data as FixedSizeList<float32>.
func newVectorArray(mem memory.Allocator, data []float32, dim int) *array.FixedSizeList {
	lb := array.NewFixedSizeListBuilder(mem, int32(dim), arrow.PrimitiveTypes.Float32)
	defer lb.Release()

	vb := lb.ValueBuilder().(*array.Float32Builder)
	n := len(data) / dim
	for i := 0; i < n; i++ {
		lb.Append(true)
		vb.AppendValues(data[i*dim:(i+1)*dim], nil)
	}
	return lb.NewArray().(*array.FixedSizeList)
}
