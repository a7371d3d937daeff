//go:build gocv

package match

import (
	"gocv.io/x/gocv"

	"siftsearch/internal/features"
)

// CVMatcher delegates the neighbour search to OpenCV's brute-force matcher
// (L2 norm, as used for SIFT).
type CVMatcher struct{}

// KNN implements NeighborSearcher.
func (CVMatcher) KNN(query, train []features.Descriptor, k int) [][]Neighbor {
	out := make([][]Neighbor, len(query))
	if len(query) == 0 || len(train) == 0 || k <= 0 {
		return out
	}
	q := toMat(query)
	defer q.Close()
	t := toMat(train)
	defer t.Close()

	bf := gocv.NewBFMatcher()
	defer bf.Close()
	for _, dm := range bf.KnnMatch(q, t, k) {
		for _, m := range dm {
			if m.QueryIdx < 0 || m.QueryIdx >= len(out) {
				continue
			}
			out[m.QueryIdx] = append(out[m.QueryIdx], Neighbor{Index: m.TrainIdx, Distance: float32(m.Distance)})
		}
	}
	return out
}

func toMat(ds []features.Descriptor) gocv.Mat {
	m := gocv.NewMatWithSize(len(ds), features.DescriptorSize, gocv.MatTypeCV32F)
	for i := range ds {
		for j, v := range ds[i] {
			m.SetFloatAt(i, j, v)
		}
	}
	return m
}
