package match

import (
	"github.com/viant/vec/search"

	"siftsearch/internal/features"
)

// BruteForce is the exhaustive L2 nearest-neighbour primitive. Equal distances
// keep the lower train index first.
type BruteForce struct{}

// KNN implements NeighborSearcher.
func (BruteForce) KNN(query, train []features.Descriptor, k int) [][]Neighbor {
	if k <= 0 {
		return make([][]Neighbor, len(query))
	}
	out := make([][]Neighbor, len(query))
	for qi := range query {
		q := search.Float32s(query[qi][:])
		top := make([]Neighbor, 0, k)
		for ti := range train {
			d := q.EuclideanDistance(train[ti][:])
			top = insertTopK(top, Neighbor{Index: ti, Distance: d}, k)
		}
		out[qi] = top
	}
	return out
}

// insertTopK inserts n into the ascending list, keeping at most k entries.
func insertTopK(top []Neighbor, n Neighbor, k int) []Neighbor {
	pos := len(top)
	for pos > 0 && top[pos-1].Distance > n.Distance {
		pos--
	}
	if pos >= k {
		return top
	}
	if len(top) < k {
		top = append(top, Neighbor{})
	}
	copy(top[pos+1:], top[pos:len(top)-1])
	top[pos] = n
	return top
}
