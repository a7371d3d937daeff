// Package match implements descriptor-set matching: a k-nearest-neighbour
// primitive and Lowe's ratio test layered on top of it.
package match

import (
	"siftsearch/internal/features"
)

// DefaultRatio is the ratio-test threshold from Lowe's SIFT paper.
const DefaultRatio = 0.75

// Neighbor is one candidate returned by the nearest-neighbour primitive.
type Neighbor struct {
	Index    int     // index into the train set
	Distance float32 // L2 distance
}

// NeighborSearcher returns, for every query descriptor, up to k train neighbours
// ordered by ascending distance. Fewer than k are returned when the train set is
// smaller than k.
type NeighborSearcher interface {
	KNN(query, train []features.Descriptor, k int) [][]Neighbor
}

// Match is a query descriptor accepted by the ratio test.
type Match struct {
	QueryIdx       int     `json:"queryIdx"`
	TrainIdx       int     `json:"trainIdx"`
	Distance       float32 `json:"distance"`
	SecondDistance float32 `json:"secondDistance"`
}

// Matcher applies the ratio test to k=2 neighbour lookups. It holds no per-call
// state and is safe for concurrent use.
type Matcher struct {
	ratio float32
	nn    NeighborSearcher
}

// NewMatcher returns a Matcher. A ratio <= 0 selects DefaultRatio; a nil
// searcher selects BruteForce.
func NewMatcher(ratio float64, nn NeighborSearcher) *Matcher {
	if ratio <= 0 {
		ratio = DefaultRatio
	}
	if nn == nil {
		nn = BruteForce{}
	}
	return &Matcher{ratio: float32(ratio), nn: nn}
}

// Ratio returns the configured threshold.
func (m *Matcher) Ratio() float64 { return float64(m.ratio) }

// Match returns the good matches from query to train, in query order.
func (m *Matcher) Match(query, train []features.Descriptor) []Match {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}
	var good []Match
	for qi, nbrs := range m.nn.KNN(query, train, 2) {
		if len(nbrs) < 2 {
			continue
		}
		best, second := nbrs[0], nbrs[1]
		if best.Distance < m.ratio*second.Distance {
			good = append(good, Match{
				QueryIdx:       qi,
				TrainIdx:       best.Index,
				Distance:       best.Distance,
				SecondDistance: second.Distance,
			})
		}
	}
	return good
}

// Count returns len(Match(query, train)).
func (m *Matcher) Count(query, train []features.Descriptor) int {
	return len(m.Match(query, train))
}
