// Package score converts match counts and mean colours into percentage
// similarities and combines them with configurable weights.
package score

import (
	"errors"
	"math"

	"siftsearch/internal/features"
)

// maxColorDistance is the diagonal of the 0..255 RGB cube.
var maxColorDistance = math.Sqrt(3 * 255.0 * 255.0)

// Weights combine structural and colour similarity into the total.
type Weights struct {
	Structural float64 `json:"structural"`
	Color      float64 `json:"color"`
}

// DefaultWeights is the 0.7 / 0.3 split.
var DefaultWeights = Weights{Structural: 0.7, Color: 0.3}

// Validate rejects negative or all-zero weights.
func (w Weights) Validate() error {
	if w.Structural < 0 || w.Color < 0 {
		return errors.New("score: weights must be non-negative")
	}
	if w.Structural == 0 && w.Color == 0 {
		return errors.New("score: at least one weight must be positive")
	}
	return nil
}

// Structural is matches over the average keypoint count, as a percentage. It is 0
// when either count is zero.
func Structural(matches, kp1, kp2 int) float64 {
	if kp1 == 0 || kp2 == 0 {
		return 0
	}
	avg := float64(kp1+kp2) / 2
	return float64(matches) / avg * 100
}

// Color maps the Euclidean distance between two mean colours onto 0..100, where
// identical colours score 100 and opposite cube corners score 0.
func Color(c1, c2 features.Color) float64 {
	var sum float64
	for i := range c1 {
		d := float64(c1[i]) - float64(c2[i])
		sum += d * d
	}
	sim := 1 - math.Sqrt(sum)/maxColorDistance
	if sim < 0 {
		sim = 0
	}
	return sim * 100
}

// Total combines structural and colour similarity.
func (w Weights) Total(structural, color float64) float64 {
	return w.Structural*structural + w.Color*color
}

// Breakdown is the full score for one image pair.
type Breakdown struct {
	MatchCount int
	Structural float64
	Color      float64
	Total      float64
}

// Scorer bundles the weights with the scoring functions.
type Scorer struct {
	Weights Weights
}

// Score computes every similarity for one pair.
func (s Scorer) Score(matches, kp1, kp2 int, c1, c2 features.Color) Breakdown {
	st := Structural(matches, kp1, kp2)
	co := Color(c1, c2)
	return Breakdown{MatchCount: matches, Structural: st, Color: co, Total: s.Weights.Total(st, co)}
}
