package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"siftsearch/internal/features"
)

func TestStructural(t *testing.T) {
	assert.Equal(t, 0.0, Structural(5, 0, 10))
	assert.Equal(t, 0.0, Structural(5, 10, 0))
	assert.InDelta(t, 50.0, Structural(50, 100, 100), 1e-9)
	assert.InDelta(t, 100.0, Structural(100, 100, 100), 1e-9)
	assert.InDelta(t, 20.0, Structural(30, 100, 200), 1e-9)
}

func TestColor(t *testing.T) {
	c := features.Color{10, 20, 30}
	assert.InDelta(t, 100.0, Color(c, c), 1e-9)
	assert.InDelta(t, 0.0, Color(features.Color{0, 0, 0}, features.Color{255, 255, 255}), 1e-6)
	mid := Color(features.Color{0, 0, 0}, features.Color{0, 0, 255})
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 100.0)
}

func TestWeightsTotal(t *testing.T) {
	assert.InDelta(t, 65.0, DefaultWeights.Total(50, 100), 1e-9)
	assert.InDelta(t, 30.0, DefaultWeights.Total(0, 100), 1e-9)
	assert.InDelta(t, 50.0, Weights{Structural: 0.5, Color: 0.5}.Total(0, 100), 1e-9)
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights.Validate())
	assert.NoError(t, Weights{Structural: 1}.Validate())
	assert.Error(t, Weights{}.Validate())
	assert.Error(t, Weights{Structural: -0.1, Color: 1}.Validate())
}

func TestScorerScore(t *testing.T) {
	c := features.Color{128, 128, 128}
	b := Scorer{Weights: DefaultWeights}.Score(50, 100, 100, c, c)
	assert.Equal(t, 50, b.MatchCount)
	assert.InDelta(t, 50.0, b.Structural, 1e-9)
	assert.InDelta(t, 100.0, b.Color, 1e-9)
	assert.InDelta(t, 65.0, b.Total, 1e-9)
}
