package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRescaleScore(t *testing.T) {
	const (
		midpoint  = 0.18
		steepness = 12.0
	)

	t.Run("midpoint maps to half", func(t *testing.T) {
		assert.InDelta(t, 0.5, RescaleScore(midpoint, midpoint, steepness), 1e-9)
	})

	t.Run("monotonic", func(t *testing.T) {
		prev := RescaleScore(-1, midpoint, steepness)
		for raw := -0.9; raw <= 1.0; raw += 0.1 {
			cur := RescaleScore(raw, midpoint, steepness)
			assert.Greater(t, cur, prev, "raw=%f", raw)
			prev = cur
		}
	})

	t.Run("bounded", func(t *testing.T) {
		for _, raw := range []float64{-100, -1, 0, 0.5, 1, 100} {
			s := RescaleScore(raw, midpoint, steepness)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	})

	t.Run("spreads the typical band", func(t *testing.T) {
		low := RescaleScore(0.10, midpoint, steepness)
		high := RescaleScore(0.30, midpoint, steepness)
		// Raw scores 0.2 apart should land clearly apart on the display scale.
		assert.Greater(t, high-low, 0.3)
	})
}
