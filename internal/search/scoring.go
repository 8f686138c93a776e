package search

import "math"

// RescaleScore maps a raw cosine similarity onto a 0-1 display scale with a
// logistic curve. Cosine scores from the cross-modal encoder cluster in a
// narrow band, so a sigmoid centered on midpoint spreads them out for users.
// Ranking always uses the raw score; this only changes what is displayed.
func RescaleScore(raw, midpoint, steepness float64) float64 {
	scaled := 1.0 / (1.0 + math.Exp(-(raw-midpoint)*steepness))
	if scaled < 0 {
		return 0
	}
	if scaled > 1 {
		return 1
	}
	return scaled
}
