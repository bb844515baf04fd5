package oddsmath

import "fmt"

// RemoveVig removes the bookmaker margin from a complete set of outcome
// probabilities offered by one book.
//
// Each implied probability is divided by the overround so the returned
// probabilities sum to 1.0. For two-way markets this is the standard
// multiplicative no-vig; three-way markets use the same proportional rule.
//
// Example:
// Over -110 (52.38%) | Under -110 (52.38%)
// Overround: 104.76%
// Fair: 50% / 50%
func RemoveVig(probabilities []float64) ([]float64, error) {
	if len(probabilities) < 2 {
		return nil, fmt.Errorf("need at least 2 outcomes, got %d", len(probabilities))
	}

	total := 0.0
	for _, p := range probabilities {
		if p <= 0 || p >= 1 {
			return nil, fmt.Errorf("probabilities must be between 0 and 1")
		}
		total += p
	}

	fair := make([]float64, len(probabilities))
	for i, p := range probabilities {
		fair[i] = p / total
	}

	return fair, nil
}

// EVPercent returns the edge of a price over the fair probability in percent:
// (fair / implied - 1) * 100.
func EVPercent(fairProbability, impliedProbability float64) float64 {
	if impliedProbability <= 0 {
		return 0
	}
	return (fairProbability/impliedProbability - 1.0) * 100.0
}
