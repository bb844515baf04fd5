package oddsmath

import (
	"fmt"
	"math"
)

// ValidAmerican reports whether p is a legal American price: non-zero with
// magnitude of at least 100.
func ValidAmerican(p int) bool {
	return p >= 100 || p <= -100
}

// Canonical maps -100 onto +100. Both describe an even-money price and
// DecimalToAmerican always yields the positive form.
func Canonical(p int) int {
	if p == -100 {
		return 100
	}
	return p
}

// AmericanToDecimal converts American odds to decimal odds
// American +150 → Decimal 2.50
// American -150 → Decimal 1.67
func AmericanToDecimal(american int) (float64, error) {
	if !ValidAmerican(american) {
		return 0, fmt.Errorf("invalid American odds: %d", american)
	}

	if american > 0 {
		return float64(american)/100.0 + 1.0, nil
	}

	return 100.0/float64(-american) + 1.0, nil
}

// DecimalToAmerican converts decimal odds to American odds
// Decimal 2.50 → American +150
// Decimal 1.67 → American -150
func DecimalToAmerican(decimal float64) (int, error) {
	if decimal <= 1.0 || math.IsNaN(decimal) || math.IsInf(decimal, 0) {
		return 0, fmt.Errorf("invalid decimal odds: %f", decimal)
	}

	if decimal >= 2.0 {
		return int(math.Round((decimal - 1.0) * 100.0)), nil
	}

	return int(math.Round(-100.0 / (decimal - 1.0))), nil
}

// ImpliedProbability converts decimal odds to implied probability
func ImpliedProbability(decimal float64) (float64, error) {
	if decimal <= 1.0 {
		return 0, fmt.Errorf("invalid decimal odds: must be > 1.0")
	}
	return 1.0 / decimal, nil
}

// ProbabilityToAmerican converts a probability in (0, 1) to American odds.
func ProbabilityToAmerican(probability float64) (int, error) {
	if probability <= 0 || probability >= 1 {
		return 0, fmt.Errorf("invalid probability: must be between 0 and 1")
	}
	return DecimalToAmerican(1.0 / probability)
}
