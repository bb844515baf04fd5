package oddsmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmericanToDecimal(t *testing.T) {
	tests := []struct {
		name     string
		american int
		want     float64
	}{
		{"even money", 100, 2.0},
		{"underdog +150", 150, 2.5},
		{"underdog +200", 200, 3.0},
		{"favorite -110", -110, 1.9090909090},
		{"favorite -150", -150, 1.6666666667},
		{"favorite -200", -200, 1.5},
		{"even money negative form", -100, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmericanToDecimal(tt.american)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAmericanToDecimal_Invalid(t *testing.T) {
	for _, p := range []int{0, 99, -99, 50, -1} {
		_, err := AmericanToDecimal(p)
		assert.Error(t, err, "price %d", p)
	}
}

func TestDecimalToAmerican(t *testing.T) {
	tests := []struct {
		name    string
		decimal float64
		want    int
	}{
		{"even odds", 2.0, 100},
		{"underdog", 2.5, 150},
		{"favorite", 1.5, -200},
		{"short favorite", 1.1, -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecimalToAmerican(tt.decimal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecimalToAmerican_Invalid(t *testing.T) {
	for _, d := range []float64{1.0, 0.5, 0, -2} {
		_, err := DecimalToAmerican(d)
		assert.Error(t, err, "decimal %f", d)
	}
}

// Every legal price survives a round trip through decimal odds.
func TestRoundTrip(t *testing.T) {
	for p := 100; p <= 50000; p++ {
		d, err := AmericanToDecimal(p)
		require.NoError(t, err)
		back, err := DecimalToAmerican(d)
		require.NoError(t, err)
		require.Equal(t, p, back)
	}

	for p := -101; p >= -50000; p-- {
		d, err := AmericanToDecimal(p)
		require.NoError(t, err)
		back, err := DecimalToAmerican(d)
		require.NoError(t, err)
		require.Equal(t, p, back)
	}

	d, err := AmericanToDecimal(-100)
	require.NoError(t, err)
	back, err := DecimalToAmerican(d)
	require.NoError(t, err)
	assert.Equal(t, Canonical(-100), back)
}

func TestRemoveVig_TwoWay(t *testing.T) {
	over, _ := AmericanToDecimal(-110)
	under, _ := AmericanToDecimal(-110)

	fair, err := RemoveVig([]float64{1 / over, 1 / under})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fair[0], 1e-12)
	assert.InDelta(t, 0.5, fair[1], 1e-12)
}

func TestRemoveVig_SumsToOne(t *testing.T) {
	pairs := [][2]int{
		{-110, -110},
		{-150, 125},
		{-250, 200},
		{105, -125},
		{-1000, 600},
		{100, -120},
	}

	for _, pair := range pairs {
		d1, err := AmericanToDecimal(pair[0])
		require.NoError(t, err)
		d2, err := AmericanToDecimal(pair[1])
		require.NoError(t, err)

		fair, err := RemoveVig([]float64{1 / d1, 1 / d2})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, fair[0]+fair[1], 1e-12, "pair %v", pair)
	}
}

func TestRemoveVig_ThreeWay(t *testing.T) {
	fair, err := RemoveVig([]float64{0.45, 0.30, 0.30})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fair[0]+fair[1]+fair[2], 1e-12)
	assert.InDelta(t, 0.45/1.05, fair[0], 1e-12)
}

func TestRemoveVig_Invalid(t *testing.T) {
	_, err := RemoveVig([]float64{0.5})
	assert.Error(t, err)

	_, err = RemoveVig([]float64{0.5, 1.2})
	assert.Error(t, err)
}

func TestEVPercent(t *testing.T) {
	// fair 50%, +110 implies 47.62%
	implied := 1 / 2.1
	assert.InDelta(t, 5.0, EVPercent(0.5, implied), 1e-9)
	assert.Equal(t, 0.0, EVPercent(0.5, 0))
}
