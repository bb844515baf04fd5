package pricing

import (
	"sort"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
	"github.com/cypherlabdev/odds-aggregator-service/pkg/oddsmath"
)

// Compute derives per-side metrics for agg from its quotes. Metrics is left
// nil unless every side of the selection's kind has at least one quote.
//
// Books are always visited in id order so floating point sums, and therefore
// content hashes, are identical for identical quote sets.
func Compute(agg *models.LineAggregate) {
	agg.Metrics = nil

	sides := agg.Kind.Sides()
	if len(sides) == 0 {
		return
	}
	for _, side := range sides {
		if len(agg.Quotes[side]) == 0 {
			return
		}
	}

	fair := FairProbabilities(agg)
	metrics := make(map[models.Side]*models.SideMetrics, len(sides))

	for _, side := range sides {
		quotes := sortedQuotes(agg.Quotes[side])

		var sum float64
		best := quotes[0]
		for _, q := range quotes {
			sum += q.Decimal
			if better(q, best) {
				best = q
			}
		}

		avgDecimal := sum / float64(len(quotes))
		avgPrice, err := oddsmath.DecimalToAmerican(avgDecimal)
		if err != nil {
			// every stored quote has decimal > 1, so the mean does too
			continue
		}

		m := &models.SideMetrics{
			AvgPrice:   avgPrice,
			AvgDecimal: avgDecimal,
			BestBook:   best.Book,
			BestPrice:  best.Price,
			ValuePct:   (best.Decimal/avgDecimal - 1.0) * 100.0,
		}

		if p, ok := fair[side]; ok {
			if fairOdds, err := oddsmath.ProbabilityToAmerican(p); err == nil {
				m.FairOdds = &fairOdds
			}

			maxEV := oddsmath.EVPercent(p, 1.0/quotes[0].Decimal)
			for _, q := range quotes[1:] {
				if ev := oddsmath.EVPercent(p, 1.0/q.Decimal); ev > maxEV {
					maxEV = ev
				}
			}
			m.EVPct = &maxEV
		}

		metrics[side] = m
	}

	agg.Metrics = metrics
}

// FairProbabilities returns the de-vigged probability of each side: every book
// quoting all sides is normalized to sum to 1.0 and the results are averaged.
// Books missing a side are excluded. The map is empty when no book quotes
// every side.
func FairProbabilities(agg *models.LineAggregate) map[models.Side]float64 {
	sides := agg.Kind.Sides()
	sums := make(map[models.Side]float64, len(sides))
	counted := 0

	for _, book := range sortedBooks(agg) {
		probs := make([]float64, 0, len(sides))
		for _, side := range sides {
			q, ok := agg.Quotes[side][book]
			if !ok {
				break
			}
			probs = append(probs, 1.0/q.Decimal)
		}
		if len(probs) != len(sides) {
			continue
		}

		fair, err := oddsmath.RemoveVig(probs)
		if err != nil {
			continue
		}
		for i, side := range sides {
			sums[side] += fair[i]
		}
		counted++
	}

	out := make(map[models.Side]float64, len(sides))
	if counted == 0 {
		return out
	}
	for _, side := range sides {
		out[side] = sums[side] / float64(counted)
	}
	return out
}

// better reports whether q pays more than cur. Equal payouts prefer the most
// recently updated quote, then the lower book id.
func better(q, cur models.Quote) bool {
	if q.Decimal != cur.Decimal {
		return q.Decimal > cur.Decimal
	}
	if !q.UpdatedAt.Equal(cur.UpdatedAt) {
		return q.UpdatedAt.After(cur.UpdatedAt)
	}
	return q.Book < cur.Book
}

func sortedQuotes(byBook map[string]models.Quote) []models.Quote {
	quotes := make([]models.Quote, 0, len(byBook))
	for _, q := range byBook {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Book < quotes[j].Book })
	return quotes
}

func sortedBooks(agg *models.LineAggregate) []string {
	set := agg.Books()
	books := make([]string, 0, len(set))
	for book := range set {
		books = append(books, book)
	}
	sort.Strings(books)
	return books
}
