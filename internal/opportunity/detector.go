package opportunity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// Feature names under which each opportunity feed is stored
const (
	FeatureArbitrage = "arbitrage_opportunities"
	FeatureHighEV    = "high_ev_pct"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// namespace for deterministic opportunity ids
	idNamespace = uuid.MustParse("6f1c8a52-3d0e-4b7a-9c55-0e8f2a7d4b11")

	allSides = []models.Side{models.SideOver, models.SideUnder, models.SideHome, models.SideDraw, models.SideAway}
)

// Thresholds are the minimum sizes an opportunity must exceed to be listed
type Thresholds struct {
	MinArbPct decimal.Decimal
	MinEVPct  decimal.Decimal
}

// Store persists the two opportunity feeds
type Store interface {
	UpsertArbitrage(ctx context.Context, opps []*models.ArbitrageOpportunity) error
	UpsertHighEV(ctx context.Context, bets []*models.HighEVBet) error
	RemoveArbitrage(ctx context.Context, ids []string) error
	RemoveHighEV(ctx context.Context, ids []string) error
	ListArbitrage(ctx context.Context, minArbPct decimal.Decimal, limit int) ([]*models.ArbitrageOpportunity, error)
	ListHighEV(ctx context.Context, minEVPct decimal.Decimal, limit int) ([]*models.HighEVBet, error)
}

// Detector turns freshly computed metrics into arbitrage and high-EV entries
type Detector struct {
	store      Store
	thresholds Thresholds
	now        func() time.Time
	logger     zerolog.Logger
}

// NewDetector creates a detector writing to store
func NewDetector(store Store, thresholds Thresholds, logger zerolog.Logger) *Detector {
	return &Detector{
		store:      store,
		thresholds: thresholds,
		now:        time.Now,
		logger:     logger.With().Str("component", "opportunity_detector").Logger(),
	}
}

// Result counts what one evaluation did
type Result struct {
	Arbitrage int
	HighEV    int
	Removed   int
}

// Evaluate re-checks every changed row and drops the opportunities of rows
// that were removed. A row that stops qualifying has its entries removed.
func (d *Detector) Evaluate(ctx context.Context, changed map[string]*models.LineAggregate, removed []string) (Result, error) {
	now := d.now().UTC()

	var arbs []*models.ArbitrageOpportunity
	var bets []*models.HighEVBet
	var dropArb, dropEV []string

	for sid, row := range changed {
		if arb, ok := Arbitrage(row); ok && arb.ArbPct.GreaterThan(d.thresholds.MinArbPct) {
			arb.FoundAt, arb.LastSeen = now, now
			arbs = append(arbs, arb)
		} else {
			dropArb = append(dropArb, ArbitrageID(sid))
		}

		qualifying := make(map[models.Side]bool)
		for _, bet := range HighEV(row) {
			if bet.EVPct.GreaterThan(d.thresholds.MinEVPct) {
				bet.FoundAt, bet.LastSeen = now, now
				bets = append(bets, bet)
				qualifying[bet.Side] = true
			}
		}
		for _, side := range allSides {
			if !qualifying[side] {
				dropEV = append(dropEV, HighEVID(sid, side))
			}
		}
	}

	for _, sid := range removed {
		dropArb = append(dropArb, ArbitrageID(sid))
		for _, side := range allSides {
			dropEV = append(dropEV, HighEVID(sid, side))
		}
	}

	if err := d.store.RemoveArbitrage(ctx, dropArb); err != nil {
		return Result{}, fmt.Errorf("failed to remove arbitrage opportunities: %w", err)
	}
	if err := d.store.RemoveHighEV(ctx, dropEV); err != nil {
		return Result{}, fmt.Errorf("failed to remove high-ev bets: %w", err)
	}
	if err := d.store.UpsertArbitrage(ctx, arbs); err != nil {
		return Result{}, fmt.Errorf("failed to upsert arbitrage opportunities: %w", err)
	}
	if err := d.store.UpsertHighEV(ctx, bets); err != nil {
		return Result{}, fmt.Errorf("failed to upsert high-ev bets: %w", err)
	}

	if len(arbs) > 0 {
		d.logger.Info().
			Int("count", len(arbs)).
			Msg("arbitrage opportunities found")
	}

	return Result{Arbitrage: len(arbs), HighEV: len(bets), Removed: len(removed)}, nil
}

// ArbitrageID is the stable id of the arbitrage entry for sid
func ArbitrageID(sid string) string {
	return uuid.NewSHA1(idNamespace, []byte("arb|"+sid)).String()
}

// HighEVID is the stable id of the high-EV entry for one side of sid
func HighEVID(sid string, side models.Side) string {
	return uuid.NewSHA1(idNamespace, []byte("ev|"+sid+"|"+string(side))).String()
}

// impliedProbability returns 1/decimal for an American price without going
// through a binary float
func impliedProbability(american int) decimal.Decimal {
	if american > 0 {
		return hundred.Div(decimal.NewFromInt(int64(american)).Add(hundred))
	}
	stake := decimal.NewFromInt(int64(-american))
	return stake.Div(stake.Add(hundred))
}

// Arbitrage checks whether the best price on every side of row together
// imply less than 100%. Stakes are percentages of the total outlay that pay
// the same whichever side wins; they always sum to exactly 100.
func Arbitrage(row *models.LineAggregate) (*models.ArbitrageOpportunity, bool) {
	if row == nil || row.Metrics == nil {
		return nil, false
	}
	sides := row.Kind.Sides()

	implied := make([]decimal.Decimal, len(sides))
	sum := decimal.Zero
	for i, side := range sides {
		m := row.Metrics[side]
		if m == nil {
			return nil, false
		}
		implied[i] = impliedProbability(m.BestPrice)
		sum = sum.Add(implied[i])
	}
	if !sum.LessThan(one) {
		return nil, false
	}

	legs := make([]models.ArbLeg, len(sides))
	allocated := decimal.Zero
	for i, side := range sides {
		m := row.Metrics[side]
		var stake decimal.Decimal
		if i == len(sides)-1 {
			stake = hundred.Sub(allocated)
		} else {
			stake = implied[i].Div(sum).Mul(hundred).Round(4)
			allocated = allocated.Add(stake)
		}
		legs[i] = models.ArbLeg{
			Side:     side,
			Book:     m.BestBook,
			Odds:     m.BestPrice,
			StakePct: stake,
			Link:     row.Quotes[side][m.BestBook].Link,
		}
	}

	return &models.ArbitrageOpportunity{
		ID:        ArbitrageID(row.SID),
		SID:       row.SID,
		Key:       row.Key,
		EventID:   row.Event.ID,
		Entity:    row.Entity,
		Player:    row.Player,
		Line:      row.Line,
		ArbPct:    one.Sub(sum).Mul(hundred).Round(4),
		Legs:      legs,
		StartTime: row.Event.StartTime,
	}, true
}

// HighEV returns one candidate per side that has a fair price, priced at the
// side's best book. Callers apply the threshold.
func HighEV(row *models.LineAggregate) []*models.HighEVBet {
	if row == nil || row.Metrics == nil {
		return nil
	}

	var bets []*models.HighEVBet
	for _, side := range row.Kind.Sides() {
		m := row.Metrics[side]
		if m == nil || m.FairOdds == nil || m.EVPct == nil {
			continue
		}
		bets = append(bets, &models.HighEVBet{
			ID:        HighEVID(row.SID, side),
			SID:       row.SID,
			Key:       row.Key,
			EventID:   row.Event.ID,
			Entity:    row.Entity,
			Player:    row.Player,
			Line:      row.Line,
			Side:      side,
			Book:      m.BestBook,
			Odds:      m.BestPrice,
			FairOdds:  *m.FairOdds,
			EVPct:     decimal.NewFromFloat(*m.EVPct).Round(4),
			Link:      row.Quotes[side][m.BestBook].Link,
			StartTime: row.Event.StartTime,
		})
	}
	return bets
}
